package mailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mailersend/mailersend-go"
)

const sendTimeout = 10 * time.Second

// Mailer delivers through the MailerSend API.
type Mailer struct {
	client  *mailersend.Mailersend
	from    mailersend.From
	Enabled bool
}

func NewMailer(apiKey, fromName, fromEmail string) *Mailer {
	m := &Mailer{
		Enabled: apiKey != "" && fromEmail != "",
		from:    mailersend.From{Name: fromName, Email: fromEmail},
	}
	if m.Enabled {
		m.client = mailersend.NewMailersend(apiKey)
	}
	return m
}

func (m *Mailer) Send(toEmail, toName, subject, text, html string) (string, error) {
	return m.send(mailersend.Recipient{Name: toName, Email: toEmail}, subject, text, html, nil)
}

// SendShareInvite tags the message so invitations can be told apart in the
// MailerSend activity log.
func (m *Mailer) SendShareInvite(inv Invite) error {
	subject, text, body := inv.content()
	_, err := m.send(mailersend.Recipient{Email: inv.ToEmail}, subject, text, body, []string{"share-invite", inv.Role})
	return err
}

func (m *Mailer) send(to mailersend.Recipient, subject, text, html string, tags []string) (string, error) {
	if !m.Enabled {
		return "", errors.New("mailer disabled (missing MAILERSEND_API_KEY or MAILER_FROM)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	msg := m.client.Email.NewMessage()
	msg.SetFrom(m.from)
	msg.SetRecipients([]mailersend.Recipient{to})
	msg.SetSubject(subject)
	if strings.TrimSpace(text) != "" {
		msg.SetText(text)
	}
	if strings.TrimSpace(html) != "" {
		msg.SetHTML(html)
	}
	if len(tags) > 0 {
		msg.SetTags(tags)
	}

	res, err := m.client.Email.Send(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("mailersend: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(res.Body)
		return "", fmt.Errorf("mailersend error: status=%d body=%s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return res.Header.Get("X-Message-Id"), nil
}
