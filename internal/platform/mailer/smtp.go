package mailer

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"mime"
	"net/smtp"
	"strings"

	"github.com/google/uuid"
)

// implicitTLSPort is the submission port that expects TLS from the first byte.
const implicitTLSPort = 465

type SMTPMailer struct {
	Host   string
	Port   int
	From   string
	User   string
	Pass   string
	UseTLS bool // false for a local Mailpit on 1025
}

func NewSMTPMailer(host string, port int, from string, user string, pass string, useTLS bool) *SMTPMailer {
	return &SMTPMailer{
		Host:   strings.TrimSpace(host),
		Port:   port,
		From:   strings.TrimSpace(from),
		User:   strings.TrimSpace(user),
		Pass:   strings.TrimSpace(pass),
		UseTLS: useTLS,
	}
}

func (s *SMTPMailer) Send(toEmail, toName, subject, text, html string) (string, error) {
	toEmail = strings.TrimSpace(toEmail)
	if toEmail == "" {
		return "", fmt.Errorf("empty recipient email")
	}

	id := uuid.NewString()
	msg := compose(s.From, toEmail, toName, subject, text, html, id)
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)

	var auth smtp.Auth
	if s.User != "" {
		auth = smtp.PlainAuth("", s.User, s.Pass, s.Host)
	}

	if s.UseTLS && s.Port == implicitTLSPort {
		return id, s.sendImplicitTLS(addr, auth, toEmail, msg)
	}
	// SendMail upgrades with STARTTLS whenever the server offers it.
	if err := smtp.SendMail(addr, auth, s.From, []string{toEmail}, msg); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}
	return id, nil
}

func (s *SMTPMailer) sendImplicitTLS(addr string, auth smtp.Auth, to string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: s.Host})
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	defer conn.Close()

	c, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		return err
	}
	defer c.Quit()

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(s.From); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	return w.Close()
}

func (s *SMTPMailer) SendShareInvite(inv Invite) error {
	subject, text, body := inv.content()
	_, err := s.Send(inv.ToEmail, "", subject, text, body)
	return err
}

// compose builds a multipart/alternative message. Header values are Q-encoded so
// holiday names outside ASCII survive.
func compose(from, to, toName, subject, text, html, id string) []byte {
	boundary := "wl-" + strings.ReplaceAll(id, "-", "")
	rcpt := to
	if toName != "" {
		rcpt = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", toName), to)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", rcpt)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&buf, "Message-ID: <%s@wanderlust>\r\n", id)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", boundary)

	for _, part := range []struct{ kind, body string }{{"plain", text}, {"html", html}} {
		if strings.TrimSpace(part.body) == "" {
			continue
		}
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: text/%s; charset=utf-8\r\n\r\n", part.kind)
		fmt.Fprintf(&buf, "%s\r\n\r\n", part.body)
	}
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes()
}
