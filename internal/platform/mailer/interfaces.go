package mailer

import (
	"fmt"
	"html"

	"github.com/diagnosis/wanderlust/pkg/config"
	"github.com/diagnosis/wanderlust/pkg/logger"
)

type Service interface {
	Send(toEmail, toName, subject, text, html string) (string, error)
	SendShareInvite(inv Invite) error
}

// Invite tells a collaborator a holiday was shared with them.
type Invite struct {
	ToEmail     string
	HolidayName string
	Inviter     string
	Role        string
	Link        string
}

func (inv Invite) content() (subject, text, body string) {
	inviter := inv.Inviter
	if inviter == "" {
		inviter = "Someone"
	}
	subject = fmt.Sprintf("%s shared \"%s\" with you", inviter, inv.HolidayName)
	text = fmt.Sprintf("%s added you to the holiday \"%s\" as %s.\nOpen it here: %s",
		inviter, inv.HolidayName, inv.Role, inv.Link)
	body = fmt.Sprintf(`<p>%s added you to the holiday <b>%s</b> as %s.</p><p><a href="%s">Open Wanderlust</a></p>`,
		html.EscapeString(inviter), html.EscapeString(inv.HolidayName), html.EscapeString(inv.Role), html.EscapeString(inv.Link))
	return subject, text, body
}

// New picks MailerSend when an API key is configured, then SMTP, and otherwise a
// mailer that only logs.
func New(cfg config.EmailConfig) Service {
	switch {
	case cfg.MailerSendKey != "" && cfg.FromEmail != "":
		return NewMailer(cfg.MailerSendKey, cfg.FromName, cfg.FromEmail)
	case cfg.SMTPHost != "":
		return NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPUseTLS)
	default:
		return DevMailer{}
	}
}

// DevMailer logs messages instead of delivering them.
type DevMailer struct{}

func (DevMailer) Send(toEmail, _, subject, text, _ string) (string, error) {
	logger.Info("dev mail", "to", toEmail, "subject", subject, "text", text)
	return "", nil
}

func (d DevMailer) SendShareInvite(inv Invite) error {
	subject, text, body := inv.content()
	_, err := d.Send(inv.ToEmail, "", subject, text, body)
	return err
}
