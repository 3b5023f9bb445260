package email

import (
	"fmt"
	"net/smtp"

	"github.com/google/uuid"
)

// Mailer dispatches notification mail. SendPasswordReset returns the message
// id of the accepted delivery; an empty id means the message was not handed
// off.
type Mailer interface {
	SendPasswordReset(to, token string) (string, error)
}

// SMTPMailer sends mail through a plain SMTP relay.
type SMTPMailer struct {
	host     string
	port     string
	user     string
	password string
	from     string
	baseURL  string
}

func NewSMTPMailer(host, port, user, password, from, baseURL string) *SMTPMailer {
	return &SMTPMailer{
		host:     host,
		port:     port,
		user:     user,
		password: password,
		from:     from,
		baseURL:  baseURL,
	}
}

func (e *SMTPMailer) SendPasswordReset(to, token string) (string, error) {
	messageID := fmt.Sprintf("<%s@inkpress>", uuid.New().String())

	resetLink := fmt.Sprintf("%s/reset-password/%s", e.baseURL, token)

	subject := "Password Reset"
	body := fmt.Sprintf(`Hello!

A password reset was requested for your account.

Click this link to reset your password:

%s

If you did not request a reset, ignore this email.
`, resetLink)

	message := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"Message-ID: %s\r\n"+
		"\r\n"+
		"%s\r\n", e.from, to, subject, messageID, body)

	auth := smtp.PlainAuth("", e.user, e.password, e.host)
	addr := fmt.Sprintf("%s:%s", e.host, e.port)

	if err := smtp.SendMail(addr, auth, e.from, []string{to}, []byte(message)); err != nil {
		return "", fmt.Errorf("sending reset email: %w", err)
	}

	return messageID, nil
}
