// Package email sends the account emails the identity provider needs:
// currently only address verification.
package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"strings"
)

// Sender delivers a verification link to an address.
type Sender interface {
	SendVerification(ctx context.Context, to, userName, verificationURL string) error
}

var (
	_ Sender = (*SMTPSender)(nil)
	_ Sender = (*LogSender)(nil)
)

// Config holds SMTP settings.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// IsConfigured reports whether enough is set to actually send mail.
func (c Config) IsConfigured() bool {
	return c.Host != "" && c.Port != "" && c.From != ""
}

// sendMailFunc matches smtp.SendMail; tests swap it out.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender sends HTML mail through an SMTP relay.
type SMTPSender struct {
	config   Config
	auth     smtp.Auth
	appName  string
	sendMail sendMailFunc
}

// NewSMTPSender creates a sender. appName is used in the subject and body.
func NewSMTPSender(config Config, appName string) *SMTPSender {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &SMTPSender{
		config:   config,
		auth:     auth,
		appName:  appName,
		sendMail: smtp.SendMail,
	}
}

// SendVerification renders the verification template and sends it.
// net/smtp has no context support, so ctx is only checked up front.
func (s *SMTPSender) SendVerification(ctx context.Context, to, userName, verificationURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := render(verificationTemplate, verificationData{
		AppName:         s.appName,
		UserName:        userName,
		VerificationURL: verificationURL,
	})
	if err != nil {
		return fmt.Errorf("email: render verification template: %w", err)
	}

	msg := s.message(to, fmt.Sprintf("Verify your %s account", s.appName), body)
	addr := s.config.Host + ":" + s.config.Port
	if err := s.sendMail(addr, s.auth, s.config.From, []string{to}, msg); err != nil {
		return fmt.Errorf("email: send to %s: %w", to, err)
	}
	return nil
}

func (s *SMTPSender) message(to, subject, htmlBody string) []byte {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	msg.WriteString(strings.ReplaceAll(htmlBody, "\n", "\r\n"))
	return msg.Bytes()
}

// LogSender writes the link to the log instead of sending mail. It is what
// the server uses when SMTP is not configured (local development).
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendVerification(ctx context.Context, to, userName, verificationURL string) error {
	s.logger.InfoContext(ctx, "verification email (smtp not configured)",
		"to", to,
		"user_name", userName,
		"url", verificationURL,
	)
	return nil
}

type verificationData struct {
	AppName         string
	UserName        string
	VerificationURL string
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var verificationTemplate = template.Must(template.New("verification").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Verify your {{.AppName}} account</title></head>
<body style="font-family: sans-serif; line-height: 1.6; max-width: 600px; margin: 0 auto;">
<h2>Hi {{.UserName}},</h2>
<p>Please confirm your email address to finish setting up your {{.AppName}} account.</p>
<p><a href="{{.VerificationURL}}">Verify email address</a></p>
<p>Or paste this link into your browser:<br>{{.VerificationURL}}</p>
<p>If you didn't create an account you can ignore this message.</p>
</body>
</html>
`))
