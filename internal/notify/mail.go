package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Email is one outgoing HTML message.
type Email struct {
	To      string
	Subject string
	HTML    string
}

// Mailer sends transactional email.
type Mailer interface {
	Send(ctx context.Context, msg Email) error
}

// ResendEndpoint is the Resend send-email API.
const ResendEndpoint = "https://api.resend.com/emails"

// ResendMailer sends through the Resend HTTP API.
type ResendMailer struct {
	apiKey   string
	from     string
	endpoint string
	http     *http.Client
}

// NewResendMailer returns a mailer for apiKey sending as from.
func NewResendMailer(apiKey, from string) *ResendMailer {
	return &ResendMailer{apiKey: apiKey, from: from, endpoint: ResendEndpoint, http: &http.Client{Timeout: 10 * time.Second}}
}

func (m *ResendMailer) Send(ctx context.Context, msg Email) error {
	body, err := json.Marshal(map[string]any{
		"from":    m.from,
		"to":      []string{msg.To},
		"subject": msg.Subject,
		"html":    msg.HTML,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("resend: status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}

// SMTPMailer sends through an SMTP relay with gomail.
type SMTPMailer struct {
	dialer *gomail.Dialer
	sender string
}

// NewSMTPMailer returns a mailer for host:port authenticating as user.
func NewSMTPMailer(host string, port int, user, pass, sender string) *SMTPMailer {
	if sender == "" {
		sender = user
	}
	return &SMTPMailer{dialer: gomail.NewDialer(host, port, user, pass), sender: sender}
}

func (m *SMTPMailer) Send(_ context.Context, msg Email) error {
	gm := gomail.NewMessage()
	gm.SetHeader("From", m.sender)
	gm.SetHeader("To", msg.To)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetBody("text/html", msg.HTML)
	if err := m.dialer.DialAndSend(gm); err != nil {
		return fmt.Errorf("smtp: %w", err)
	}
	return nil
}

// LogMailer only logs; it is used when no mail provider is configured.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, msg Email) error {
	zap.L().Info("email not sent, no mail provider configured",
		zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}

// PasswordResetEmail renders the reset message for link.
func PasswordResetEmail(to, link string) Email {
	return Email{
		To:      to,
		Subject: "Reset your M-Pesa Vault password",
		HTML: fmt.Sprintf(`<p>A password reset was requested for your account.</p>
<p><a href="%s">Reset your password</a></p>
<p>This link expires in 1 hour. If you did not request it, ignore this email.</p>`, link),
	}
}
