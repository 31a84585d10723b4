package mailer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

// Config holds the SMTP relay settings
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SendFunc delivers one composed message
type SendFunc func(ctx context.Context, msg *mail.Msg) error

// SMTPMailer sends plain-text mail through an SMTP relay
type SMTPMailer struct {
	from string
	send SendFunc
}

// NewSMTPMailer creates a new SMTP mailer. A client is dialed per message
// since a mail.Client holds a single connection.
func NewSMTPMailer(cfg Config) (*SMTPMailer, error) {
	if _, err := NewClient(cfg); err != nil {
		return nil, err
	}

	return NewSMTPMailerWithSender(cfg, func(ctx context.Context, msg *mail.Msg) error {
		client, err := NewClient(cfg)
		if err != nil {
			return err
		}
		return client.DialAndSendWithContext(ctx, msg)
	}), nil
}

// NewSMTPMailerWithSender replaces the transport, used by tests
func NewSMTPMailerWithSender(cfg Config, send SendFunc) *SMTPMailer {
	return &SMTPMailer{from: cfg.From, send: send}
}

// NewClient builds a client for the relay. Auth is only negotiated when a
// username is configured, and TLS is used when the relay offers it.
func NewClient(cfg Config) (*mail.Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host not configured")
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(10 * time.Second),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}
	return client, nil
}

// Send delivers one message
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("invalid header value")
	}

	msg, err := BuildMessage(m.from, to, subject, body)
	if err != nil {
		return err
	}

	if err := m.send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// BuildMessage composes a plain-text message with date and message id set
func BuildMessage(from, to, subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", from, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}
