package notify

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/zhouzirui/z-feedback/backend/internal/model/feedback"
)

// SMTPConfig describes the submission server and the fixed recipient.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
	Timeout  time.Duration
}

// SMTPMailer delivers envelopes over SMTP with mandatory STARTTLS.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer returns a mailer for cfg.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// Deliver sends the envelope in a single connection attempt.
func (m *SMTPMailer) Deliver(ctx context.Context, envelope feedback.Envelope) error {
	msg, err := m.buildMessage(envelope)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.Username),
		mail.WithPassword(m.cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if m.cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(m.cfg.Timeout))
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail via %s:%d: %w", m.cfg.Host, m.cfg.Port, err)
	}
	return nil
}

func (m *SMTPMailer) buildMessage(envelope feedback.Envelope) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", m.cfg.From, err)
	}
	if err := msg.To(m.cfg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", m.cfg.To, err)
	}
	msg.Subject(envelope.Subject)
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, envelope.Body)

	for _, item := range envelope.Attachments {
		if err := msg.AttachReader(item.Filename, bytes.NewReader(item.Data)); err != nil {
			return nil, fmt.Errorf("attach %s: %w", item.Filename, err)
		}
	}
	return msg, nil
}
