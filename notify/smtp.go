package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/MrEthical07/handshake"
)

// SMTPConfig configures an [SMTPNotifier].
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// Sender is the part of gomail.Dialer the notifier needs.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPNotifier delivers messages over SMTP. Each Send dials a fresh
// connection, so a stuck relay only ever holds one request.
type SMTPNotifier struct {
	from     string
	fromName string
	sender   Sender
	logger   *zap.Logger
}

var _ handshake.Notifier = (*SMTPNotifier)(nil)

// NewSMTPNotifier builds a notifier dialing cfg.Host.
func NewSMTPNotifier(cfg SMTPConfig, logger *zap.Logger) (*SMTPNotifier, error) {
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, errors.New("smtp host and port are required")
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	if from == "" {
		return nil, errors.New("smtp from address is required")
	}

	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return NewSMTPNotifierWithSender(from, cfg.FromName, dialer, logger), nil
}

// NewSMTPNotifierWithSender builds a notifier on an existing sender.
func NewSMTPNotifierWithSender(from, fromName string, sender Sender, logger *zap.Logger) *SMTPNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTPNotifier{
		from:     from,
		fromName: fromName,
		sender:   sender,
		logger:   logger.Named("smtp"),
	}
}

// Send implements handshake.Notifier. It returns when the relay accepted
// the message or ctx is done, whichever comes first.
func (n *SMTPNotifier) Send(ctx context.Context, msg handshake.Message) error {
	if msg.To == "" {
		return errors.New("smtp: message has no recipient")
	}

	m := gomail.NewMessage()
	if n.fromName != "" {
		m.SetAddressHeader("From", n.from, n.fromName)
	} else {
		m.SetHeader("From", n.from)
	}
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)

	switch {
	case msg.Text != "" && msg.HTML != "":
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	case msg.HTML != "":
		m.SetBody("text/html", msg.HTML)
	default:
		m.SetBody("text/plain", msg.Text)
	}

	done := make(chan error, 1)
	go func() {
		done <- n.sender.DialAndSend(m)
	}()

	select {
	case err := <-done:
		if err != nil {
			n.logger.Warn("smtp delivery failed", zap.Error(err))
			return fmt.Errorf("smtp: %w", err)
		}
		return nil
	case <-ctx.Done():
		n.logger.Warn("smtp delivery abandoned", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}
