package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/MrEthical07/handshake"
)

// ErrLogNotifierInProduction is returned when a log notifier is requested
// for a production deployment.
var ErrLogNotifierInProduction = errors.New("log notifier is not allowed in production")

// LogNotifier writes messages to the log instead of delivering them. It is
// meant for local development only.
type LogNotifier struct {
	logger *zap.Logger
}

var _ handshake.Notifier = (*LogNotifier)(nil)

// NewLogNotifier returns a LogNotifier, or ErrLogNotifierInProduction.
func NewLogNotifier(logger *zap.Logger, production bool) (*LogNotifier, error) {
	if production {
		return nil, ErrLogNotifierInProduction
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify")}, nil
}

// Send implements handshake.Notifier.
func (n *LogNotifier) Send(ctx context.Context, msg handshake.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.logger.Info("message not delivered, logged instead",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Text),
	)
	return nil
}
