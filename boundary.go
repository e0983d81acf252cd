package handshake

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SessionBoundary tears down any session that exists on the inbound request
// before a login is complete. Implementations must be idempotent.
type SessionBoundary interface {
	Teardown(ctx context.Context) error
}

// SessionBoundaryFunc adapts a function to [SessionBoundary].
type SessionBoundaryFunc func(ctx context.Context) error

// Teardown calls f.
func (f SessionBoundaryFunc) Teardown(ctx context.Context) error {
	return f(ctx)
}

const boundaryTeardownTimeout = 5 * time.Second

// teardownBoundary runs the guard on a context that survives request
// cancellation. A nil boundary means the caller holds no session.
func (e *Engine) teardownBoundary(ctx context.Context, boundary SessionBoundary, reason string) error {
	if boundary == nil {
		return nil
	}

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), boundaryTeardownTimeout)
	defer cancel()

	if err := boundary.Teardown(tctx); err != nil {
		e.logger.Error("provisional session teardown failed", zap.String("reason", reason), zap.Error(err))
		e.emitAudit(ctx, auditEventSessionTeardown, false, auditSubject{}, ErrSessionTeardownFailed, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return fmt.Errorf("%w: %v", ErrSessionTeardownFailed, err)
	}

	e.metricInc(MetricSessionTeardown)
	e.emitAudit(ctx, auditEventSessionTeardown, true, auditSubject{}, nil, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return nil
}
