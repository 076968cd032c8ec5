package call

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pulsechat-backend/pkg/constants"
	"pulsechat-backend/pkg/logger"
	"pulsechat-backend/pkg/metrics"
)

// Option configures a call machine
type Option func(*machineOptions)

type machineOptions struct {
	now     func() time.Time
	metrics *metrics.Metrics
	timeout time.Duration
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(o *machineOptions) { o.now = now }
}

// WithMetrics records transitions and persistence failures
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *machineOptions) { o.metrics = m }
}

// WithStoreTimeout bounds each store call
func WithStoreTimeout(d time.Duration) Option {
	return func(o *machineOptions) { o.timeout = d }
}

func buildOptions(opts []Option) machineOptions {
	o := machineOptions{
		now:     time.Now,
		timeout: constants.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o machineOptions) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.timeout)
}

// persistFailed logs and counts a store error. Signaling continues regardless.
func (o machineOptions) persistFailed(kind, operation string, callID uuid.UUID, err error) {
	o.metrics.RecordCallPersistError(kind, operation)
	logger.Warn("Call record write failed, continuing without it",
		zap.String("kind", kind),
		zap.String("operation", operation),
		zap.String("call_id", callID.String()),
		zap.Error(err))
}
