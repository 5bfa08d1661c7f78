package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/vango-dev/pagecycle/pkg/cycle"
)

// Logging writes one log line per request cycle. Successful cycles log at
// Debug unless they are slower than SlowThreshold; cycles that end in an
// error log at Warn. Faults themselves are logged by the cycle.
type Logging struct {
	logger        *slog.Logger
	slowThreshold time.Duration
}

// NewLogging creates a logging listener. A zero threshold disables slow
// request logging.
func NewLogging(logger *slog.Logger, slowThreshold time.Duration) *Logging {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logging{
		logger:        logger.With("component", "access"),
		slowThreshold: slowThreshold,
	}
}

// OnBeginRequest implements cycle.Listener.
func (l *Logging) OnBeginRequest(ctx context.Context, _ *cycle.Cycle) context.Context {
	return ctx
}

// OnStep implements cycle.Listener.
func (l *Logging) OnStep(*cycle.Cycle, cycle.Step) {}

// OnEndRequest implements cycle.Listener.
func (l *Logging) OnEndRequest(c *cycle.Cycle, err error) {
	elapsed := time.Since(c.StartedAt())
	attrs := []any{
		"cycle", c.ID(),
		"target", TargetKind(c.Target()),
		"duration", elapsed,
	}
	if req := c.Request(); req != nil && req.URL() != nil {
		attrs = append(attrs, "method", req.Method(), "path", req.URL().Path)
	}
	if status := c.Response().Status(); status != 0 {
		attrs = append(attrs, "status", status)
	}

	switch {
	case err != nil:
		l.logger.Warn("request failed", append(attrs, "error", err)...)
	case l.slowThreshold > 0 && elapsed > l.slowThreshold:
		l.logger.Info("slow request", attrs...)
	default:
		l.logger.Debug("request", attrs...)
	}
}
