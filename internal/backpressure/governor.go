package backpressure

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// DepthInspector reports the durable queue's pending workload.
type DepthInspector interface {
	Depth(ctx context.Context) (waiting int, delayed int, err error)
}

// Error is the typed refusal returned when the queue is over its safe depth.
// It is an expected rejection, not a validation failure; callers retry later.
type Error struct {
	Waiting int
	Delayed int
	Limit   int
}

func (e *Error) Error() string {
	return fmt.Sprintf("backpressure: queue depth %d (waiting %d + delayed %d) exceeds limit %d",
		e.Waiting+e.Delayed, e.Waiting, e.Delayed, e.Limit)
}

// Is reports whether err is a backpressure refusal.
func Is(err error) bool {
	var bp *Error
	return errors.As(err, &bp)
}

// Governor refuses new publish work when the queue is saturated.
type Governor struct {
	inspector DepthInspector
	limit     int
	logger    *zap.Logger
}

// NewGovernor creates a governor with the given queue depth limit.
func NewGovernor(inspector DepthInspector, limit int, logger *zap.Logger) *Governor {
	return &Governor{inspector: inspector, limit: limit, logger: logger}
}

// Limit returns the configured queue depth limit.
func (g *Governor) Limit() int { return g.limit }

// Check queries current queue depth and returns a *Error when waiting plus
// delayed jobs exceed the limit. Inspection failures are real errors, not
// backpressure.
func (g *Governor) Check(ctx context.Context) error {
	waiting, delayed, err := g.inspector.Depth(ctx)
	if err != nil {
		return fmt.Errorf("failed to inspect queue depth: %w", err)
	}

	if waiting+delayed > g.limit {
		g.logger.Warn("queue saturated, refusing publish",
			zap.Int("waiting", waiting),
			zap.Int("delayed", delayed),
			zap.Int("limit", g.limit),
		)
		return &Error{Waiting: waiting, Delayed: delayed, Limit: g.limit}
	}

	return nil
}
