package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gridlens/ami-telemetry-worker/internal/backpressure"
	"github.com/gridlens/ami-telemetry-worker/internal/config"
	"github.com/gridlens/ami-telemetry-worker/internal/emulator"
	"github.com/gridlens/ami-telemetry-worker/internal/interval"
)

// Run statuses retained for observability.
const (
	StatusOK                  = "ok"
	StatusFailed              = "failed"
	StatusSkippedBackpressure = "skipped-backpressure"
)

// ScalePublisher triggers one scale-mode publish.
type ScalePublisher interface {
	PublishScale(ctx context.Context, req emulator.ScaleRequest) (emulator.ScaleResult, error)
}

// RunResult is the outcome of the most recent scheduler attempt.
type RunResult struct {
	Status       string    `json:"status"`
	Interval     time.Time `json:"interval"`
	JobsEnqueued int       `json:"jobs_enqueued,omitempty"`
	QueueDepth   int       `json:"queue_depth,omitempty"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

// Status is a snapshot of the scheduler for the status endpoint.
type Status struct {
	Enabled         bool                   `json:"enabled"`
	Config          config.SchedulerConfig `json:"config"`
	LastInterval    *time.Time             `json:"last_interval,omitempty"`
	LastResult      *RunResult             `json:"last_result,omitempty"`
	CurrentInterval time.Time              `json:"current_interval"`
	NextDue         time.Time              `json:"next_due"`
}

// Scheduler is the always-on control loop that fires one scale publish per
// aligned interval boundary.
type Scheduler struct {
	cfg    config.SchedulerConfig
	pub    ScalePublisher
	logger *zap.Logger
	now    func() time.Time

	// inFlight guards against overlapping runs with a compare-and-swap
	// rather than a plain boolean.
	inFlight atomic.Bool

	mu           sync.Mutex
	running      bool
	cancel       context.CancelFunc
	done         chan struct{}
	lastInterval time.Time
	lastResult   *RunResult
}

// NewScheduler creates a scheduler around the given publisher.
func NewScheduler(cfg config.SchedulerConfig, pub ScalePublisher, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		pub:    pub,
		logger: logger,
		now:    time.Now,
	}
}

// Start launches the polling loop. Starting an already-running scheduler is
// a no-op. The first check fires immediately rather than waiting a full
// cadence.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Info("scheduler already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	cadence := time.Duration(s.cfg.CheckIntervalSeconds) * time.Second
	s.logger.Info("starting auto scheduler",
		zap.Duration("cadence", cadence),
		zap.String("tenant_id", s.cfg.TenantID),
		zap.Int("meter_count", s.cfg.MeterCount),
		zap.Int("feeder_count", s.cfg.FeederCount),
		zap.Int("interval_minutes", s.cfg.IntervalMinutes),
	)

	go func() {
		defer close(s.done)
		s.RunOnce(ctx)

		ticker := time.NewTicker(cadence)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit. Stopping a stopped
// scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("auto scheduler stopped")
}

// RunOnce performs a single tick: fire exactly one scale publish if the
// aligned boundary advanced, no run is in progress, and the queue is not
// saturated. Tick errors are recorded, never propagated; the loop always
// proceeds to the next tick.
func (s *Scheduler) RunOnce(ctx context.Context) {
	boundary := interval.Align(s.now(), s.cfg.IntervalMinutes)

	s.mu.Lock()
	serviced := s.lastInterval.Equal(boundary)
	s.mu.Unlock()
	if serviced {
		return
	}

	if !s.inFlight.CompareAndSwap(false, true) {
		s.logger.Info("skipping tick, previous run still in progress",
			zap.Time("boundary", boundary))
		return
	}
	defer s.inFlight.Store(false)

	s.logger.Info("new aligned interval detected", zap.Time("boundary", boundary))

	result, err := s.pub.PublishScale(ctx, emulator.ScaleRequest{
		TenantID:        s.cfg.TenantID,
		IntervalMinutes: s.cfg.IntervalMinutes,
		BatchSize:       s.cfg.BatchSize,
		MeterCount:      s.cfg.MeterCount,
		FeederCount:     s.cfg.FeederCount,
		DryRun:          false,
	})

	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	var bp *backpressure.Error
	switch {
	case err == nil:
		// Only a successful publish services the boundary; skips and
		// failures retry on the next tick.
		s.lastInterval = boundary
		s.lastResult = &RunResult{
			Status:       StatusOK,
			Interval:     boundary,
			JobsEnqueued: result.Batches,
			At:           now,
		}
		s.logger.Info("auto publish complete",
			zap.Time("boundary", boundary),
			zap.Int("jobs_enqueued", result.Batches),
			zap.Int("queued", result.Queued),
		)
	case errors.As(err, &bp):
		s.lastResult = &RunResult{
			Status:     StatusSkippedBackpressure,
			Interval:   boundary,
			QueueDepth: bp.Waiting + bp.Delayed,
			At:         now,
		}
		s.logger.Warn("auto publish skipped due to backpressure",
			zap.Time("boundary", boundary),
			zap.Int("waiting", bp.Waiting),
			zap.Int("delayed", bp.Delayed),
			zap.Int("limit", bp.Limit),
		)
	default:
		s.lastResult = &RunResult{
			Status:   StatusFailed,
			Interval: boundary,
			Error:    err.Error(),
			At:       now,
		}
		s.logger.Error("auto publish failed",
			zap.Time("boundary", boundary),
			zap.Error(err),
		)
	}
}

// GetStatus returns the last-run metadata and the next due boundary.
func (s *Scheduler) GetStatus() Status {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Enabled:         s.running,
		Config:          s.cfg,
		CurrentInterval: interval.Align(now, s.cfg.IntervalMinutes),
		NextDue:         interval.Next(now, s.cfg.IntervalMinutes),
		LastResult:      s.lastResult,
	}
	if !s.lastInterval.IsZero() {
		t := s.lastInterval
		st.LastInterval = &t
	}
	return st
}
