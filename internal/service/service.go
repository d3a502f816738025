package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gridlens/ami-telemetry-worker/internal/anomaly"
	"github.com/gridlens/ami-telemetry-worker/internal/config"
	"github.com/gridlens/ami-telemetry-worker/internal/db"
	"github.com/gridlens/ami-telemetry-worker/internal/emulator"
	"github.com/gridlens/ami-telemetry-worker/internal/generator"
	"github.com/gridlens/ami-telemetry-worker/internal/mq"
	"github.com/gridlens/ami-telemetry-worker/internal/scheduler"
)

// ErrDuplicateActiveEvent is returned when an event of the requested type is
// already active on the feeder. No duplicate event or work order is created.
var ErrDuplicateActiveEvent = errors.New("an active event of this type already exists for the feeder")

// Store is the slice of the repository the core operations need.
type Store interface {
	HasActiveEvent(ctx context.Context, tenantID, feederID string, eventType db.EventType, now time.Time) (bool, error)
	InsertEvent(ctx context.Context, ev *db.DisruptionEvent) (bool, error)
	InsertWorkOrder(ctx context.Context, wo *db.WorkOrder) error
	ActiveEvents(ctx context.Context, tenantID string, now time.Time) ([]db.DisruptionEvent, error)
	LastIngestTimestamp(ctx context.Context, tenantID string) (*time.Time, error)
	PurgeReadings(ctx context.Context, tenantID string) (int64, error)
	DeactivateActiveEvents(ctx context.Context, tenantID string) (int64, error)
}

// DepthInspector reports queue depth; StatsSource reports consumer counters.
type DepthInspector interface {
	Depth(ctx context.Context) (waiting int, delayed int, err error)
}

// StatsSource reports consumer-side job counters.
type StatsSource interface {
	Stats() mq.Stats
}

// QueueStatus combines broker depth with consumer counters.
type QueueStatus struct {
	Waiting   int   `json:"waiting"`
	Delayed   int   `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// ResetResult reports what a demo reset touched.
type ResetResult struct {
	EventsDeactivated int64 `json:"events_deactivated"`
	ReadingsPurged    int64 `json:"readings_purged"`
}

// Service is the core surface the HTTP layer calls into.
type Service struct {
	emu    *emulator.Emulator
	sched  *scheduler.Scheduler
	store  Store
	depth  DepthInspector
	stats  StatsSource
	noise  generator.NoiseSource
	cfg    *config.Config
	logger *zap.Logger
	now    func() time.Time
}

// NewService wires the core operations together.
func NewService(
	emu *emulator.Emulator,
	sched *scheduler.Scheduler,
	store Store,
	depth DepthInspector,
	stats StatsSource,
	noise generator.NoiseSource,
	cfg *config.Config,
	logger *zap.Logger,
) *Service {
	return &Service{
		emu:    emu,
		sched:  sched,
		store:  store,
		depth:  depth,
		stats:  stats,
		noise:  noise,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// PublishOnce triggers one normal publish cycle for a tenant.
func (s *Service) PublishOnce(ctx context.Context, tenantID string, intervalMinutes, batchSize int) (emulator.PublishResult, error) {
	if intervalMinutes <= 0 {
		intervalMinutes = s.cfg.Emulator.IntervalMinutes
	}
	if batchSize <= 0 {
		batchSize = s.cfg.Emulator.BatchSize
	}
	return s.emu.PublishOnce(ctx, tenantID, intervalMinutes, batchSize)
}

// PublishScale triggers (or previews, with DryRun) a scale-mode publish.
// A backpressure refusal surfaces as a *backpressure.Error.
func (s *Service) PublishScale(ctx context.Context, req emulator.ScaleRequest) (emulator.ScaleResult, error) {
	if req.IntervalMinutes <= 0 {
		req.IntervalMinutes = s.cfg.Emulator.IntervalMinutes
	}
	return s.emu.PublishScale(ctx, req)
}

// StartAutoScheduler turns the always-on publish loop on.
func (s *Service) StartAutoScheduler() {
	s.sched.Start()
}

// StopAutoScheduler turns the always-on publish loop off.
func (s *Service) StopAutoScheduler() {
	s.sched.Stop()
}

// AutoSchedulerStatus returns last-run metadata and the next due boundary.
func (s *Service) AutoSchedulerStatus() scheduler.Status {
	return s.sched.GetStatus()
}

// CreateEvent injects an operator-created disruption event and derives its
// work order. Severity is clamped into [0,1]; duration defaults to the
// configured event lifespan.
func (s *Service) CreateEvent(ctx context.Context, tenantID, feederID, eventType string, durationMinutes int, severity float64) (*db.DisruptionEvent, error) {
	typ, err := db.ParseEventType(eventType)
	if err != nil {
		return nil, err
	}
	if tenantID == "" || feederID == "" {
		return nil, fmt.Errorf("tenant id and feeder id are required")
	}

	if severity < 0 {
		severity = 0
	} else if severity > 1 {
		severity = 1
	}
	if durationMinutes <= 0 {
		durationMinutes = s.cfg.Anomaly.EventLifespanMinutes
	}

	now := s.now().UTC()

	exists, err := s.store.HasActiveEvent(ctx, tenantID, feederID, typ, now)
	if err != nil {
		return nil, fmt.Errorf("failed to check active event: %w", err)
	}
	if exists {
		return nil, ErrDuplicateActiveEvent
	}

	ev := &db.DisruptionEvent{
		ID:        uuid.New(),
		TenantID:  tenantID,
		FeederID:  feederID,
		Type:      typ,
		Severity:  severity,
		StartsAt:  now,
		EndsAt:    now.Add(time.Duration(durationMinutes) * time.Minute),
		Active:    true,
		CreatedAt: now,
	}

	inserted, err := s.store.InsertEvent(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}
	if !inserted {
		return nil, ErrDuplicateActiveEvent
	}

	summary := fmt.Sprintf("Operator-injected %s on feeder %s (severity %.2f).", typ, feederID, severity)
	wo := anomaly.DeriveWorkOrder(ev, summary, s.noise, now)
	if err := s.store.InsertWorkOrder(ctx, wo); err != nil {
		return nil, fmt.Errorf("failed to insert work order: %w", err)
	}

	s.logger.Info("event injected",
		zap.String("tenant_id", tenantID),
		zap.String("feeder_id", feederID),
		zap.String("event_type", string(typ)),
		zap.Float64("severity", severity),
		zap.Int("duration_minutes", durationMinutes),
	)

	return ev, nil
}

// ActiveEvents lists a tenant's currently active, unexpired events.
func (s *Service) ActiveEvents(ctx context.Context, tenantID string) ([]db.DisruptionEvent, error) {
	return s.store.ActiveEvents(ctx, tenantID, s.now().UTC())
}

// GetQueueStatus reports broker depth and consumer counters.
func (s *Service) GetQueueStatus(ctx context.Context) (QueueStatus, error) {
	waiting, delayed, err := s.depth.Depth(ctx)
	if err != nil {
		return QueueStatus{}, err
	}
	counters := s.stats.Stats()
	return QueueStatus{
		Waiting:   waiting,
		Delayed:   delayed,
		Active:    counters.Active,
		Completed: counters.Completed,
		Failed:    counters.Failed,
	}, nil
}

// LastIngestTimestamp returns when the tenant's readings were last written.
func (s *Service) LastIngestTimestamp(ctx context.Context, tenantID string) (*time.Time, error) {
	return s.store.LastIngestTimestamp(ctx, tenantID)
}

// ResetDemo deactivates the tenant's active events and optionally purges its
// readings, returning the system to a clean-slate demo state.
func (s *Service) ResetDemo(ctx context.Context, tenantID string, clearReads bool) (ResetResult, error) {
	var result ResetResult

	deactivated, err := s.store.DeactivateActiveEvents(ctx, tenantID)
	if err != nil {
		return result, fmt.Errorf("failed to deactivate events: %w", err)
	}
	result.EventsDeactivated = deactivated

	if clearReads {
		purged, err := s.store.PurgeReadings(ctx, tenantID)
		if err != nil {
			return result, fmt.Errorf("failed to purge readings: %w", err)
		}
		result.ReadingsPurged = purged
	}

	s.logger.Info("demo reset",
		zap.String("tenant_id", tenantID),
		zap.Bool("clear_reads", clearReads),
		zap.Int64("events_deactivated", result.EventsDeactivated),
		zap.Int64("readings_purged", result.ReadingsPurged),
	)

	return result, nil
}
