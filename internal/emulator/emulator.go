package emulator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gridlens/ami-telemetry-worker/internal/backpressure"
	"github.com/gridlens/ami-telemetry-worker/internal/db"
	"github.com/gridlens/ami-telemetry-worker/internal/generator"
	"github.com/gridlens/ami-telemetry-worker/internal/interval"
	"github.com/gridlens/ami-telemetry-worker/internal/mq"
)

// Enqueuer hands publish jobs to the durable queue.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, job mq.PublishJob) error
}

// AssignmentStore provides provisioned meter-to-feeder assignments and the
// active events scoped to a feeder.
type AssignmentStore interface {
	ListMeterAssignments(ctx context.Context, tenantID string) ([]db.MeterAssignment, error)
	ActiveEventsForFeeder(ctx context.Context, tenantID, feederID string, now time.Time) ([]db.DisruptionEvent, error)
	DeactivateExpiredEvents(ctx context.Context, now time.Time) (int64, error)
}

// PublishResult reports a completed normal publish.
type PublishResult struct {
	Queued  int `json:"queued"`
	Batches int `json:"batches"`
}

// Emulator builds interval-aligned reading batches and hands them to the
// queue.
type Emulator struct {
	gen         *generator.Generator
	effects     *generator.EffectEngine
	store       AssignmentStore
	queue       Enqueuer
	governor    *backpressure.Governor
	concurrency int
	logger      *zap.Logger
	now         func() time.Time
}

// NewEmulator creates an emulator. concurrency is the ingestion worker pool
// size, used only for the scale-mode runtime estimate.
func NewEmulator(
	gen *generator.Generator,
	effects *generator.EffectEngine,
	store AssignmentStore,
	queue Enqueuer,
	governor *backpressure.Governor,
	concurrency int,
	logger *zap.Logger,
) *Emulator {
	return &Emulator{
		gen:         gen,
		effects:     effects,
		store:       store,
		queue:       queue,
		governor:    governor,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}
}

// PublishOnce runs one publish cycle over the tenant's provisioned meters:
// meters grouped by feeder, each feeder's list sliced into batchSize chunks,
// one job per chunk, all stamped with a single aligned timestamp. The
// backpressure governor gates this path the same as the scale path.
func (e *Emulator) PublishOnce(ctx context.Context, tenantID string, intervalMinutes, batchSize int) (PublishResult, error) {
	if intervalMinutes <= 0 {
		return PublishResult{}, fmt.Errorf("interval minutes must be positive, got %d", intervalMinutes)
	}
	if batchSize <= 0 {
		return PublishResult{}, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	if err := e.governor.Check(ctx); err != nil {
		return PublishResult{}, err
	}

	now := e.now()
	if _, err := e.store.DeactivateExpiredEvents(ctx, now); err != nil {
		e.logger.Warn("failed to sweep expired events", zap.Error(err))
	}

	assignments, err := e.store.ListMeterAssignments(ctx, tenantID)
	if err != nil {
		return PublishResult{}, fmt.Errorf("failed to load meter assignments: %w", err)
	}
	if len(assignments) == 0 {
		e.logger.Info("no meters provisioned for tenant", zap.String("tenant_id", tenantID))
		return PublishResult{}, nil
	}

	metersByFeeder := make(map[string][]string)
	var feederOrder []string
	for _, a := range assignments {
		if _, seen := metersByFeeder[a.FeederID]; !seen {
			feederOrder = append(feederOrder, a.FeederID)
		}
		metersByFeeder[a.FeederID] = append(metersByFeeder[a.FeederID], a.MeterID)
	}

	alignedTS := interval.Align(now, intervalMinutes)
	var result PublishResult

	for _, feederID := range feederOrder {
		queued, batches, err := e.publishFeeder(ctx, tenantID, feederID, metersByFeeder[feederID], alignedTS, intervalMinutes, batchSize, false)
		if err != nil {
			return result, err
		}
		result.Queued += queued
		result.Batches += batches
	}

	e.logger.Info("publish cycle complete",
		zap.String("tenant_id", tenantID),
		zap.Time("aligned_ts", alignedTS),
		zap.Int("queued", result.Queued),
		zap.Int("batches", result.Batches),
	)

	return result, nil
}

// publishFeeder generates, applies events to and enqueues the chunks for one
// feeder. Active events are fetched once and applied to every chunk.
func (e *Emulator) publishFeeder(
	ctx context.Context,
	tenantID, feederID string,
	meterIDs []string,
	alignedTS time.Time,
	intervalMinutes, batchSize int,
	scaleMode bool,
) (queued int, batches int, err error) {
	events, err := e.store.ActiveEventsForFeeder(ctx, tenantID, feederID, alignedTS)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load active events for feeder %s: %w", feederID, err)
	}

	for start := 0; start < len(meterIDs); start += batchSize {
		end := start + batchSize
		if end > len(meterIDs) {
			end = len(meterIDs)
		}
		chunk := meterIDs[start:end]

		readings := make([]db.MeterReading, 0, len(chunk))
		for _, meterID := range chunk {
			reading := e.gen.Reading(tenantID, meterID, feederID, alignedTS)
			reading, kept := e.effects.Apply(reading, events)
			if !kept {
				continue
			}
			readings = append(readings, reading)
		}

		job := mq.PublishJob{
			TenantID:        tenantID,
			FeederID:        feederID,
			Readings:        readings,
			IntervalMinutes: intervalMinutes,
			AlignedTS:       alignedTS,
			ScaleMode:       scaleMode,
			ExpectedMeters:  len(chunk),
		}

		if err := e.queue.EnqueueJob(ctx, job); err != nil {
			return queued, batches, fmt.Errorf("failed to enqueue job for feeder %s: %w", feederID, err)
		}

		queued += len(readings)
		batches++
	}

	return queued, batches, nil
}
