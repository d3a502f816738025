package anomaly

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gridlens/ami-telemetry-worker/internal/config"
	"github.com/gridlens/ami-telemetry-worker/internal/db"
	"github.com/gridlens/ami-telemetry-worker/internal/generator"
)

// EventStore is the slice of the repository the detector needs.
type EventStore interface {
	HasActiveEvent(ctx context.Context, tenantID, feederID string, eventType db.EventType, now time.Time) (bool, error)
	InsertEvent(ctx context.Context, ev *db.DisruptionEvent) (bool, error)
	InsertWorkOrder(ctx context.Context, wo *db.WorkOrder) error
}

// Detector scans ingested batches for rule-based anomalies and converts them
// into deduplicated disruption events with derived work orders.
type Detector struct {
	store  EventStore
	cfg    config.AnomalyConfig
	noise  generator.NoiseSource
	logger *zap.Logger
	now    func() time.Time
}

// NewDetector creates a detector. The noise source samples estimated-loss
// amounts, so deterministic runs produce reproducible work orders.
func NewDetector(store EventStore, cfg config.AnomalyConfig, noise generator.NoiseSource, logger *zap.Logger) *Detector {
	return &Detector{
		store:  store,
		cfg:    cfg,
		noise:  noise,
		logger: logger,
		now:    time.Now,
	}
}

type candidate struct {
	eventType db.EventType
	severity  float64
	summary   string
}

// ScanBatch inspects one ingested feeder batch. expectedMeters is the chunk
// size before event effects dropped any readings. Detection failures are the
// caller's to log; the ingest write has already succeeded by the time this
// runs.
func (d *Detector) ScanBatch(ctx context.Context, tenantID, feederID string, readings []db.MeterReading, expectedMeters int) error {
	var candidates []candidate

	if c := d.voltageCandidate(feederID, readings); c != nil {
		candidates = append(candidates, *c)
	}
	if c := d.missingReadCandidate(feederID, readings, expectedMeters); c != nil {
		candidates = append(candidates, *c)
	}

	for _, c := range candidates {
		if err := d.raiseEvent(ctx, tenantID, feederID, c); err != nil {
			return err
		}
	}

	return nil
}

// voltageCandidate applies the critical-then-low voltage rules. A batch that
// trips the critical rule never also raises the low rule.
func (d *Detector) voltageCandidate(feederID string, readings []db.MeterReading) *candidate {
	var belowCritical, belowLow int
	for i := range readings {
		if readings[i].Voltage < d.cfg.CriticalVoltage {
			belowCritical++
		}
		if readings[i].Voltage < d.cfg.LowVoltage {
			belowLow++
		}
	}

	if belowCritical >= d.cfg.CriticalCount {
		return &candidate{
			eventType: db.EventVoltageSag,
			severity:  0.9,
			summary: fmt.Sprintf("Critical voltage on feeder %s: %d readings below %.1fV.",
				feederID, belowCritical, d.cfg.CriticalVoltage),
		}
	}
	if belowLow >= d.cfg.LowCount {
		return &candidate{
			eventType: db.EventVoltageSag,
			severity:  0.5,
			summary: fmt.Sprintf("Low voltage on feeder %s: %d readings below %.1fV.",
				feederID, belowLow, d.cfg.LowVoltage),
		}
	}
	return nil
}

func (d *Detector) missingReadCandidate(feederID string, readings []db.MeterReading, expectedMeters int) *candidate {
	if expectedMeters <= 0 {
		return nil
	}
	missing := expectedMeters - len(readings)
	if missing <= 0 {
		return nil
	}
	rate := float64(missing) / float64(expectedMeters)
	if rate <= d.cfg.MissingRateThreshold {
		return nil
	}
	return &candidate{
		eventType: db.EventCommsOutage,
		severity:  rate,
		summary: fmt.Sprintf("Comms outage on feeder %s: %d of %d expected reads missing (%.0f%%).",
			feederID, missing, expectedMeters, rate*100),
	}
}

// raiseEvent inserts the candidate unless an active event of the same type
// already covers the feeder, and derives exactly one work order for a fresh
// insert. The store-level unique index is the final arbiter for concurrent
// duplicates.
func (d *Detector) raiseEvent(ctx context.Context, tenantID, feederID string, c candidate) error {
	now := d.now().UTC()

	exists, err := d.store.HasActiveEvent(ctx, tenantID, feederID, c.eventType, now)
	if err != nil {
		return fmt.Errorf("failed to check active event: %w", err)
	}
	if exists {
		d.logger.Debug("anomaly suppressed by active event",
			zap.String("tenant_id", tenantID),
			zap.String("feeder_id", feederID),
			zap.String("event_type", string(c.eventType)),
		)
		return nil
	}

	ev := &db.DisruptionEvent{
		ID:        uuid.New(),
		TenantID:  tenantID,
		FeederID:  feederID,
		Type:      c.eventType,
		Severity:  c.severity,
		StartsAt:  now,
		EndsAt:    now.Add(time.Duration(d.cfg.EventLifespanMinutes) * time.Minute),
		Active:    true,
		CreatedAt: now,
	}

	inserted, err := d.store.InsertEvent(ctx, ev)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	if !inserted {
		// A concurrent worker won the insert race for this feeder.
		return nil
	}

	d.logger.Info("disruption event created",
		zap.String("tenant_id", tenantID),
		zap.String("feeder_id", feederID),
		zap.String("event_type", string(c.eventType)),
		zap.Float64("severity", c.severity),
	)

	wo := DeriveWorkOrder(ev, c.summary, d.noise, now)
	if err := d.store.InsertWorkOrder(ctx, wo); err != nil {
		return fmt.Errorf("failed to insert work order: %w", err)
	}

	return nil
}
