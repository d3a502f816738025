package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/gridlens/ami-telemetry-worker/internal/anomaly"
	"github.com/gridlens/ami-telemetry-worker/internal/db"
	"github.com/gridlens/ami-telemetry-worker/internal/logging"
	"github.com/gridlens/ami-telemetry-worker/internal/mq"
	"github.com/gridlens/ami-telemetry-worker/internal/validator"
)

// ReadingStore is the slice of the repository the ingestor writes through.
type ReadingStore interface {
	UpsertReadings(ctx context.Context, readings []db.MeterReading) (int64, error)
}

// Ingestor processes publish jobs pulled off the durable queue: one
// idempotent bulk upsert per job, then an anomaly scan.
type Ingestor struct {
	store     ReadingStore
	validator *validator.Validator
	detector  *anomaly.Detector
	logger    *zap.Logger
}

// NewIngestor creates an ingestor.
func NewIngestor(store ReadingStore, v *validator.Validator, detector *anomaly.Detector, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		store:     store,
		validator: v,
		detector:  detector,
		logger:    logger,
	}
}

// ProcessMessage handles one delivery. A returned error fails the job so the
// queue redelivers it; the write is atomic, so redelivery can never leave a
// partial batch behind. Anomaly-scan failures are logged only; the write
// already succeeded.
func (s *Ingestor) ProcessMessage(ctx context.Context, body []byte) error {
	var job mq.PublishJob
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}

	if err := s.validator.ValidateJob(&job); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	jobLogger := logging.WithFeeder(s.logger, job.TenantID, job.FeederID).
		With(zap.Time("aligned_ts", job.AlignedTS))

	if len(job.Readings) == 0 && job.ExpectedMeters == 0 {
		jobLogger.Info("empty batch received, skipping")
		return nil
	}

	written, err := s.store.UpsertReadings(ctx, job.Readings)
	if err != nil {
		jobLogger.Error("failed to write batch", zap.Error(err))
		return fmt.Errorf("failed to write batch: %w", err)
	}

	jobLogger.Info("batch ingested",
		zap.Int64("written", written),
		zap.Int("readings", len(job.Readings)),
		zap.Int("expected_meters", job.ExpectedMeters),
	)

	if err := s.detector.ScanBatch(ctx, job.TenantID, job.FeederID, job.Readings, job.ExpectedMeters); err != nil {
		jobLogger.Error("anomaly scan failed", zap.Error(err))
	}

	return nil
}
