package emulator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gridlens/ami-telemetry-worker/internal/interval"
)

// Safety limits for scale-mode publishes. Requests past a limit are capped
// with a warning, never rejected.
const (
	MaxBatchSize      = 500
	MaxMeterCount     = 25000
	MinFeederCount    = 10
	MaxFeederCount    = 40
	MaxJobsPerPublish = 200

	// secondsPerJobWave is the runtime estimate for one wave of concurrent
	// ingestion jobs.
	secondsPerJobWave = 2
)

// ScaleRequest asks for a synthetic-fleet publish with the given targets.
type ScaleRequest struct {
	TenantID        string `json:"tenant_id"`
	IntervalMinutes int    `json:"interval_minutes"`
	BatchSize       int    `json:"batch_size"`
	MeterCount      int    `json:"meter_count"`
	FeederCount     int    `json:"feeder_count"`
	DryRun          bool   `json:"dry_run"`
}

// ScaleResult reports the effective (capped) parameters and, for a wet run,
// what was enqueued.
type ScaleResult struct {
	OK                      bool     `json:"ok"`
	ComputedMeters          int      `json:"computed_meters"`
	ComputedFeederCount     int      `json:"computed_feeder_count"`
	ComputedBatchSize       int      `json:"computed_batch_size"`
	EstimatedJobs           int      `json:"estimated_jobs"`
	EstimatedRuntimeSeconds int      `json:"estimated_runtime_seconds"`
	SafetyWarnings          []string `json:"safety_warnings"`
	Queued                  int      `json:"queued,omitempty"`
	Batches                 int      `json:"batches,omitempty"`
}

// scaleParams are the effective values after capping.
type scaleParams struct {
	meters   int
	feeders  int
	batch    int
	warnings []string
}

// computeScaleParams clamps the requested values into the safety limits and
// truncates the fleet when the job count would blow the per-publish ceiling.
func computeScaleParams(req ScaleRequest) scaleParams {
	p := scaleParams{meters: req.MeterCount, feeders: req.FeederCount, batch: req.BatchSize}

	if p.batch <= 0 {
		p.batch = MaxBatchSize
		p.warnings = append(p.warnings, fmt.Sprintf("batchSize not set; defaulted to %d", MaxBatchSize))
	} else if p.batch > MaxBatchSize {
		p.warnings = append(p.warnings, fmt.Sprintf("batchSize %d capped to %d", p.batch, MaxBatchSize))
		p.batch = MaxBatchSize
	}

	if p.meters <= 0 {
		p.meters = MaxMeterCount
		p.warnings = append(p.warnings, fmt.Sprintf("meterCount not set; defaulted to %d", MaxMeterCount))
	} else if p.meters > MaxMeterCount {
		p.warnings = append(p.warnings, fmt.Sprintf("meterCount %d capped to %d", p.meters, MaxMeterCount))
		p.meters = MaxMeterCount
	}

	if p.feeders < MinFeederCount {
		p.warnings = append(p.warnings, fmt.Sprintf("feederCount %d raised to minimum %d", p.feeders, MinFeederCount))
		p.feeders = MinFeederCount
	} else if p.feeders > MaxFeederCount {
		p.warnings = append(p.warnings, fmt.Sprintf("feederCount %d capped to %d", p.feeders, MaxFeederCount))
		p.feeders = MaxFeederCount
	}

	if jobs := estimateJobs(p.meters, p.feeders, p.batch); jobs > MaxJobsPerPublish {
		truncated := MaxJobsPerPublish * p.batch
		if truncated < p.meters {
			p.warnings = append(p.warnings, fmt.Sprintf(
				"estimated %d jobs exceeds ceiling %d; meterCount truncated to %d",
				jobs, MaxJobsPerPublish, truncated))
			p.meters = truncated
		}
	}

	return p
}

// feederMeterCounts distributes meters round-robin: meter i lands on feeder
// i mod feeders, so each feeder holds ceil or floor of meters/feeders.
func feederMeterCounts(meters, feeders int) []int {
	counts := make([]int, feeders)
	base := meters / feeders
	extra := meters % feeders
	for f := range counts {
		counts[f] = base
		if f < extra {
			counts[f]++
		}
	}
	return counts
}

func estimateJobs(meters, feeders, batch int) int {
	jobs := 0
	for _, count := range feederMeterCounts(meters, feeders) {
		jobs += (count + batch - 1) / batch
	}
	return jobs
}

func (e *Emulator) estimateRuntimeSeconds(jobs int) int {
	waves := (jobs + e.concurrency - 1) / e.concurrency
	return waves * secondsPerJobWave
}

// syntheticMeterID derives a reproducible meter id from a zero-based fleet
// index.
func syntheticMeterID(tenantID string, index int) string {
	return fmt.Sprintf("%s-MTR-%05d", tenantID, index+1)
}

// syntheticFeederID derives a reproducible feeder id from a zero-based
// feeder index.
func syntheticFeederID(tenantID string, index int) string {
	return fmt.Sprintf("%s-FDR-%02d", tenantID, index+1)
}

// PublishScale runs a scale-mode publish for a synthetic fleet. Requested
// parameters are capped against the safety limits (warnings, not failures).
// A dry run returns the computed parameters and estimates without touching
// the queue; a wet run is refused wholesale under backpressure.
func (e *Emulator) PublishScale(ctx context.Context, req ScaleRequest) (ScaleResult, error) {
	if req.IntervalMinutes <= 0 {
		return ScaleResult{}, fmt.Errorf("interval minutes must be positive, got %d", req.IntervalMinutes)
	}

	p := computeScaleParams(req)
	jobs := estimateJobs(p.meters, p.feeders, p.batch)

	result := ScaleResult{
		OK:                      true,
		ComputedMeters:          p.meters,
		ComputedFeederCount:     p.feeders,
		ComputedBatchSize:       p.batch,
		EstimatedJobs:           jobs,
		EstimatedRuntimeSeconds: e.estimateRuntimeSeconds(jobs),
		SafetyWarnings:          p.warnings,
	}

	if req.DryRun {
		return result, nil
	}

	if err := e.governor.Check(ctx); err != nil {
		result.OK = false
		return result, err
	}

	now := e.now()
	if _, err := e.store.DeactivateExpiredEvents(ctx, now); err != nil {
		e.logger.Warn("failed to sweep expired events", zap.Error(err))
	}
	alignedTS := interval.Align(now, req.IntervalMinutes)

	// Round-robin assignment: meter i belongs to feeder i mod feeders.
	feederMeters := make([][]string, p.feeders)
	counts := feederMeterCounts(p.meters, p.feeders)
	for f := range feederMeters {
		feederMeters[f] = make([]string, 0, counts[f])
	}
	for i := 0; i < p.meters; i++ {
		f := i % p.feeders
		feederMeters[f] = append(feederMeters[f], syntheticMeterID(req.TenantID, i))
	}

	for f := 0; f < p.feeders; f++ {
		feederID := syntheticFeederID(req.TenantID, f)
		queued, batches, err := e.publishFeeder(ctx, req.TenantID, feederID, feederMeters[f], alignedTS, req.IntervalMinutes, p.batch, true)
		if err != nil {
			result.Queued += queued
			result.Batches += batches
			return result, err
		}
		result.Queued += queued
		result.Batches += batches
	}

	e.logger.Info("scale publish complete",
		zap.String("tenant_id", req.TenantID),
		zap.Time("aligned_ts", alignedTS),
		zap.Int("meters", p.meters),
		zap.Int("feeders", p.feeders),
		zap.Int("batches", result.Batches),
		zap.Int("queued", result.Queued),
		zap.Strings("safety_warnings", p.warnings),
	)

	return result, nil
}
