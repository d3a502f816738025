package validator

import (
	"fmt"

	"github.com/gridlens/ami-telemetry-worker/internal/interval"
	"github.com/gridlens/ami-telemetry-worker/internal/mq"
)

const (
	minIntervalMinutes = 1
	maxIntervalMinutes = 1440
)

// Validator checks incoming publish jobs before they reach the store.
type Validator struct{}

// NewValidator creates a job validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateJob rejects malformed jobs. A structurally valid but empty batch
// is not an error; the ingestor skips it.
func (v *Validator) ValidateJob(job *mq.PublishJob) error {
	if job.TenantID == "" {
		return fmt.Errorf("job missing tenant id")
	}
	if job.FeederID == "" {
		return fmt.Errorf("job missing feeder id")
	}
	if job.IntervalMinutes < minIntervalMinutes || job.IntervalMinutes > maxIntervalMinutes {
		return fmt.Errorf("interval minutes %d out of range [%d, %d]",
			job.IntervalMinutes, minIntervalMinutes, maxIntervalMinutes)
	}
	if job.AlignedTS.IsZero() {
		return fmt.Errorf("job missing aligned timestamp")
	}
	if !interval.IsAligned(job.AlignedTS, job.IntervalMinutes) {
		return fmt.Errorf("timestamp %s is not aligned to a %d-minute boundary",
			job.AlignedTS.Format("2006-01-02T15:04:05Z07:00"), job.IntervalMinutes)
	}
	if job.ExpectedMeters < len(job.Readings) {
		return fmt.Errorf("expected meter count %d below delivered readings %d",
			job.ExpectedMeters, len(job.Readings))
	}

	for i := range job.Readings {
		r := &job.Readings[i]
		if r.TenantID != job.TenantID {
			return fmt.Errorf("reading %d tenant %q does not match job tenant %q", i, r.TenantID, job.TenantID)
		}
		if r.MeterID == "" {
			return fmt.Errorf("reading %d missing meter id", i)
		}
		if !r.IntervalTS.Equal(job.AlignedTS) {
			return fmt.Errorf("reading %d timestamp differs from job aligned timestamp", i)
		}
	}

	return nil
}
