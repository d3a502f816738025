package mq

import (
	"time"

	"github.com/gridlens/ami-telemetry-worker/internal/db"
)

// PublishJob is the queue payload for one feeder chunk of an emulated
// publish cycle. It exists only for the lifetime of queue delivery.
type PublishJob struct {
	TenantID        string            `json:"tenant_id"`
	FeederID        string            `json:"feeder_id"`
	Readings        []db.MeterReading `json:"readings"`
	IntervalMinutes int               `json:"interval_minutes"`
	AlignedTS       time.Time         `json:"aligned_ts"`
	ScaleMode       bool              `json:"scale_mode"`
	// ExpectedMeters is the chunk's meter count before event effects dropped
	// any readings; the anomaly detector derives the missing-read rate from
	// it.
	ExpectedMeters int `json:"expected_meters"`
}
