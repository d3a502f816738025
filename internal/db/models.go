package db

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType is the closed set of disruption event types.
type EventType string

const (
	EventTheft       EventType = "THEFT"
	EventCommsOutage EventType = "COMMS_OUTAGE"
	EventVoltageSag  EventType = "VOLTAGE_SAG"
)

// ParseEventType converts an external string into an EventType.
func ParseEventType(s string) (EventType, error) {
	switch EventType(s) {
	case EventTheft, EventCommsOutage, EventVoltageSag:
		return EventType(s), nil
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// Work order priorities and statuses.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"

	StatusOpen       = "open"
	StatusAssigned   = "assigned"
	StatusInProgress = "in_progress"
	StatusClosed     = "closed"
)

// QualityNormal is the quality flag stamped on generated readings.
const QualityNormal = "NORMAL"

// MeterReading is one telemetry sample for a (tenant, meter, interval).
// The same shape travels in PublishJob payloads and in the readings table;
// (tenant_id, meter_id, interval_ts) is the natural key.
type MeterReading struct {
	TenantID   string    `json:"tenant_id"`
	MeterID    string    `json:"meter_id"`
	FeederID   string    `json:"feeder_id"`
	KWH        float64   `json:"kwh"`
	Voltage    float64   `json:"voltage"`
	IntervalTS time.Time `json:"interval_ts"`
	Quality    string    `json:"quality"`
}

// DisruptionEvent is a time-bounded condition affecting a feeder.
// At most one active event per (tenant, feeder, type); the partial unique
// index in migrations/001_init.sql enforces this at the store level.
type DisruptionEvent struct {
	ID        uuid.UUID `json:"id"`
	TenantID  string    `json:"tenant_id"`
	FeederID  string    `json:"feeder_id"`
	Type      EventType `json:"event_type"`
	Severity  float64   `json:"severity"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the event's window has passed at the given time.
func (e *DisruptionEvent) Expired(now time.Time) bool {
	return !now.Before(e.EndsAt)
}

// WorkOrder is a field ticket derived from a disruption event. Status
// lifecycle is owned by the field-ops service; this worker only creates
// them as StatusOpen.
type WorkOrder struct {
	ID            uuid.UUID  `json:"id"`
	TenantID      string     `json:"tenant_id"`
	EventID       *uuid.UUID `json:"event_id,omitempty"`
	FeederID      string     `json:"feeder_id"`
	IssueCode     string     `json:"issue_code"`
	Summary       string     `json:"summary"`
	Priority      string     `json:"priority"`
	Status        string     `json:"status"`
	EstLossAmount float64    `json:"est_loss_amount"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// MeterAssignment maps a provisioned meter to its feeder.
type MeterAssignment struct {
	MeterID  string
	FeederID string
}
