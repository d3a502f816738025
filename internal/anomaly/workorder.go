package anomaly

import (
	"time"

	"github.com/google/uuid"

	"github.com/gridlens/ami-telemetry-worker/internal/db"
	"github.com/gridlens/ami-telemetry-worker/internal/generator"
)

// Estimated-loss sampling ranges in dollars, per event type.
var lossRanges = map[db.EventType][2]float64{
	db.EventTheft:       {200, 1500},
	db.EventVoltageSag:  {50, 400},
	db.EventCommsOutage: {100, 800},
}

// issueCodes maps event types to field-ops issue codes.
var issueCodes = map[db.EventType]string{
	db.EventTheft:       "ENERGY_DIVERSION",
	db.EventVoltageSag:  "VOLTAGE_SAG",
	db.EventCommsOutage: "COMMS_OUTAGE",
}

// priorityFor maps an event to a work order priority. Theft is always
// critical; voltage sag and comms outage scale with severity.
func priorityFor(eventType db.EventType, severity float64) string {
	switch eventType {
	case db.EventTheft:
		return db.PriorityCritical
	case db.EventVoltageSag:
		if severity >= 0.8 {
			return db.PriorityCritical
		}
		return db.PriorityHigh
	case db.EventCommsOutage:
		if severity >= 0.5 {
			return db.PriorityHigh
		}
		return db.PriorityMedium
	}
	return db.PriorityMedium
}

// DeriveWorkOrder builds the single work order created alongside a
// disruption event, whether the event came from the detector or from an
// operator injection.
func DeriveWorkOrder(ev *db.DisruptionEvent, summary string, noise generator.NoiseSource, now time.Time) *db.WorkOrder {
	lo, hi := lossRanges[ev.Type][0], lossRanges[ev.Type][1]
	return &db.WorkOrder{
		ID:            uuid.New(),
		TenantID:      ev.TenantID,
		EventID:       &ev.ID,
		FeederID:      ev.FeederID,
		IssueCode:     issueCodes[ev.Type],
		Summary:       summary,
		Priority:      priorityFor(ev.Type, ev.Severity),
		Status:        db.StatusOpen,
		EstLossAmount: noise.Within(lo, hi),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
