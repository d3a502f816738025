package anomaly_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gridlens/ami-telemetry-worker/internal/anomaly"
	"github.com/gridlens/ami-telemetry-worker/internal/config"
	"github.com/gridlens/ami-telemetry-worker/internal/db"
	"github.com/gridlens/ami-telemetry-worker/internal/generator"
)

type fakeEventStore struct {
	active     map[string]bool // keyed by feeder + type
	events     []*db.DisruptionEvent
	workOrders []*db.WorkOrder
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{active: map[string]bool{}}
}

func key(feederID string, typ db.EventType) string { return feederID + "|" + string(typ) }

func (s *fakeEventStore) HasActiveEvent(_ context.Context, _, feederID string, typ db.EventType, _ time.Time) (bool, error) {
	return s.active[key(feederID, typ)], nil
}

func (s *fakeEventStore) InsertEvent(_ context.Context, ev *db.DisruptionEvent) (bool, error) {
	if s.active[key(ev.FeederID, ev.Type)] {
		return false, nil
	}
	s.active[key(ev.FeederID, ev.Type)] = true
	s.events = append(s.events, ev)
	return true, nil
}

func (s *fakeEventStore) InsertWorkOrder(_ context.Context, wo *db.WorkOrder) error {
	s.workOrders = append(s.workOrders, wo)
	return nil
}

func testConfig() config.AnomalyConfig {
	return config.AnomalyConfig{
		CriticalVoltage:      108.0,
		LowVoltage:           114.0,
		CriticalCount:        3,
		LowCount:             5,
		MissingRateThreshold: 0.10,
		EventLifespanMinutes: 30,
	}
}

func newTestDetector(store anomaly.EventStore) *anomaly.Detector {
	return anomaly.NewDetector(store, testConfig(), generator.DeterministicNoise{}, zap.NewNop())
}

func readingsWithVoltages(voltages []float64) []db.MeterReading {
	ts := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	readings := make([]db.MeterReading, len(voltages))
	for i, v := range voltages {
		readings[i] = db.MeterReading{
			TenantID:   "T1",
			MeterID:    "M" + string(rune('A'+i)),
			FeederID:   "F1",
			KWH:        1.2,
			Voltage:    v,
			IntervalTS: ts,
			Quality:    db.QualityNormal,
		}
	}
	return readings
}

func TestScanBatch_CriticalVoltageRaisesSevereSag(t *testing.T) {
	store := newFakeEventStore()
	d := newTestDetector(store)

	readings := readingsWithVoltages([]float64{107, 106.5, 105, 120, 121})
	err := d.ScanBatch(context.Background(), "T1", "F1", readings, len(readings))

	require.NoError(t, err)
	require.Len(t, store.events, 1)
	assert.Equal(t, db.EventVoltageSag, store.events[0].Type)
	assert.Equal(t, 0.9, store.events[0].Severity)
	assert.True(t, store.events[0].Active)
	assert.True(t, store.events[0].EndsAt.After(store.events[0].StartsAt))

	require.Len(t, store.workOrders, 1)
	assert.Equal(t, db.PriorityCritical, store.workOrders[0].Priority)
	assert.Equal(t, "VOLTAGE_SAG", store.workOrders[0].IssueCode)
	assert.Equal(t, db.StatusOpen, store.workOrders[0].Status)
	require.NotNil(t, store.workOrders[0].EventID)
	assert.Equal(t, store.events[0].ID, *store.workOrders[0].EventID)
}

func TestScanBatch_LowVoltageRaisesModerateSag(t *testing.T) {
	store := newFakeEventStore()
	d := newTestDetector(store)

	readings := readingsWithVoltages([]float64{113, 112, 113.5, 112.5, 111, 120})
	err := d.ScanBatch(context.Background(), "T1", "F1", readings, len(readings))

	require.NoError(t, err)
	require.Len(t, store.events, 1)
	assert.Equal(t, db.EventVoltageSag, store.events[0].Type)
	assert.Equal(t, 0.5, store.events[0].Severity)

	require.Len(t, store.workOrders, 1)
	assert.Equal(t, db.PriorityHigh, store.workOrders[0].Priority)
}

func TestScanBatch_CriticalSupersedesLowRule(t *testing.T) {
	store := newFakeEventStore()
	d := newTestDetector(store)

	// Eight readings below the low threshold, three of them critical:
	// exactly one event, at the critical severity.
	readings := readingsWithVoltages([]float64{107, 106, 105, 113, 112, 111, 110, 109})
	err := d.ScanBatch(context.Background(), "T1", "F1", readings, len(readings))

	require.NoError(t, err)
	require.Len(t, store.events, 1)
	assert.Equal(t, 0.9, store.events[0].Severity)
}

func TestScanBatch_HealthyBatchRaisesNothing(t *testing.T) {
	store := newFakeEventStore()
	d := newTestDetector(store)

	readings := readingsWithVoltages([]float64{120, 119.5, 121, 120.2, 118.9})
	err := d.ScanBatch(context.Background(), "T1", "F1", readings, len(readings))

	require.NoError(t, err)
	assert.Empty(t, store.events)
	assert.Empty(t, store.workOrders)
}

func TestScanBatch_MissingReadsRaiseCommsOutage(t *testing.T) {
	store := newFakeEventStore()
	d := newTestDetector(store)

	// 4 of 20 expected reads missing: 20% over a 10% threshold.
	readings := readingsWithVoltages([]float64{120, 120, 120, 120, 120, 120, 120, 120, 120, 120, 120, 120, 120, 120, 120, 120})
	err := d.ScanBatch(context.Background(), "T1", "F1", readings, 20)

	require.NoError(t, err)
	require.Len(t, store.events, 1)
	assert.Equal(t, db.EventCommsOutage, store.events[0].Type)
	assert.InDelta(t, 0.2, store.events[0].Severity, 1e-9)

	require.Len(t, store.workOrders, 1)
	assert.Equal(t, db.PriorityMedium, store.workOrders[0].Priority)
	assert.Equal(t, "COMMS_OUTAGE", store.workOrders[0].IssueCode)
}

func TestScanBatch_MissingRateAtThresholdDoesNotFire(t *testing.T) {
	store := newFakeEventStore()
	d := newTestDetector(store)

	// Exactly 10% missing: threshold is exclusive.
	readings := readingsWithVoltages([]float64{120, 120, 120, 120, 120, 120, 120, 120, 120})
	err := d.ScanBatch(context.Background(), "T1", "F1", readings, 10)

	require.NoError(t, err)
	assert.Empty(t, store.events)
}

func TestScanBatch_SeverelyMissingBatchRaisesHighPriorityOutage(t *testing.T) {
	store := newFakeEventStore()
	d := newTestDetector(store)

	err := d.ScanBatch(context.Background(), "T1", "F1", nil, 10)

	require.NoError(t, err)
	require.Len(t, store.events, 1)
	assert.Equal(t, db.EventCommsOutage, store.events[0].Type)
	assert.InDelta(t, 1.0, store.events[0].Severity, 1e-9)
	require.Len(t, store.workOrders, 1)
	assert.Equal(t, db.PriorityHigh, store.workOrders[0].Priority)
}

func TestScanBatch_ActiveEventSuppressesDuplicate(t *testing.T) {
	store := newFakeEventStore()
	store.active[key("F1", db.EventVoltageSag)] = true
	d := newTestDetector(store)

	readings := readingsWithVoltages([]float64{107, 106, 105})
	err := d.ScanBatch(context.Background(), "T1", "F1", readings, len(readings))

	require.NoError(t, err)
	assert.Empty(t, store.events)
	assert.Empty(t, store.workOrders)
}

func TestScanBatch_RepeatedScanCreatesOneEventAndOneWorkOrder(t *testing.T) {
	store := newFakeEventStore()
	d := newTestDetector(store)

	readings := readingsWithVoltages([]float64{107, 106, 105})
	require.NoError(t, d.ScanBatch(context.Background(), "T1", "F1", readings, len(readings)))
	require.NoError(t, d.ScanBatch(context.Background(), "T1", "F1", readings, len(readings)))

	assert.Len(t, store.events, 1)
	assert.Len(t, store.workOrders, 1)
}

func TestScanBatch_IndependentFeedersRaiseIndependently(t *testing.T) {
	store := newFakeEventStore()
	d := newTestDetector(store)

	readings := readingsWithVoltages([]float64{107, 106, 105})
	require.NoError(t, d.ScanBatch(context.Background(), "T1", "F1", readings, len(readings)))
	require.NoError(t, d.ScanBatch(context.Background(), "T1", "F2", readings, len(readings)))

	assert.Len(t, store.events, 2)
	assert.Len(t, store.workOrders, 2)
}

func TestDeriveWorkOrder_PriorityMapping(t *testing.T) {
	now := time.Now().UTC()
	noise := generator.DeterministicNoise{}

	tests := []struct {
		name     string
		typ      db.EventType
		severity float64
		priority string
	}{
		{"theft is always critical", db.EventTheft, 0.1, db.PriorityCritical},
		{"severe sag is critical", db.EventVoltageSag, 0.9, db.PriorityCritical},
		{"moderate sag is high", db.EventVoltageSag, 0.5, db.PriorityHigh},
		{"severe outage is high", db.EventCommsOutage, 0.6, db.PriorityHigh},
		{"mild outage is medium", db.EventCommsOutage, 0.2, db.PriorityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &db.DisruptionEvent{TenantID: "T1", FeederID: "F1", Type: tt.typ, Severity: tt.severity}
			wo := anomaly.DeriveWorkOrder(ev, "summary", noise, now)

			assert.Equal(t, tt.priority, wo.Priority)
			assert.Equal(t, db.StatusOpen, wo.Status)
			assert.Positive(t, wo.EstLossAmount)
		})
	}
}
