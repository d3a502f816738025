package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gridlens/ami-telemetry-worker/internal/anomaly"
	"github.com/gridlens/ami-telemetry-worker/internal/config"
	"github.com/gridlens/ami-telemetry-worker/internal/db"
	"github.com/gridlens/ami-telemetry-worker/internal/generator"
	"github.com/gridlens/ami-telemetry-worker/internal/mq"
	"github.com/gridlens/ami-telemetry-worker/internal/validator"
)

type fakeReadingStore struct {
	batches [][]db.MeterReading
	err     error
}

func (s *fakeReadingStore) UpsertReadings(_ context.Context, readings []db.MeterReading) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.batches = append(s.batches, readings)
	return int64(len(readings)), nil
}

func newTestIngestor(store *fakeReadingStore, events *fakeEventStore) *Ingestor {
	cfg := config.AnomalyConfig{
		CriticalVoltage:      108.0,
		LowVoltage:           114.0,
		CriticalCount:        3,
		LowCount:             5,
		MissingRateThreshold: 0.10,
		EventLifespanMinutes: 30,
	}
	detector := anomaly.NewDetector(events, cfg, generator.DeterministicNoise{}, zap.NewNop())
	return NewIngestor(store, validator.NewValidator(), detector, zap.NewNop())
}

func marshalJob(t *testing.T, job mq.PublishJob) []byte {
	t.Helper()
	body, err := json.Marshal(job)
	require.NoError(t, err)
	return body
}

func healthyJob() mq.PublishJob {
	ts := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	return mq.PublishJob{
		TenantID:        "T1",
		FeederID:        "F1",
		IntervalMinutes: 15,
		AlignedTS:       ts,
		ExpectedMeters:  2,
		Readings: []db.MeterReading{
			{TenantID: "T1", MeterID: "M1", FeederID: "F1", KWH: 1.2, Voltage: 120, IntervalTS: ts, Quality: db.QualityNormal},
			{TenantID: "T1", MeterID: "M2", FeederID: "F1", KWH: 0.9, Voltage: 121, IntervalTS: ts, Quality: db.QualityNormal},
		},
	}
}

func TestProcessMessage_WritesBatch(t *testing.T) {
	store := &fakeReadingStore{}
	events := newFakeEventStore()
	ing := newTestIngestor(store, events)

	err := ing.ProcessMessage(context.Background(), marshalJob(t, healthyJob()))

	require.NoError(t, err)
	require.Len(t, store.batches, 1)
	assert.Len(t, store.batches[0], 2)
	assert.Empty(t, events.events)
}

func TestProcessMessage_MalformedBodyFailsJob(t *testing.T) {
	ing := newTestIngestor(&fakeReadingStore{}, newFakeEventStore())

	require.Error(t, ing.ProcessMessage(context.Background(), []byte("{not json")))
}

func TestProcessMessage_InvalidJobFailsJob(t *testing.T) {
	store := &fakeReadingStore{}
	ing := newTestIngestor(store, newFakeEventStore())

	job := healthyJob()
	job.TenantID = ""

	require.Error(t, ing.ProcessMessage(context.Background(), marshalJob(t, job)))
	assert.Empty(t, store.batches)
}

func TestProcessMessage_EmptyBatchIsSkipped(t *testing.T) {
	store := &fakeReadingStore{}
	ing := newTestIngestor(store, newFakeEventStore())

	job := healthyJob()
	job.Readings = nil
	job.ExpectedMeters = 0

	require.NoError(t, ing.ProcessMessage(context.Background(), marshalJob(t, job)))
	assert.Empty(t, store.batches)
}

func TestProcessMessage_WriteFailurePropagates(t *testing.T) {
	store := &fakeReadingStore{err: assert.AnError}
	events := newFakeEventStore()
	ing := newTestIngestor(store, events)

	err := ing.ProcessMessage(context.Background(), marshalJob(t, healthyJob()))

	require.Error(t, err)
	// The write never landed, so nothing is scanned either.
	assert.Empty(t, events.events)
}

func TestProcessMessage_SilencedFeederRaisesOutage(t *testing.T) {
	store := &fakeReadingStore{}
	events := newFakeEventStore()
	ing := newTestIngestor(store, events)

	job := healthyJob()
	job.Readings = nil
	job.ExpectedMeters = 2

	require.NoError(t, ing.ProcessMessage(context.Background(), marshalJob(t, job)))
	require.Len(t, events.events, 1)
	assert.Equal(t, db.EventCommsOutage, events.events[0].Type)
	assert.InDelta(t, 1.0, events.events[0].Severity, 1e-9)
}

func TestProcessMessage_SaggingBatchRaisesEvent(t *testing.T) {
	store := &fakeReadingStore{}
	events := newFakeEventStore()
	ing := newTestIngestor(store, events)

	ts := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	job := mq.PublishJob{
		TenantID:        "T1",
		FeederID:        "F1",
		IntervalMinutes: 15,
		AlignedTS:       ts,
		ExpectedMeters:  3,
		Readings: []db.MeterReading{
			{TenantID: "T1", MeterID: "M1", FeederID: "F1", KWH: 1.2, Voltage: 107, IntervalTS: ts, Quality: db.QualityNormal},
			{TenantID: "T1", MeterID: "M2", FeederID: "F1", KWH: 0.9, Voltage: 106, IntervalTS: ts, Quality: db.QualityNormal},
			{TenantID: "T1", MeterID: "M3", FeederID: "F1", KWH: 1.1, Voltage: 105, IntervalTS: ts, Quality: db.QualityNormal},
		},
	}

	require.NoError(t, ing.ProcessMessage(context.Background(), marshalJob(t, job)))
	require.Len(t, store.batches, 1)
	require.Len(t, events.events, 1)
	assert.Equal(t, db.EventVoltageSag, events.events[0].Type)
	assert.Equal(t, 0.9, events.events[0].Severity)
	assert.Len(t, events.workOrders, 1)
}
