package emulator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gridlens/ami-telemetry-worker/internal/backpressure"
	"github.com/gridlens/ami-telemetry-worker/internal/db"
	"github.com/gridlens/ami-telemetry-worker/internal/generator"
	"github.com/gridlens/ami-telemetry-worker/internal/mq"
)

type fakeQueue struct {
	jobs []mq.PublishJob
}

func (q *fakeQueue) EnqueueJob(_ context.Context, job mq.PublishJob) error {
	q.jobs = append(q.jobs, job)
	return nil
}

type fakeStore struct {
	assignments []db.MeterAssignment
	events      map[string][]db.DisruptionEvent
}

func (s *fakeStore) ListMeterAssignments(_ context.Context, _ string) ([]db.MeterAssignment, error) {
	return s.assignments, nil
}

func (s *fakeStore) ActiveEventsForFeeder(_ context.Context, _, feederID string, _ time.Time) ([]db.DisruptionEvent, error) {
	return s.events[feederID], nil
}

func (s *fakeStore) DeactivateExpiredEvents(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type stubDepth struct {
	waiting int
	delayed int
}

func (d *stubDepth) Depth(context.Context) (int, int, error) {
	return d.waiting, d.delayed, nil
}

var testNow = time.Date(2026, 3, 14, 10, 37, 0, 0, time.UTC)

func newTestEmulator(store *fakeStore, queue *fakeQueue, depth *stubDepth) *Emulator {
	noise := generator.DeterministicNoise{}
	e := NewEmulator(
		generator.NewGenerator(noise, 120.0),
		generator.NewEffectEngine(noise, 114.0),
		store,
		queue,
		backpressure.NewGovernor(depth, 500, zap.NewNop()),
		8,
		zap.NewNop(),
	)
	e.now = func() time.Time { return testNow }
	return e
}

func TestPublishOnce_ChunksMetersByFeeder(t *testing.T) {
	store := &fakeStore{
		assignments: []db.MeterAssignment{
			{MeterID: "M1", FeederID: "F1"},
			{MeterID: "M2", FeederID: "F1"},
			{MeterID: "M3", FeederID: "F1"},
			{MeterID: "M4", FeederID: "F2"},
			{MeterID: "M5", FeederID: "F2"},
		},
	}
	queue := &fakeQueue{}
	e := newTestEmulator(store, queue, &stubDepth{})

	result, err := e.PublishOnce(context.Background(), "T1", 15, 2)

	require.NoError(t, err)
	assert.Equal(t, 5, result.Queued)
	assert.Equal(t, 3, result.Batches)
	require.Len(t, queue.jobs, 3)

	// F1 splits into chunks of 2 and 1; F2 fits one chunk.
	assert.Equal(t, "F1", queue.jobs[0].FeederID)
	assert.Len(t, queue.jobs[0].Readings, 2)
	assert.Equal(t, "F1", queue.jobs[1].FeederID)
	assert.Len(t, queue.jobs[1].Readings, 1)
	assert.Equal(t, "F2", queue.jobs[2].FeederID)
	assert.Len(t, queue.jobs[2].Readings, 2)

	aligned := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	for _, job := range queue.jobs {
		assert.True(t, job.AlignedTS.Equal(aligned))
		assert.False(t, job.ScaleMode)
		for _, r := range job.Readings {
			assert.True(t, r.IntervalTS.Equal(aligned))
		}
	}
}

func TestPublishOnce_NoMetersIsNotAnError(t *testing.T) {
	queue := &fakeQueue{}
	e := newTestEmulator(&fakeStore{}, queue, &stubDepth{})

	result, err := e.PublishOnce(context.Background(), "T1", 15, 100)

	require.NoError(t, err)
	assert.Zero(t, result.Queued)
	assert.Zero(t, result.Batches)
	assert.Empty(t, queue.jobs)
}

func TestPublishOnce_RefusedUnderBackpressure(t *testing.T) {
	store := &fakeStore{assignments: []db.MeterAssignment{{MeterID: "M1", FeederID: "F1"}}}
	queue := &fakeQueue{}
	e := newTestEmulator(store, queue, &stubDepth{waiting: 600})

	_, err := e.PublishOnce(context.Background(), "T1", 15, 100)

	require.Error(t, err)
	assert.True(t, backpressure.Is(err))
	assert.Empty(t, queue.jobs)
}

func TestPublishOnce_CommsOutageSilencesFeeder(t *testing.T) {
	store := &fakeStore{
		assignments: []db.MeterAssignment{
			{MeterID: "M1", FeederID: "F1"},
			{MeterID: "M2", FeederID: "F1"},
			{MeterID: "M3", FeederID: "F2"},
		},
		events: map[string][]db.DisruptionEvent{
			"F1": {{Type: db.EventCommsOutage, Severity: 1.0, Active: true}},
		},
	}
	queue := &fakeQueue{}
	e := newTestEmulator(store, queue, &stubDepth{})

	result, err := e.PublishOnce(context.Background(), "T1", 15, 100)

	require.NoError(t, err)
	// Only F2's reading survives; F1's job still carries its expected count
	// so the detector can see the gap.
	assert.Equal(t, 1, result.Queued)
	assert.Equal(t, 2, result.Batches)
	require.Len(t, queue.jobs, 2)
	assert.Empty(t, queue.jobs[0].Readings)
	assert.Equal(t, 2, queue.jobs[0].ExpectedMeters)
	assert.Len(t, queue.jobs[1].Readings, 1)
}

func TestPublishOnce_TheftScalesGeneratedKWH(t *testing.T) {
	store := &fakeStore{
		assignments: []db.MeterAssignment{{MeterID: "M1", FeederID: "F1"}},
		events: map[string][]db.DisruptionEvent{
			"F1": {{Type: db.EventTheft, Severity: 0.8, Active: true}},
		},
	}
	queue := &fakeQueue{}
	e := newTestEmulator(store, queue, &stubDepth{})

	_, err := e.PublishOnce(context.Background(), "T1", 15, 100)

	require.NoError(t, err)
	require.Len(t, queue.jobs, 1)
	require.Len(t, queue.jobs[0].Readings, 1)

	aligned := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	expected := generator.BaselineKWH(aligned) * (1.0 - 0.8)
	assert.InDelta(t, expected, queue.jobs[0].Readings[0].KWH, 1e-9)
}

func TestPublishOnce_RejectsInvalidParameters(t *testing.T) {
	e := newTestEmulator(&fakeStore{}, &fakeQueue{}, &stubDepth{})

	_, err := e.PublishOnce(context.Background(), "T1", 0, 100)
	require.Error(t, err)

	_, err = e.PublishOnce(context.Background(), "T1", 15, 0)
	require.Error(t, err)
}
