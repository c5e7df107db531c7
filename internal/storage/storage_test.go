package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copytrade/engine/internal/model"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordIdempotencyKeyIsIdempotent(t *testing.T) {
	s := newTestStorage(t)

	fresh, err := s.RecordIdempotencyKey("sig1:follower1", "plan-1")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = s.RecordIdempotencyKey("sig1:follower1", "plan-2")
	require.NoError(t, err)
	assert.False(t, fresh)

	seen, err := s.SeenIdempotencyKey("sig1:follower1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = s.SeenIdempotencyKey("never-seen")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRecordOutcomeRoundTrips(t *testing.T) {
	s := newTestStorage(t)

	outcome := &model.TradeOutcome{
		PlanID:             "plan-1",
		SubmittedSignature: "abc123",
		Status:             model.Landed,
		ProgramLogTail:     []string{"log line 1", "log line 2"},
		Latency:            model.LatencyBreakdown{ObservedToBuild: 10 * time.Millisecond},
		EmittedAt:          time.Now().Truncate(time.Second),
	}
	require.NoError(t, s.RecordOutcome(outcome))

	got, err := s.OutcomeByPlanID("plan-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, outcome.Status, got.Status)
	assert.Equal(t, outcome.SubmittedSignature, got.SubmittedSignature)
	assert.Equal(t, outcome.ProgramLogTail, got.ProgramLogTail)
	assert.Equal(t, outcome.Latency.ObservedToBuild, got.Latency.ObservedToBuild)

	n, err := s.CountByStatus(model.Landed)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOutcomeByPlanIDMissingReturnsNil(t *testing.T) {
	s := newTestStorage(t)
	got, err := s.OutcomeByPlanID("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRecordOutcomeOverwritesPriorRow(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.RecordOutcome(&model.TradeOutcome{PlanID: "p", Status: model.TimedOut}))
	require.NoError(t, s.RecordOutcome(&model.TradeOutcome{PlanID: "p", Status: model.Landed}))

	got, err := s.OutcomeByPlanID("p")
	require.NoError(t, err)
	assert.Equal(t, model.Landed, got.Status)
}

func TestPruneIdempotencyKeysOlderThan(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.RecordIdempotencyKey("k1", "plan-1")
	require.NoError(t, err)

	require.NoError(t, s.PruneIdempotencyKeysOlderThan(time.Now().Add(time.Hour)))

	seen, err := s.SeenIdempotencyKey("k1")
	require.NoError(t, err)
	assert.False(t, seen)
}
