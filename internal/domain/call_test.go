package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectCallFinish(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("never started is missed", func(t *testing.T) {
		c := &DirectCall{Status: CallStatusRinging}
		c.Finish(now)

		assert.Equal(t, CallStatusMissed, c.Status)
		assert.Nil(t, c.DurationSeconds)
		require.NotNil(t, c.EndedAt)
		assert.Equal(t, now, *c.EndedAt)
	})

	t.Run("started is completed with floored duration", func(t *testing.T) {
		started := now.Add(-5*time.Second - 900*time.Millisecond)
		c := &DirectCall{Status: CallStatusActive, StartedAt: &started}
		c.Finish(now)

		assert.Equal(t, CallStatusCompleted, c.Status)
		require.NotNil(t, c.DurationSeconds)
		assert.Equal(t, 5, *c.DurationSeconds)
	})

	t.Run("clock skew clamps to zero", func(t *testing.T) {
		started := now.Add(3 * time.Second)
		c := &DirectCall{Status: CallStatusActive, StartedAt: &started}
		c.Finish(now)

		assert.Equal(t, 0, *c.DurationSeconds)
	})
}

func TestGroupCallJoinIsIdempotent(t *testing.T) {
	now := time.Now()
	a, b := uuid.New(), uuid.New()
	g := &GroupCall{
		Status:               CallStatusActive,
		StartedAt:            &now,
		ParticipantsAccepted: []uuid.UUID{a},
		ParticipantsActive:   []uuid.UUID{a},
	}

	assert.True(t, g.Join(b, now))
	assert.False(t, g.Join(b, now))

	assert.Equal(t, []uuid.UUID{a, b}, g.ParticipantsAccepted)
	assert.Equal(t, []uuid.UUID{a, b}, g.ParticipantsActive)
}

func TestGroupCallJoinSetsMissingStart(t *testing.T) {
	now := time.Now()
	g := &GroupCall{Status: CallStatusRinging}

	g.Join(uuid.New(), now)

	assert.Equal(t, CallStatusActive, g.Status)
	require.NotNil(t, g.StartedAt)
}

func TestGroupCallLeaveEndsWhenEmpty(t *testing.T) {
	start := time.Now()
	a, b := uuid.New(), uuid.New()
	g := &GroupCall{
		Status:               CallStatusActive,
		StartedAt:            &start,
		ParticipantsAccepted: []uuid.UUID{a, b},
		ParticipantsActive:   []uuid.UUID{a, b},
	}

	assert.False(t, g.Leave(a, start.Add(time.Second)))
	assert.False(t, g.Leave(a, start.Add(time.Second)))
	assert.Equal(t, []uuid.UUID{b}, g.ParticipantsActive)

	assert.True(t, g.Leave(b, start.Add(42*time.Second)))
	assert.Empty(t, g.ParticipantsActive)
	assert.Equal(t, CallStatusCompleted, g.Status)
	assert.Equal(t, 42, *g.DurationSeconds)
	// accepted list never shrinks
	assert.Equal(t, []uuid.UUID{a, b}, g.ParticipantsAccepted)

	// a second leave on an ended call does not re-finish it
	assert.False(t, g.Leave(b, start.Add(time.Hour)))
	assert.Equal(t, 42, *g.DurationSeconds)
}

func TestPairKeyIsSymmetric(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	assert.Equal(t, PairKey(a, b), PairKey(b, a))
	assert.NotEqual(t, PairKey(a, b), PairKey(a, uuid.New()))
}

func TestParseCallType(t *testing.T) {
	assert.Equal(t, CallTypeVideo, ParseCallType("video"))
	assert.Equal(t, CallTypeAudio, ParseCallType("audio"))
	assert.Equal(t, CallTypeAudio, ParseCallType(""))
}
