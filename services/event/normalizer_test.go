package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeFocusSession(t *testing.T) {
	ev, err := Normalize(Submission{
		UserID:    "user-1",
		EventType: "focus_session",
		Payload: map[string]any{
			"duration_minutes": float64(90),
			"mode":             "deep_work",
		},
		IdempotencyKey: "session-abc",
	})
	require.NoError(t, err)
	require.Equal(t, TypeFocusSession, ev.Type)
	require.Equal(t, 90, ev.DurationMinutes)
	require.Equal(t, "deep_work", ev.Mode)
	require.Equal(t, 1, ev.Count)
	require.False(t, ev.OccurredAt.IsZero())
}

func TestNormalizeRequiresIdentity(t *testing.T) {
	_, err := Normalize(Submission{EventType: "task_completed", IdempotencyKey: "k"})
	require.Error(t, err)

	_, err = Normalize(Submission{UserID: "user-1", EventType: "task_completed"})
	require.Error(t, err)
}

func TestNormalizeUnknownTypeKept(t *testing.T) {
	ev, err := Normalize(Submission{
		UserID:         "user-1",
		EventType:      "mystery_event",
		IdempotencyKey: "k-1",
	})
	require.NoError(t, err)
	require.Equal(t, TypeUnknown, ev.Type)
	require.Equal(t, "mystery_event", ev.RawType)
}

func TestNormalizeMalformedPayloadDegrades(t *testing.T) {
	ev, err := Normalize(Submission{
		UserID:    "user-1",
		EventType: "task_completed",
		Payload: map[string]any{
			"effort":           "not-a-number",
			"duration_minutes": []any{"nope"},
			"count":            -3,
		},
		IdempotencyKey: "k-2",
	})
	require.NoError(t, err)
	require.Equal(t, 0, ev.Effort)
	require.Equal(t, 0, ev.DurationMinutes)
	require.Equal(t, 1, ev.Count)
}

func TestNormalizeClampsEffort(t *testing.T) {
	ev, err := Normalize(Submission{
		UserID:         "user-1",
		EventType:      "task_completed",
		Payload:        map[string]any{"effort": 42},
		IdempotencyKey: "k-3",
	})
	require.NoError(t, err)
	require.Equal(t, 10, ev.Effort)
}

func TestNormalizeKeepsOccurredAt(t *testing.T) {
	at := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	ev, err := Normalize(Submission{
		UserID:         "user-1",
		EventType:      "spam_blocked",
		Payload:        map[string]any{"count": 5},
		OccurredAt:     at,
		IdempotencyKey: "k-4",
	})
	require.NoError(t, err)
	require.True(t, ev.OccurredAt.Equal(at))
	require.Equal(t, 5, ev.Count)
}
