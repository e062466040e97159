package event

import (
	"encoding/json"
	"strconv"
	"time"

	"gorm.io/datatypes"

	"rewardplane/pkg/errutil"
)

// Normalize validates a raw submission and produces the canonical
// RewardableEvent. Missing identity fields reject; malformed payload fields
// degrade to zero values so the event can still be logged and earn nothing.
func Normalize(sub Submission) (*RewardableEvent, error) {
	if sub.UserID == "" {
		return nil, errutil.BadRequest("user_id is required", nil)
	}
	if sub.IdempotencyKey == "" {
		return nil, errutil.BadRequest("idempotency_key is required", nil)
	}

	occurredAt := sub.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	raw, _ := json.Marshal(sub.Payload)

	ev := &RewardableEvent{
		UserID:          sub.UserID,
		Type:            ParseType(sub.EventType),
		RawType:         sub.EventType,
		Effort:          clamp(intField(sub.Payload, "effort"), 0, 10),
		DurationMinutes: max(intField(sub.Payload, "duration_minutes"), 0),
		Mode:            stringField(sub.Payload, "mode"),
		MessageCount:    max(intField(sub.Payload, "message_count"), 0),
		Count:           intField(sub.Payload, "count"),
		OccurredAt:      occurredAt,
		IdempotencyKey:  sub.IdempotencyKey,
		Raw:             datatypes.JSON(raw),
	}

	if ev.Count <= 0 {
		ev.Count = 1
	}

	return ev, nil
}

func intField(payload map[string]any, key string) int {
	if payload == nil {
		return 0
	}

	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func stringField(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
