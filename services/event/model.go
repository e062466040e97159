package event

import (
	"time"

	"gorm.io/datatypes"
)

type Type string

const (
	TypeTaskCompleted  Type = "task_completed"
	TypeInstantCatchup Type = "instant_catchup"
	TypeFocusSession   Type = "focus_session"
	TypeSpamBlocked    Type = "spam_blocked"
	TypeAutoArchive    Type = "auto_archive"
	TypeUnknown        Type = "unknown"
)

func (t Type) String() string {
	switch t {
	case TypeTaskCompleted, TypeInstantCatchup, TypeFocusSession, TypeSpamBlocked, TypeAutoArchive:
		return string(t)
	default:
		return string(TypeUnknown)
	}
}

// ParseType maps a raw event type string onto the known set. Anything
// unrecognised becomes TypeUnknown; the event is still carried through for
// audit, it just earns nothing.
func ParseType(s string) Type {
	switch Type(s) {
	case TypeTaskCompleted, TypeInstantCatchup, TypeFocusSession, TypeSpamBlocked, TypeAutoArchive:
		return Type(s)
	default:
		return TypeUnknown
	}
}

// Submission is the raw inbound behavioral event as handed over by the
// session/task/spam handlers.
type Submission struct {
	UserID         string         `json:"user_id"`
	EventType      string         `json:"event_type"`
	Payload        map[string]any `json:"payload"`
	OccurredAt     time.Time      `json:"occurred_at"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// RewardableEvent is the canonical, immutable form of a behavioral event.
// Payload fields are extracted defensively; the raw payload is retained for
// audit.
type RewardableEvent struct {
	UserID          string
	Type            Type
	RawType         string
	Effort          int
	DurationMinutes int
	Mode            string
	MessageCount    int
	Count           int
	OccurredAt      time.Time
	IdempotencyKey  string
	Raw             datatypes.JSON
}

// Attributes exposes the event as a flat map, used as the evaluation context
// for promo rule expressions.
func (e *RewardableEvent) Attributes() map[string]any {
	return map[string]any{
		"user_id":          e.UserID,
		"event_type":       e.Type.String(),
		"effort":           e.Effort,
		"duration_minutes": e.DurationMinutes,
		"mode":             e.Mode,
		"message_count":    e.MessageCount,
		"count":            e.Count,
	}
}
