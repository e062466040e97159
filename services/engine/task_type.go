package engine

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeApplyReward     = "reward:apply_event"
	TypeSettlementCheck = "reward:settlement_check"
)

// ApplyRewardPayload carries one raw behavior event through the queue.
type ApplyRewardPayload struct {
	UserID         string         `json:"user_id"`
	EventType      string         `json:"event_type"`
	Payload        map[string]any `json:"payload,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
	IdempotencyKey string         `json:"idempotency_key"`
}

func NewApplyRewardTask(p ApplyRewardPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeApplyReward, payload, asynq.Queue("critical")), nil
}

type SettlementCheckPayload struct {
	UserID string `json:"user_id"`
}

func NewSettlementCheckTask(p SettlementCheckPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSettlementCheck, payload, asynq.Queue("low")), nil
}
