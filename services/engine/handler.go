package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"rewardplane/services/event"
)

// HandleApplyRewardTask is the asynchronous intake path. Retries are safe:
// the idempotency key makes a re-run a no-op.
func (s *Service) HandleApplyRewardTask(ctx context.Context, t *asynq.Task) error {
	var payload ApplyRewardPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("malformed apply_reward payload: %w: %w", err, asynq.SkipRetry)
	}

	_, err := s.SubmitEvent(ctx, event.Submission{
		UserID:         payload.UserID,
		EventType:      payload.EventType,
		Payload:        payload.Payload,
		OccurredAt:     payload.OccurredAt,
		IdempotencyKey: payload.IdempotencyKey,
	})
	return err
}

// HandleSettlementCheckTask re-evaluates one user's settlement eligibility.
// Signal only: it moves no funds and is safe to run any number of times.
func (s *Service) HandleSettlementCheckTask(ctx context.Context, t *asynq.Task) error {
	var payload SettlementCheckPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("malformed settlement_check payload: %w: %w", err, asynq.SkipRetry)
	}

	eligible, err := s.balance.IsSettlementEligible(ctx, payload.UserID)
	if err != nil {
		return err
	}
	if !eligible {
		zap.L().Debug("user no longer settlement eligible", zap.String("user_id", payload.UserID))
	}
	return nil
}
