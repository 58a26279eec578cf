package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"homeassist/internal/automation"
	"homeassist/internal/models"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// TypeRunAutomation runs one automation out of band
const TypeRunAutomation = "automation:run"

// RunPayload is the payload of a TypeRunAutomation task
type RunPayload struct {
	AutomationID string `json:"automation_id"`
}

// NewRunTask builds a task that runs the automation with the given id
func NewRunTask(automationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(RunPayload{AutomationID: automationID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRunAutomation, payload, asynq.MaxRetry(3), asynq.Timeout(time.Minute)), nil
}

// Runner executes an automation immediately
type Runner interface {
	RunNow(ctx context.Context, id string) (automation.Result, error)
}

// NewRunHandler handles TypeRunAutomation tasks. A missing automation or a
// malformed payload is not retried; a failed execution is.
func NewRunHandler(runner Runner, logger *zap.Logger) asynq.HandlerFunc {
	logger = logger.Named("taskqueue")
	return func(ctx context.Context, t *asynq.Task) error {
		var payload RunPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
		}
		if payload.AutomationID == "" {
			return fmt.Errorf("%s without automation id: %w", t.Type(), asynq.SkipRetry)
		}

		res, err := runner.RunNow(ctx, payload.AutomationID)
		if errors.Is(err, models.ErrNotFound) {
			logger.Warn("run requested for unknown automation", zap.String("automation_id", payload.AutomationID))
			return fmt.Errorf("automation %s: %v: %w", payload.AutomationID, err, asynq.SkipRetry)
		}
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("automation %s failed: %s", payload.AutomationID, res.Detail)
		}
		logger.Info("manual run completed", zap.String("automation_id", payload.AutomationID))
		return nil
	}
}
