package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"homeassist/internal/automation"
	"homeassist/internal/conversation"
	"homeassist/internal/models"
	"homeassist/internal/scheduler"
	webModels "homeassist/internal/web/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AutomationStore is the automation CRUD surface the API needs
type AutomationStore interface {
	Create(ctx context.Context, in automation.NewAutomation) (models.Automation, error)
	Get(ctx context.Context, id string) (models.Automation, error)
	List(ctx context.Context, enabledOnly bool) ([]models.Automation, error)
	Update(ctx context.Context, id string, p automation.Patch) (models.Automation, error)
	Delete(ctx context.Context, id string) error
	SetEnabled(ctx context.Context, id string, enabled bool) (models.Automation, error)
	ListRuns(ctx context.Context, id string, limit int) ([]models.Run, error)
}

// Runner executes an automation synchronously
type Runner interface {
	RunNow(ctx context.Context, id string) (automation.Result, error)
}

// Enqueuer queues an automation run on the task queue
type Enqueuer interface {
	EnqueueRun(ctx context.Context, id string) (string, error)
}

type Conversations interface {
	HandleTurn(ctx context.Context, id, utterance string) (conversation.Reply, error)
}

type SchedulerStats interface {
	Statistics() scheduler.Statistics
}

type StateReader interface {
	GetStates(ctx context.Context) (map[string]string, error)
}

// Dependencies are the collaborators behind the API. Enqueuer and Pipeline
// are optional.
type Dependencies struct {
	Store         AutomationStore
	Runner        Runner
	Enqueuer      Enqueuer
	Conversations Conversations
	Pipeline      automation.CommandPipeline
	Scheduler     SchedulerStats
	States        StateReader
	Location      *time.Location
	Logger        *zap.Logger
}

func (d Dependencies) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger.Named("api")
}

// writeError maps domain errors to HTTP responses
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	var verr *models.ValidationError
	var unavailable *scheduler.UnavailableError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, webModels.ErrorResponse{Error: verr.Error(), Field: verr.Field})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, webModels.ErrorResponse{Error: "Automation not found"})
	case errors.As(err, &unavailable):
		logger.Warn("collaborator unavailable", zap.String("collaborator", unavailable.Collaborator), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, webModels.ErrorResponse{Error: unavailable.Collaborator + " unavailable"})
	default:
		_ = c.Error(err)
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, webModels.ErrorResponse{Error: "Internal error"})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, webModels.ErrorResponse{Error: "Invalid request: " + err.Error()})
}
