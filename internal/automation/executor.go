package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"homeassist/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// CommandPipeline runs a natural-language instruction and returns the reply
type CommandPipeline interface {
	Run(ctx context.Context, text string) (string, error)
}

// ServiceCaller sends a structured service call to the device platform
type ServiceCaller interface {
	Call(ctx context.Context, domain, service string, target, data map[string]any) error
}

// Result is the outcome of one execution
type Result struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail"`
}

// ExecutionError wraps a collaborator failure for one automation
type ExecutionError struct {
	AutomationID string
	Err          error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("automation %s: %v", e.AutomationID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// ErrNoCollaborator is returned when the action's collaborator is not configured
var ErrNoCollaborator = errors.New("collaborator not configured")

// Executor dispatches automation actions. Execute never returns an error and
// never panics; failures are reported in the Result.
type Executor struct {
	pipeline CommandPipeline
	caller   ServiceCaller
	timeout  time.Duration
	logger   *zap.Logger
}

// NewExecutor creates an executor. Either collaborator may be nil, in which
// case actions of that type fail.
func NewExecutor(pipeline CommandPipeline, caller ServiceCaller, timeout time.Duration, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		pipeline: pipeline,
		caller:   caller,
		timeout:  timeout,
		logger:   logger.Named("executor"),
	}
}

// Execute runs the action of a
func (e *Executor) Execute(ctx context.Context, a models.Automation) (res Result) {
	ctx, span := otel.Tracer("homeassist/automation").Start(ctx, "automation.execute")
	span.SetAttributes(
		attribute.String("automation.id", a.ID),
		attribute.String("automation.action_type", actionType(a.Action)),
	)
	defer span.End()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			res = e.fail(a, fmt.Errorf("panic: %v", r))
			span.SetStatus(codes.Error, res.Detail)
		}
	}()

	detail, err := e.dispatch(ctx, a.Action)
	if err != nil {
		res = e.fail(a, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, res.Detail)
		return res
	}
	e.logger.Info("automation executed",
		zap.String("automation_id", a.ID),
		zap.String("name", a.Name),
		zap.String("detail", detail))
	return Result{Success: true, Detail: detail}
}

func (e *Executor) dispatch(ctx context.Context, action models.Action) (string, error) {
	switch act := action.(type) {
	case models.AgentCommand:
		if e.pipeline == nil {
			return "", fmt.Errorf("command pipeline: %w", ErrNoCollaborator)
		}
		return e.pipeline.Run(ctx, act.Command)
	case models.ServiceCall:
		if e.caller == nil {
			return "", fmt.Errorf("service caller: %w", ErrNoCollaborator)
		}
		if err := e.caller.Call(ctx, act.Domain, act.Service, act.Target, act.Data); err != nil {
			return "", err
		}
		return fmt.Sprintf("called %s.%s on %s", act.Domain, act.Service, act.EntityID()), nil
	default:
		return "", fmt.Errorf("unsupported action %T", action)
	}
}

func (e *Executor) fail(a models.Automation, err error) Result {
	execErr := &ExecutionError{AutomationID: a.ID, Err: err}
	e.logger.Warn("automation execution failed",
		zap.String("automation_id", a.ID),
		zap.String("name", a.Name),
		zap.Error(execErr))
	return Result{Success: false, Detail: err.Error()}
}

func actionType(a models.Action) string {
	if a == nil {
		return ""
	}
	return string(a.Type())
}
