package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"homeassist/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Repository persists automation rows. Implementations return
// models.ErrNotFound for unknown ids.
type Repository interface {
	InsertAutomation(ctx context.Context, a models.Automation) error
	GetAutomation(ctx context.Context, id string) (models.Automation, error)
	ListAutomations(ctx context.Context, enabledOnly bool) ([]models.Automation, error)
	UpdateAutomation(ctx context.Context, a models.Automation) error
	DeleteAutomation(ctx context.Context, id string) error
	SetAutomationEnabled(ctx context.Context, id string, enabled bool, at time.Time) error
	MarkAutomationTriggered(ctx context.Context, id string, at time.Time) error
	InsertRun(ctx context.Context, run models.Run) error
	ListRuns(ctx context.Context, automationID string, limit int) ([]models.Run, error)
}

// NewAutomation is the input to Store.Create. Either the typed Trigger/Action
// or the raw type/config pairs must be set.
type NewAutomation struct {
	Name          string
	Enabled       *bool
	Trigger       models.Trigger
	Action        models.Action
	TriggerType   models.TriggerType
	TriggerConfig json.RawMessage
	ActionType    models.ActionType
	ActionConfig  json.RawMessage
}

// Patch carries the fields of an update; nil fields are left unchanged
type Patch struct {
	Name          *string
	Enabled       *bool
	TriggerType   *models.TriggerType
	TriggerConfig json.RawMessage
	ActionType    *models.ActionType
	ActionConfig  json.RawMessage
}

// Store is the validating front of the automation repository.
// It is the only writer of automation rows.
type Store struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// NewStore creates a store over repo
func NewStore(repo Repository, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		repo:   repo,
		logger: logger.Named("store"),
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
}

// Create validates and persists a new automation
func (s *Store) Create(ctx context.Context, in NewAutomation) (models.Automation, error) {
	trigger, err := resolveTrigger(in.Trigger, in.TriggerType, in.TriggerConfig)
	if err != nil {
		return models.Automation{}, err
	}
	action, err := resolveAction(in.Action, in.ActionType, in.ActionConfig)
	if err != nil {
		return models.Automation{}, err
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = GenerateName(action)
	}
	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}

	now := s.now().UTC()
	a := models.Automation{
		ID:        s.newID(),
		Name:      name,
		Enabled:   enabled,
		Trigger:   trigger,
		Action:    action,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InsertAutomation(ctx, a); err != nil {
		return models.Automation{}, fmt.Errorf("insert automation: %w", err)
	}
	s.logger.Info("automation created",
		zap.String("automation_id", a.ID),
		zap.String("name", a.Name),
		zap.String("trigger_type", string(trigger.Type())),
		zap.String("action_type", string(action.Type())))
	return a, nil
}

// Get fetches one automation
func (s *Store) Get(ctx context.Context, id string) (models.Automation, error) {
	return s.repo.GetAutomation(ctx, id)
}

// List returns automations ordered by id, optionally only enabled ones
func (s *Store) List(ctx context.Context, enabledOnly bool) ([]models.Automation, error) {
	return s.repo.ListAutomations(ctx, enabledOnly)
}

// Update applies a partial update; the merged record is re-validated before
// anything is written
func (s *Store) Update(ctx context.Context, id string, p Patch) (models.Automation, error) {
	a, err := s.repo.GetAutomation(ctx, id)
	if err != nil {
		return models.Automation{}, err
	}

	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return models.Automation{}, &models.ValidationError{Field: "name", Reason: "cannot be empty"}
		}
		a.Name = name
	}
	if p.Enabled != nil {
		a.Enabled = *p.Enabled
	}
	if p.TriggerType != nil || p.TriggerConfig != nil {
		kind := a.Trigger.Type()
		if p.TriggerType != nil {
			kind = *p.TriggerType
		}
		if kind != a.Trigger.Type() && p.TriggerConfig == nil {
			return models.Automation{}, &models.ValidationError{Field: "trigger_config", Reason: "is required when trigger_type changes"}
		}
		raw := p.TriggerConfig
		if raw == nil {
			raw, _ = json.Marshal(a.Trigger)
		}
		trigger, err := models.DecodeTrigger(kind, raw)
		if err != nil {
			return models.Automation{}, err
		}
		a.Trigger = trigger
	}
	if p.ActionType != nil || p.ActionConfig != nil {
		kind := a.Action.Type()
		if p.ActionType != nil {
			kind = *p.ActionType
		}
		if kind != a.Action.Type() && p.ActionConfig == nil {
			return models.Automation{}, &models.ValidationError{Field: "action_config", Reason: "is required when action_type changes"}
		}
		raw := p.ActionConfig
		if raw == nil {
			raw, _ = json.Marshal(a.Action)
		}
		action, err := models.DecodeAction(kind, raw)
		if err != nil {
			return models.Automation{}, err
		}
		a.Action = action
	}

	a.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateAutomation(ctx, a); err != nil {
		return models.Automation{}, fmt.Errorf("update automation %s: %w", id, err)
	}
	s.logger.Info("automation updated", zap.String("automation_id", id))
	return a, nil
}

// Delete removes an automation and its run history
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteAutomation(ctx, id); err != nil {
		return err
	}
	s.logger.Info("automation deleted", zap.String("automation_id", id))
	return nil
}

// SetEnabled toggles an automation
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) (models.Automation, error) {
	if err := s.repo.SetAutomationEnabled(ctx, id, enabled, s.now().UTC()); err != nil {
		return models.Automation{}, err
	}
	s.logger.Info("automation state changed", zap.String("automation_id", id), zap.Bool("enabled", enabled))
	return s.repo.GetAutomation(ctx, id)
}

// MarkTriggered records a successful fire at the given time
func (s *Store) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	return s.repo.MarkAutomationTriggered(ctx, id, at.UTC())
}

// RecordRun appends to the execution history
func (s *Store) RecordRun(ctx context.Context, run models.Run) error {
	run.StartedAt = run.StartedAt.UTC()
	return s.repo.InsertRun(ctx, run)
}

// ListRuns returns the most recent runs of an automation, newest first
func (s *Store) ListRuns(ctx context.Context, id string, limit int) ([]models.Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if _, err := s.repo.GetAutomation(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListRuns(ctx, id, limit)
}

// GenerateName derives a label from the action description
func GenerateName(a models.Action) string {
	desc := strings.TrimSpace(models.Describe(a))
	if desc == "" {
		return "Automation"
	}
	if utf8.RuneCountInString(desc) > 60 {
		desc = strings.TrimSpace(string([]rune(desc)[:60]))
	}
	r, size := utf8.DecodeRuneInString(desc)
	return string(unicode.ToUpper(r)) + desc[size:]
}

func resolveTrigger(t models.Trigger, kind models.TriggerType, raw json.RawMessage) (models.Trigger, error) {
	if t != nil {
		return models.NormalizeTrigger(t)
	}
	return models.DecodeTrigger(kind, raw)
}

func resolveAction(a models.Action, kind models.ActionType, raw json.RawMessage) (models.Action, error) {
	if a != nil {
		return models.NormalizeAction(a)
	}
	return models.DecodeAction(kind, raw)
}
