package models

import (
	"encoding/json"

	"homeassist/internal/automation"
	"homeassist/internal/models"
)

type CreateAutomationRequest struct {
	Name          string             `json:"name"`
	Enabled       *bool              `json:"enabled"`
	TriggerType   models.TriggerType `json:"trigger_type"`
	TriggerConfig json.RawMessage    `json:"trigger_config"`
	ActionType    models.ActionType  `json:"action_type"`
	ActionConfig  json.RawMessage    `json:"action_config"`
}

// ToNewAutomation converts the request to the store's input
func (r CreateAutomationRequest) ToNewAutomation() automation.NewAutomation {
	return automation.NewAutomation{
		Name:          r.Name,
		Enabled:       r.Enabled,
		TriggerType:   r.TriggerType,
		TriggerConfig: r.TriggerConfig,
		ActionType:    r.ActionType,
		ActionConfig:  r.ActionConfig,
	}
}

type UpdateAutomationRequest struct {
	Name          *string             `json:"name"`
	Enabled       *bool               `json:"enabled"`
	TriggerType   *models.TriggerType `json:"trigger_type"`
	TriggerConfig json.RawMessage     `json:"trigger_config"`
	ActionType    *models.ActionType  `json:"action_type"`
	ActionConfig  json.RawMessage     `json:"action_config"`
}

// ToPatch converts the request to the store's partial update
func (r UpdateAutomationRequest) ToPatch() automation.Patch {
	return automation.Patch{
		Name:          r.Name,
		Enabled:       r.Enabled,
		TriggerType:   r.TriggerType,
		TriggerConfig: r.TriggerConfig,
		ActionType:    r.ActionType,
		ActionConfig:  r.ActionConfig,
	}
}

// ToggleRequest sets the enabled flag; an empty body flips it
type ToggleRequest struct {
	Enabled *bool `json:"enabled"`
}

type RunResponse struct {
	AutomationID string             `json:"automation_id"`
	Queued       bool               `json:"queued"`
	TaskID       string             `json:"task_id,omitempty"`
	Result       *automation.Result `json:"result,omitempty"`
}

type NextRunResponse struct {
	AutomationID string  `json:"automation_id"`
	NextRun      *string `json:"next_run"`
}

type ConversationRequest struct {
	ConversationID string `json:"conversation_id"`
	Utterance      string `json:"utterance" binding:"required"`
}

type ConversationResponse struct {
	ConversationID string             `json:"conversation_id"`
	Response       string             `json:"response"`
	Consumed       bool               `json:"consumed"`
	State          string             `json:"state"`
	Automation     *models.Automation `json:"automation,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}
