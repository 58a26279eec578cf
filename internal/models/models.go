package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Automation represents a persisted rule pairing one trigger with one action
type Automation struct {
	ID              string
	Name            string
	Enabled         bool
	Trigger         Trigger
	Action          Action
	LastTriggeredAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// automationJSON is the wire shape of an Automation
type automationJSON struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Enabled         bool            `json:"enabled"`
	TriggerType     TriggerType     `json:"trigger_type"`
	TriggerConfig   json.RawMessage `json:"trigger_config"`
	ActionType      ActionType      `json:"action_type"`
	ActionConfig    json.RawMessage `json:"action_config"`
	LastTriggeredAt *time.Time      `json:"last_triggered_at"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// MarshalJSON flattens the trigger and action variants into type/config pairs
func (a Automation) MarshalJSON() ([]byte, error) {
	out := automationJSON{
		ID:              a.ID,
		Name:            a.Name,
		Enabled:         a.Enabled,
		LastTriggeredAt: a.LastTriggeredAt,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
	if a.Trigger != nil {
		raw, err := json.Marshal(a.Trigger)
		if err != nil {
			return nil, fmt.Errorf("marshal trigger: %w", err)
		}
		out.TriggerType = a.Trigger.Type()
		out.TriggerConfig = raw
	}
	if a.Action != nil {
		raw, err := json.Marshal(a.Action)
		if err != nil {
			return nil, fmt.Errorf("marshal action: %w", err)
		}
		out.ActionType = a.Action.Type()
		out.ActionConfig = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes and validates the trigger and action variants
func (a *Automation) UnmarshalJSON(data []byte) error {
	var in automationJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	trigger, err := DecodeTrigger(in.TriggerType, in.TriggerConfig)
	if err != nil {
		return err
	}
	action, err := DecodeAction(in.ActionType, in.ActionConfig)
	if err != nil {
		return err
	}
	*a = Automation{
		ID:              in.ID,
		Name:            in.Name,
		Enabled:         in.Enabled,
		Trigger:         trigger,
		Action:          action,
		LastTriggeredAt: in.LastTriggeredAt,
		CreatedAt:       in.CreatedAt,
		UpdatedAt:       in.UpdatedAt,
	}
	return nil
}

// Run records one execution of an automation. Repositories keep Duration at
// millisecond precision and it is served as duration_ms.
type Run struct {
	ID           int64         `json:"id"`
	AutomationID string        `json:"automation_id"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"-"`
	Success      bool          `json:"success"`
	Detail       string        `json:"detail"`
	Source       RunSource     `json:"source"`
}

type runJSON struct {
	run
	DurationMS int64 `json:"duration_ms"`
}

type run Run

func (r Run) MarshalJSON() ([]byte, error) {
	return json.Marshal(runJSON{run: run(r), DurationMS: r.Duration.Milliseconds()})
}

func (r *Run) UnmarshalJSON(data []byte) error {
	var in runJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = Run(in.run)
	r.Duration = time.Duration(in.DurationMS) * time.Millisecond
	return nil
}

// RunSource names what caused a run
type RunSource string

const (
	RunSourceTime   RunSource = "time"
	RunSourceState  RunSource = "state"
	RunSourceManual RunSource = "manual"
)
