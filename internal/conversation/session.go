// Package conversation tracks multi-turn dialogues that build one automation
// at a time from natural-language utterances.
package conversation

import (
	"fmt"
	"time"

	"homeassist/internal/models"
)

// State is the dialogue state of a session
type State string

const (
	StateIdle       State = "IDLE"
	StateCollecting State = "COLLECTING"
	StateConfirming State = "CONFIRMING"
)

// Draft is a partially specified automation
type Draft struct {
	Name          string             `json:"name,omitempty"`
	TriggerType   models.TriggerType `json:"trigger_type,omitempty"`
	Time          string             `json:"time,omitempty"`
	Days          []models.Day       `json:"days,omitempty"`
	EntityID      string             `json:"entity_id,omitempty"`
	From          string             `json:"from,omitempty"`
	To            string             `json:"to,omitempty"`
	ActionCommand string             `json:"action_command,omitempty"`
}

// IsComplete reports whether the draft can be turned into an automation:
// a trigger type with all of its required fields, and an action.
func (d Draft) IsComplete() bool {
	if d.ActionCommand == "" {
		return false
	}
	switch d.TriggerType {
	case models.TriggerTime:
		return d.Time != ""
	case models.TriggerState:
		return d.EntityID != "" && d.To != ""
	default:
		return false
	}
}

// Trigger builds the trigger of a complete draft
func (d Draft) Trigger() models.Trigger {
	if d.TriggerType == models.TriggerState {
		return models.StateTrigger{EntityID: d.EntityID, From: d.From, To: d.To}
	}
	days := d.Days
	if days == nil {
		days = []models.Day{}
	}
	return models.TimeTrigger{Time: d.Time, Days: days}
}

// Action builds the action of a complete draft
func (d Draft) Action() models.Action {
	return models.AgentCommand{Command: d.ActionCommand}
}

// question returns the clarifying question for the first missing field
func (d Draft) question() string {
	switch {
	case d.ActionCommand == "":
		return "What should this automation do?"
	case d.TriggerType == models.TriggerState && d.EntityID == "":
		return "Which device should trigger this automation?"
	case d.TriggerType == models.TriggerState && d.To == "":
		return fmt.Sprintf("What state should %s change to?", d.EntityID)
	default:
		return "At what time should this automation run?"
	}
}

// describeTrigger renders the trigger part of a summary
func (d Draft) describeTrigger() string {
	if d.TriggerType == models.TriggerState {
		if d.From != "" {
			return fmt.Sprintf("when %s changes from %s to %s", d.EntityID, d.From, d.To)
		}
		return fmt.Sprintf("when %s changes to %s", d.EntityID, d.To)
	}
	if len(d.Days) == 0 {
		return fmt.Sprintf("at %s every day", d.Time)
	}
	return fmt.Sprintf("at %s on %s", d.Time, models.FormatDays(d.Days))
}

// merge folds newly extracted fields into the draft. The action is only
// taken when withAction is set.
func (d *Draft) merge(e Extraction, withAction bool) {
	if e.Name != "" {
		d.Name = e.Name
	}
	switch {
	case e.EntityID != "":
		d.TriggerType = models.TriggerState
		d.EntityID, d.From, d.To = e.EntityID, e.From, e.To
		d.Time, d.Days = "", nil
	case e.Time != "" || e.HasDays:
		if d.TriggerType != models.TriggerTime {
			d.EntityID, d.From, d.To = "", "", ""
		}
		d.TriggerType = models.TriggerTime
		if e.Time != "" {
			d.Time = e.Time
		}
		if e.HasDays {
			d.Days = e.Days
		}
	}
	if withAction && e.Action != "" {
		d.ActionCommand = e.Action
	}
}

// Session is the dialogue state of one conversation
type Session struct {
	ConversationID string    `json:"conversation_id"`
	State          State     `json:"state"`
	Draft          Draft     `json:"draft"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Expired reports whether the session has been idle longer than timeout at now
func (s Session) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastActivityAt) > timeout
}
