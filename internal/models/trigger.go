package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TriggerType selects the trigger variant of an automation
type TriggerType string

const (
	TriggerTime  TriggerType = "time"
	TriggerState TriggerType = "state"
)

// Trigger is the condition that makes an automation eligible to fire.
// The set of implementations is closed: TimeTrigger and StateTrigger.
type Trigger interface {
	Type() TriggerType
	normalize() (Trigger, error)
}

// TimeTrigger fires at a time of day on a set of weekdays.
// An empty Days set means every day.
type TimeTrigger struct {
	Time string `json:"time"`
	Days []Day  `json:"days"`
}

func (TimeTrigger) Type() TriggerType { return TriggerTime }

// Clock returns the hour and minute of a normalized trigger
func (t TimeTrigger) Clock() (hour, minute int) {
	parsed, err := time.Parse("15:04", t.Time)
	if err != nil {
		return -1, -1
	}
	return parsed.Hour(), parsed.Minute()
}

// MatchesDay reports whether the weekday of ts is in the day set
func (t TimeTrigger) MatchesDay(ts time.Time) bool {
	if len(t.Days) == 0 {
		return true
	}
	today := DayOf(ts.Weekday())
	for _, d := range t.Days {
		if d == today {
			return true
		}
	}
	return false
}

func (t TimeTrigger) normalize() (Trigger, error) {
	raw := strings.TrimSpace(t.Time)
	if raw == "" {
		return nil, invalid("trigger_config.time", "is required")
	}
	parsed, err := time.Parse("15:04", raw)
	if err != nil {
		return nil, invalid("trigger_config.time", "must be HH:MM in 24-hour format, got %q", t.Time)
	}
	days, err := NormalizeDays(t.Days)
	if err != nil {
		return nil, err
	}
	return TimeTrigger{Time: parsed.Format("15:04"), Days: days}, nil
}

// StateTrigger fires when EntityID transitions into To.
// From, when set, must be the previously observed state.
type StateTrigger struct {
	EntityID string `json:"entity_id"`
	From     string `json:"from,omitempty"`
	To       string `json:"to"`
}

func (StateTrigger) Type() TriggerType { return TriggerState }

func (t StateTrigger) normalize() (Trigger, error) {
	out := StateTrigger{
		EntityID: strings.TrimSpace(t.EntityID),
		From:     strings.TrimSpace(t.From),
		To:       strings.TrimSpace(t.To),
	}
	if out.EntityID == "" {
		return nil, invalid("trigger_config.entity_id", "is required")
	}
	if out.To == "" {
		return nil, invalid("trigger_config.to", "is required")
	}
	return out, nil
}

// NormalizeTrigger validates t and returns its canonical form
func NormalizeTrigger(t Trigger) (Trigger, error) {
	if t == nil {
		return nil, invalid("trigger_type", "is required")
	}
	return t.normalize()
}

// DecodeTrigger parses and validates a trigger payload of the given type
func DecodeTrigger(kind TriggerType, raw json.RawMessage) (Trigger, error) {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil, invalid("trigger_config", "is required")
	}
	switch kind {
	case TriggerTime:
		var t TimeTrigger
		if err := decodeStrict(raw, &t); err != nil {
			return nil, invalid("trigger_config", "%v", err)
		}
		return t.normalize()
	case TriggerState:
		var t StateTrigger
		if err := decodeStrict(raw, &t); err != nil {
			return nil, invalid("trigger_config", "%v", err)
		}
		return t.normalize()
	case "":
		return nil, invalid("trigger_type", "is required")
	default:
		return nil, invalid("trigger_type", "unknown trigger type %q", kind)
	}
}

func decodeStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	return nil
}
