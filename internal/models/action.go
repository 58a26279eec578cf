package models

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ActionType selects the action variant of an automation
type ActionType string

const (
	ActionAgentCommand ActionType = "agent_command"
	ActionServiceCall  ActionType = "service_call"
)

// Action is the effect performed when an automation fires.
// The set of implementations is closed: AgentCommand and ServiceCall.
type Action interface {
	Type() ActionType
	normalize() (Action, error)
}

// AgentCommand replays free text through the command pipeline
type AgentCommand struct {
	Command string `json:"command"`
}

func (AgentCommand) Type() ActionType { return ActionAgentCommand }

func (a AgentCommand) normalize() (Action, error) {
	cmd := strings.TrimSpace(a.Command)
	if cmd == "" {
		return nil, invalid("action_config.command", "is required")
	}
	return AgentCommand{Command: cmd}, nil
}

// ServiceCall is sent directly to the device platform
type ServiceCall struct {
	Domain  string         `json:"domain"`
	Service string         `json:"service"`
	Target  map[string]any `json:"target"`
	Data    map[string]any `json:"data,omitempty"`
}

func (ServiceCall) Type() ActionType { return ActionServiceCall }

// EntityID returns the target entity of the call, or "" if unset
func (a ServiceCall) EntityID() string {
	id, _ := a.Target["entity_id"].(string)
	return id
}

func (a ServiceCall) normalize() (Action, error) {
	out := ServiceCall{
		Domain:  strings.TrimSpace(a.Domain),
		Service: strings.TrimSpace(a.Service),
		Target:  a.Target,
		Data:    a.Data,
	}
	if out.Domain == "" {
		return nil, invalid("action_config.domain", "is required")
	}
	if out.Service == "" {
		return nil, invalid("action_config.service", "is required")
	}
	if strings.TrimSpace(out.EntityID()) == "" {
		return nil, invalid("action_config.target.entity_id", "is required")
	}
	return out, nil
}

// NormalizeAction validates a and returns its canonical form
func NormalizeAction(a Action) (Action, error) {
	if a == nil {
		return nil, invalid("action_type", "is required")
	}
	return a.normalize()
}

// DecodeAction parses and validates an action payload of the given type
func DecodeAction(kind ActionType, raw json.RawMessage) (Action, error) {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil, invalid("action_config", "is required")
	}
	switch kind {
	case ActionAgentCommand:
		var a AgentCommand
		if err := decodeStrict(raw, &a); err != nil {
			return nil, invalid("action_config", "%v", err)
		}
		return a.normalize()
	case ActionServiceCall:
		var a ServiceCall
		if err := decodeStrict(raw, &a); err != nil {
			return nil, invalid("action_config", "%v", err)
		}
		return a.normalize()
	case "":
		return nil, invalid("action_type", "is required")
	default:
		return nil, invalid("action_type", "unknown action type %q", kind)
	}
}

// Describe renders an action for humans
func Describe(a Action) string {
	switch act := a.(type) {
	case AgentCommand:
		return act.Command
	case ServiceCall:
		return act.Domain + "." + act.Service + " " + act.EntityID()
	default:
		return ""
	}
}
