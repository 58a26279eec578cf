package automation

import (
	"testing"
	"time"

	"homeassist/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timeAutomation(id, at string, days ...models.Day) models.Automation {
	return models.Automation{
		ID:      id,
		Enabled: true,
		Trigger: models.TimeTrigger{Time: at, Days: days},
		Action:  models.AgentCommand{Command: "turn off lights"},
	}
}

func stateAutomation(id, entity, from, to string) models.Automation {
	return models.Automation{
		ID:      id,
		Enabled: true,
		Trigger: models.StateTrigger{EntityID: entity, From: from, To: to},
		Action:  models.AgentCommand{Command: "welcome home"},
	}
}

func ids(automations []models.Automation) []string {
	out := []string{}
	for _, a := range automations {
		out = append(out, a.ID)
	}
	return out
}

func TestDueTimeTriggers_MatchesClockAndDay(t *testing.T) {
	e := NewEvaluator(time.UTC, nil)
	// 2026-10-16 is a Friday
	now := time.Date(2026, 10, 16, 22, 0, 30, 0, time.UTC)

	disabled := timeAutomation("e", "22:00")
	disabled.Enabled = false

	autos := []models.Automation{
		timeAutomation("d", "22:00", models.Weekdays...),
		timeAutomation("b", "22:00"),
		timeAutomation("c", "22:00", models.Weekend...),
		timeAutomation("a", "22:01"),
		disabled,
		stateAutomation("f", "person.alice", "", "home"),
	}

	assert.Equal(t, []string{"b", "d"}, ids(e.DueTimeTriggers(now, autos)))
}

func TestDueTimeTriggers_NoDoubleFireInWindow(t *testing.T) {
	e := NewEvaluator(time.UTC, nil)
	now := time.Date(2026, 10, 16, 22, 0, 5, 0, time.UTC)
	a := timeAutomation("a", "22:00")

	require.Len(t, e.DueTimeTriggers(now, []models.Automation{a}), 1)

	fired := now
	a.LastTriggeredAt = &fired
	assert.Empty(t, e.DueTimeTriggers(now.Add(30*time.Second), []models.Automation{a}))

	// Same clock time on the next day is a new window.
	assert.Len(t, e.DueTimeTriggers(now.Add(24*time.Hour), []models.Automation{a}), 1)
}

func TestDueTimeTriggers_UsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	e := NewEvaluator(loc, nil)
	now := time.Date(2026, 10, 16, 20, 0, 0, 0, time.UTC)

	assert.Len(t, e.DueTimeTriggers(now, []models.Automation{timeAutomation("a", "22:00")}), 1)
	assert.Empty(t, e.DueTimeTriggers(now, []models.Automation{timeAutomation("a", "20:00")}))
}

func TestDueStateTriggers_EdgeTriggered(t *testing.T) {
	e := NewEvaluator(time.UTC, nil)
	autos := []models.Automation{stateAutomation("a", "person.alice", "", "home")}

	// First poll establishes the baseline.
	assert.Empty(t, e.DueStateTriggers(map[string]string{"person.alice": "home"}, autos))
	assert.Empty(t, e.DueStateTriggers(map[string]string{"person.alice": "not_home"}, autos))

	assert.Equal(t, []string{"a"}, ids(e.DueStateTriggers(map[string]string{"person.alice": "home"}, autos)))
	assert.Empty(t, e.DueStateTriggers(map[string]string{"person.alice": "home"}, autos))
	assert.Empty(t, e.DueStateTriggers(map[string]string{"person.alice": "home"}, autos))
}

func TestDueStateTriggers_FromState(t *testing.T) {
	e := NewEvaluator(time.UTC, nil)
	autos := []models.Automation{stateAutomation("a", "binary_sensor.door", "off", "on")}

	e.DueStateTriggers(map[string]string{"binary_sensor.door": "unavailable"}, autos)
	assert.Empty(t, e.DueStateTriggers(map[string]string{"binary_sensor.door": "on"}, autos))

	e.DueStateTriggers(map[string]string{"binary_sensor.door": "off"}, autos)
	assert.Len(t, e.DueStateTriggers(map[string]string{"binary_sensor.door": "on"}, autos), 1)
}

func TestDueStateTriggers_MissingEntityIsForgotten(t *testing.T) {
	e := NewEvaluator(time.UTC, nil)
	autos := []models.Automation{stateAutomation("a", "person.alice", "", "home")}

	e.DueStateTriggers(map[string]string{"person.alice": "away"}, autos)
	e.DueStateTriggers(map[string]string{}, autos)
	assert.Empty(t, e.Snapshot())

	// Reappearing entity is a new baseline.
	assert.Empty(t, e.DueStateTriggers(map[string]string{"person.alice": "home"}, autos))
}

func TestDueStateTriggers_SortedByID(t *testing.T) {
	e := NewEvaluator(time.UTC, nil)
	autos := []models.Automation{
		stateAutomation("z", "person.alice", "", "home"),
		stateAutomation("m", "person.alice", "away", "home"),
		stateAutomation("a", "person.alice", "", "home"),
	}
	e.DueStateTriggers(map[string]string{"person.alice": "away"}, autos)
	assert.Equal(t, []string{"a", "m", "z"}, ids(e.DueStateTriggers(map[string]string{"person.alice": "home"}, autos)))
}
