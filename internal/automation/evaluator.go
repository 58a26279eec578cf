package automation

import (
	"sort"
	"sync"
	"time"

	"homeassist/internal/models"

	"go.uber.org/zap"
)

// Evaluator decides which automations are due to fire. Its only state is the
// device snapshot from the previous state evaluation.
type Evaluator struct {
	loc    *time.Location
	logger *zap.Logger

	mu       sync.Mutex
	previous map[string]string
}

// NewEvaluator creates an evaluator that interprets trigger times in loc
func NewEvaluator(loc *time.Location, logger *zap.Logger) *Evaluator {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		loc:      loc,
		logger:   logger.Named("evaluator"),
		previous: map[string]string{},
	}
}

// Location returns the time zone trigger times are evaluated in
func (e *Evaluator) Location() *time.Location {
	return e.loc
}

// DueTimeTriggers returns the enabled time-triggered automations that match
// now and have not already fired in the same minute of the same day.
func (e *Evaluator) DueTimeTriggers(now time.Time, automations []models.Automation) []models.Automation {
	local := now.In(e.loc)
	var due []models.Automation
	for _, a := range automations {
		if !a.Enabled {
			continue
		}
		trigger, ok := a.Trigger.(models.TimeTrigger)
		if !ok {
			continue
		}
		hour, minute := trigger.Clock()
		if local.Hour() != hour || local.Minute() != minute {
			continue
		}
		if !trigger.MatchesDay(local) {
			continue
		}
		if a.LastTriggeredAt != nil && sameWindow(a.LastTriggeredAt.In(e.loc), local) {
			e.logger.Debug("time trigger already fired in this window",
				zap.String("automation_id", a.ID),
				zap.Time("last_triggered_at", *a.LastTriggeredAt))
			continue
		}
		due = append(due, a)
	}
	sortByID(due)
	return due
}

// DueStateTriggers returns the enabled state-triggered automations whose
// entity moved into the configured state since the previous call. The first
// observation of an entity only records a baseline. The snapshot is replaced
// by states on every call.
func (e *Evaluator) DueStateTriggers(states map[string]string, automations []models.Automation) []models.Automation {
	e.mu.Lock()
	defer e.mu.Unlock()

	var due []models.Automation
	for _, a := range automations {
		if !a.Enabled {
			continue
		}
		trigger, ok := a.Trigger.(models.StateTrigger)
		if !ok {
			continue
		}
		current, ok := states[trigger.EntityID]
		if !ok {
			continue
		}
		prev, seen := e.previous[trigger.EntityID]
		if !seen || prev == current || current != trigger.To {
			continue
		}
		if trigger.From != "" && prev != trigger.From {
			continue
		}
		e.logger.Debug("state transition matched",
			zap.String("automation_id", a.ID),
			zap.String("entity_id", trigger.EntityID),
			zap.String("from", prev),
			zap.String("to", current))
		due = append(due, a)
	}

	snapshot := make(map[string]string, len(states))
	for k, v := range states {
		snapshot[k] = v
	}
	e.previous = snapshot

	sortByID(due)
	return due
}

// Snapshot returns a copy of the last observed device states
func (e *Evaluator) Snapshot() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.previous))
	for k, v := range e.previous {
		out[k] = v
	}
	return out
}

func sameWindow(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay() &&
		a.Hour() == b.Hour() && a.Minute() == b.Minute()
}

func sortByID(automations []models.Automation) {
	sort.SliceStable(automations, func(i, j int) bool {
		return automations[i].ID < automations[j].ID
	})
}
