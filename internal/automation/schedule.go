package automation

import (
	"fmt"
	"strings"
	"time"

	"homeassist/internal/models"

	"github.com/robfig/cron/v3"
)

var cronWeekday = map[models.Day]string{
	models.Sun: "0", models.Mon: "1", models.Tue: "2", models.Wed: "3",
	models.Thu: "4", models.Fri: "5", models.Sat: "6",
}

// CronSpec converts a time trigger into a standard five-field cron expression
// evaluated in loc, e.g. "CRON_TZ=Europe/Warsaw 0 22 * * 1,2,3,4,5".
func CronSpec(t models.TimeTrigger, loc *time.Location) (string, error) {
	hour, minute := t.Clock()
	if hour < 0 {
		return "", fmt.Errorf("time trigger %q is not normalized", t.Time)
	}
	dow := "*"
	if len(t.Days) > 0 {
		parts := make([]string, len(t.Days))
		for i, d := range t.Days {
			n, ok := cronWeekday[d]
			if !ok {
				return "", fmt.Errorf("unknown day %q", d)
			}
			parts[i] = n
		}
		dow = strings.Join(parts, ",")
	}
	spec := fmt.Sprintf("%d %d * * %s", minute, hour, dow)
	if loc != nil {
		spec = "CRON_TZ=" + loc.String() + " " + spec
	}
	return spec, nil
}

// NextRun returns the first fire time of trigger strictly after after.
// State triggers have no schedule and report ok=false.
func NextRun(trigger models.Trigger, after time.Time, loc *time.Location) (next time.Time, ok bool, err error) {
	t, isTime := trigger.(models.TimeTrigger)
	if !isTime {
		return time.Time{}, false, nil
	}
	spec, err := CronSpec(t, loc)
	if err != nil {
		return time.Time{}, false, err
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	return sched.Next(after), true, nil
}
