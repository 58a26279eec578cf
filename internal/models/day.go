package models

import (
	"fmt"
	"strings"
	"time"
)

// Day is a lowercase three-letter weekday code
type Day string

const (
	Mon Day = "mon"
	Tue Day = "tue"
	Wed Day = "wed"
	Thu Day = "thu"
	Fri Day = "fri"
	Sat Day = "sat"
	Sun Day = "sun"
)

// Week lists the days in the order day sets are stored
var Week = []Day{Mon, Tue, Wed, Thu, Fri, Sat, Sun}

// Weekdays and Weekend are the common day sets
var (
	Weekdays = []Day{Mon, Tue, Wed, Thu, Fri}
	Weekend  = []Day{Sat, Sun}
)

var dayAliases = map[string]Day{
	"mon": Mon, "monday": Mon,
	"tue": Tue, "tues": Tue, "tuesday": Tue,
	"wed": Wed, "weds": Wed, "wednesday": Wed,
	"thu": Thu, "thur": Thu, "thurs": Thu, "thursday": Thu,
	"fri": Fri, "friday": Fri,
	"sat": Sat, "saturday": Sat,
	"sun": Sun, "sunday": Sun,
}

// ParseDay accepts short and long English day names
func ParseDay(s string) (Day, bool) {
	d, ok := dayAliases[strings.ToLower(strings.TrimSpace(s))]
	return d, ok
}

// DayOf converts a time.Weekday to its Day code
func DayOf(w time.Weekday) Day {
	// time.Weekday counts from Sunday
	return Week[(int(w)+6)%7]
}

// NormalizeDays validates a day set, drops duplicates and sorts it into week order.
// The result is never nil.
func NormalizeDays(days []Day) ([]Day, error) {
	seen := make(map[Day]bool, len(days))
	for i, d := range days {
		parsed, ok := ParseDay(string(d))
		if !ok {
			return nil, invalid(fmt.Sprintf("trigger_config.days[%d]", i), "unknown day %q", d)
		}
		seen[parsed] = true
	}
	out := make([]Day, 0, len(seen))
	for _, d := range Week {
		if seen[d] {
			out = append(out, d)
		}
	}
	return out, nil
}

// FormatDays renders a day set for humans, e.g. "mon, tue, wed"
func FormatDays(days []Day) string {
	if len(days) == 0 {
		return "every day"
	}
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = string(d)
	}
	return strings.Join(parts, ", ")
}
