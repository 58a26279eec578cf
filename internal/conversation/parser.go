package conversation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"homeassist/internal/models"
)

// Extraction holds the automation fields found in one utterance
type Extraction struct {
	Intent   bool
	Name     string
	Time     string
	Days     []models.Day
	HasDays  bool
	EntityID string
	From     string
	To       string
	Action   string
}

// corrections reports whether the extraction changes any trigger field or the name
func (e Extraction) corrections() bool {
	return e.Name != "" || e.Time != "" || e.HasDays || e.EntityID != ""
}

var (
	intentRe = regexp.MustCompile(`\b(?:create|make|add|set\s*up|build|new)\b.*?\bautomations?\b|\bautomations?\s+(?:that|to|which|for)\b`)
	prefixRe = regexp.MustCompile(`^(?:(?:hey|please|can you|could you|would you|i want to|i'd like to|let's)\s+)*(?:create|make|add|set\s*up|build)?\s*(?:me\s+)?(?:an?\s+)?(?:new\s+)?automations?\b\s*(?:that|to|which|for)?\s*`)
	strayRe  = regexp.MustCompile(`\b(?:an?\s+)?(?:new\s+)?automations?\b`)

	nameRe = regexp.MustCompile(`(?i)\b(?:called|named)\s+["“']([^"”']+)["”']`)

	stateFromRe = regexp.MustCompile(`\bwhen\s+([a-z_]+\.[a-z0-9_]+)\s+(?:changes\s+|goes\s+|switches\s+)?from\s+([a-z0-9_]+)\s+to\s+([a-z0-9_]+)\b`)
	stateToRe   = regexp.MustCompile(`\bwhen\s+([a-z_]+\.[a-z0-9_]+)\s+(?:becomes|turns|is|goes|changes\s+to|switches\s+to|gets)\s+([a-z0-9_]+)\b`)
	stateAnyRe  = regexp.MustCompile(`\bwhen\s+([a-z_]+\.[a-z0-9_]+)\s+changes\b`)

	clockRe    = regexp.MustCompile(`\b(?:at\s+)?(\d{1,2}):(\d{2})\s*((?:am|pm)\b|a\.m\.|p\.m\.)?`)
	meridiemRe = regexp.MustCompile(`\b(?:at\s+)?(\d{1,2})\s*((?:am|pm)\b|a\.m\.|p\.m\.)`)
	namedRe    = regexp.MustCompile(`\b(?:at\s+)?(noon|midday|midnight)\b`)
	bareHourRe = regexp.MustCompile(`\bat\s+(\d{1,2})\b(?:\s*o'?clock)?`)

	pmHintRe = regexp.MustCompile(`\b(?:night|tonight|nightly|evening|afternoon)\b`)
	amHintRe = regexp.MustCompile(`\bmorning\b`)

	weekdaysRe = regexp.MustCompile(`\b(?:on\s+)?(?:every\s+)?(?:weekdays?|week\s+days)\b`)
	weekendRe  = regexp.MustCompile(`\b(?:on\s+)?(?:every\s+|the\s+)?weekends?\b`)
	dailyRe    = regexp.MustCompile(`\b(?:every\s*day|daily|every\s+night|nightly|every\s+morning|every\s+evening|each\s+day)\b`)
	dayNameRe  = regexp.MustCompile(`\b(?:on\s+|every\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)s?\b`)
	tonightRe  = regexp.MustCompile(`\btonight\b`)

	affirmativeRe = regexp.MustCompile(`^(?:yes|yeah|yep|yup|sure|confirm|ok|okay|do it|sounds good|correct|save it|please do)\b[\s,.!]*(?:but\b[\s,]*)?`)
	negativeRe    = regexp.MustCompile(`^(?:(?:no|nope)\b|(?:cancel|stop|never\s*mind|abort|forget it)(?:\s+(?:it|that|this))?(?:$|\s*[,.!]))[\s,.!]*`)
	cancelRe      = regexp.MustCompile(`^(?:cancel|stop|never\s*mind|abort|forget it)(?:\s+(?:it|that|this))?$`)

	spaceRe = regexp.MustCompile(`\s+`)
)

var leadingFiller = map[string]bool{
	"that": true, "to": true, "which": true, "and": true, "then": true,
	"please": true, "it": true, "should": true, "will": true, "just": true,
}

var trailingFiller = map[string]bool{
	"at": true, "every": true, "and": true, "please": true, "then": true,
}

var emptyActions = map[string]bool{
	"it": true, "this": true, "that": true, "one": true, "make it": true, "change it": true,
}

var thirdPerson = map[string]string{
	"turns": "turn", "switches": "switch", "sets": "set", "opens": "open",
	"closes": "close", "locks": "lock", "unlocks": "unlock", "starts": "start",
	"stops": "stop", "plays": "play", "dims": "dim", "runs": "run",
	"sends": "send", "reminds": "remind", "tells": "tell", "activates": "activate",
	"arms": "arm", "disarms": "disarm", "shuts": "shut", "puts": "put",
	"makes": "make", "announces": "announce", "notifies": "notify", "raises": "raise",
	"lowers": "lower", "brightens": "brighten", "waters": "water",
}

// Parse extracts intent, trigger, name and action text from an utterance.
// It recognises phrases, it does not understand them.
func Parse(utterance string) Extraction {
	var e Extraction
	text := utterance

	if m := nameRe.FindStringSubmatchIndex(text); m != nil {
		e.Name = strings.TrimSpace(text[m[2]:m[3]])
		text = text[:m[0]] + " " + text[m[1]:]
	}

	text = strings.ToLower(spaceRe.ReplaceAllString(strings.TrimSpace(text), " "))

	if intentRe.MatchString(text) {
		e.Intent = true
		text = prefixRe.ReplaceAllString(text, "")
		text = strayRe.ReplaceAllString(text, " ")
	}

	text = e.extractState(text)
	text = e.extractTime(text)
	text = e.extractDays(text)

	e.Action = cleanAction(text)
	return e
}

func (e *Extraction) extractState(text string) string {
	if m := stateFromRe.FindStringSubmatchIndex(text); m != nil {
		e.EntityID, e.From, e.To = text[m[2]:m[3]], text[m[4]:m[5]], text[m[6]:m[7]]
		return cut(text, m)
	}
	if m := stateToRe.FindStringSubmatchIndex(text); m != nil {
		e.EntityID, e.To = text[m[2]:m[3]], text[m[4]:m[5]]
		return cut(text, m)
	}
	if m := stateAnyRe.FindStringSubmatchIndex(text); m != nil {
		e.EntityID = text[m[2]:m[3]]
		return cut(text, m)
	}
	return text
}

func (e *Extraction) extractTime(text string) string {
	pm := pmHintRe.MatchString(text)
	am := amHintRe.MatchString(text)

	if m := clockRe.FindStringSubmatchIndex(text); m != nil {
		hour, _ := strconv.Atoi(text[m[2]:m[3]])
		minute, _ := strconv.Atoi(text[m[4]:m[5]])
		meridiem := ""
		if m[6] >= 0 {
			meridiem = text[m[6]:m[7]]
		}
		if t, ok := clock(hour, minute, meridiem); ok {
			e.Time = t
			return cut(text, m)
		}
	}
	if m := meridiemRe.FindStringSubmatchIndex(text); m != nil {
		hour, _ := strconv.Atoi(text[m[2]:m[3]])
		if t, ok := clock(hour, 0, text[m[4]:m[5]]); ok {
			e.Time = t
			return cut(text, m)
		}
	}
	if m := namedRe.FindStringSubmatchIndex(text); m != nil {
		if text[m[2]:m[3]] == "midnight" {
			e.Time = "00:00"
		} else {
			e.Time = "12:00"
		}
		return cut(text, m)
	}
	if m := bareHourRe.FindStringSubmatchIndex(text); m != nil {
		hour, _ := strconv.Atoi(text[m[2]:m[3]])
		switch {
		case pm && hour < 12:
			hour += 12
		case am && hour == 12:
			hour = 0
		}
		if t, ok := clock(hour, 0, ""); ok {
			e.Time = t
			return cut(text, m)
		}
	}
	return text
}

func (e *Extraction) extractDays(text string) string {
	switch {
	case weekdaysRe.MatchString(text):
		e.Days, e.HasDays = append([]models.Day(nil), models.Weekdays...), true
		text = weekdaysRe.ReplaceAllString(text, " ")
	case weekendRe.MatchString(text):
		e.Days, e.HasDays = append([]models.Day(nil), models.Weekend...), true
		text = weekendRe.ReplaceAllString(text, " ")
	case dailyRe.MatchString(text):
		e.Days, e.HasDays = []models.Day{}, true
		text = dailyRe.ReplaceAllString(text, " ")
	default:
		var days []models.Day
		for _, m := range dayNameRe.FindAllStringSubmatch(text, -1) {
			if d, ok := models.ParseDay(m[1]); ok {
				days = append(days, d)
			}
		}
		if len(days) > 0 {
			e.Days, _ = models.NormalizeDays(days)
			e.HasDays = true
			text = dayNameRe.ReplaceAllString(text, " ")
		}
	}
	return tonightRe.ReplaceAllString(text, " ")
}

func clock(hour, minute int, meridiem string) (string, bool) {
	switch strings.ReplaceAll(meridiem, ".", "") {
	case "am":
		if hour < 1 || hour > 12 {
			return "", false
		}
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 1 || hour > 12 {
			return "", false
		}
		if hour != 12 {
			hour += 12
		}
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), true
}

func cut(text string, m []int) string {
	return text[:m[0]] + " " + text[m[1]:]
}

// cleanAction turns the leftover words into an imperative command
func cleanAction(text string) string {
	words := strings.Fields(strings.Trim(text, " .,:;!?"))
	for i := range words {
		words[i] = strings.Trim(words[i], ",;")
	}
	for len(words) > 0 && (words[0] == "" || leadingFiller[words[0]]) {
		words = words[1:]
	}
	for len(words) > 0 && (words[len(words)-1] == "" || trailingFiller[words[len(words)-1]]) {
		words = words[:len(words)-1]
	}
	if len(words) == 0 {
		return ""
	}
	if base, ok := thirdPerson[words[0]]; ok {
		words[0] = base
	}
	action := strings.Join(words, " ")
	if emptyActions[action] {
		return ""
	}
	return action
}

func normalizeReply(utterance string) string {
	return strings.ToLower(strings.Trim(spaceRe.ReplaceAllString(strings.TrimSpace(utterance), " "), " .!"))
}

// IsAffirmative reports whether a reply confirms
func IsAffirmative(utterance string) bool {
	return affirmativeRe.MatchString(normalizeReply(utterance))
}

// IsNegative reports whether a reply declines
func IsNegative(utterance string) bool {
	return negativeRe.MatchString(normalizeReply(utterance))
}

// IsCancel reports whether an utterance abandons the dialogue
func IsCancel(utterance string) bool {
	return cancelRe.MatchString(normalizeReply(utterance))
}

// stripAffirmative removes a leading "yes," or "okay, but" so the rest can be
// read as corrections
func stripAffirmative(utterance string) string {
	return affirmativeRe.ReplaceAllString(normalizeReply(utterance), "")
}

// stripNegative removes a leading "no," so the rest can be read as corrections
func stripNegative(utterance string) string {
	return negativeRe.ReplaceAllString(normalizeReply(utterance), "")
}
