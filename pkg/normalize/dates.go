package normalize

import (
	"strings"
	"time"
)

var weekdays = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

// relativeDueLabel returns the canonical lowercase label for a recognised
// relative due expression, or "" when the value is not relative.
func relativeDueLabel(value string) string {
	lowered := strings.ToLower(strings.TrimSpace(value))
	switch lowered {
	case "today", "tomorrow", "next week", "next week monday":
		return lowered
	}
	if rest, ok := strings.CutPrefix(lowered, "next "); ok {
		if _, known := weekdays[strings.TrimSpace(rest)]; known {
			return lowered
		}
	}
	if _, known := weekdays[lowered]; known {
		return lowered
	}
	return ""
}

// nextWeekday returns the next occurrence of weekday on or after start.
// With strictFuture, a start already on the weekday advances a full week.
func nextWeekday(start time.Time, weekday time.Weekday, strictFuture bool) time.Time {
	daysAhead := (int(weekday) - int(start.Weekday()) + 7) % 7
	if daysAhead == 0 && strictFuture {
		daysAhead = 7
	}
	return start.AddDate(0, 0, daysAhead)
}

// resolveRelativeDue converts a relative due label into an ISO date and the
// inference strategy used. ok is false when the value is not a recognised
// relative expression or the timezone cannot be loaded.
func resolveRelativeDue(value, userTimezone string, now time.Time) (resolved, strategy string, ok bool) {
	label := relativeDueLabel(value)
	if label == "" {
		return "", "", false
	}
	zone, err := time.LoadLocation(userTimezone)
	if err != nil {
		return "", "", false
	}
	local := now.In(zone)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, zone)

	switch label {
	case "today":
		return today.Format("2006-01-02"), "today", true
	case "tomorrow":
		return today.AddDate(0, 0, 1).Format("2006-01-02"), "tomorrow", true
	case "next week", "next week monday":
		target := nextWeekday(today.AddDate(0, 0, 7), time.Monday, false)
		return target.Format("2006-01-02"), "next_week_monday", true
	}
	weekday := label
	if rest, cut := strings.CutPrefix(label, "next "); cut {
		weekday = strings.TrimSpace(rest)
	}
	target := nextWeekday(today, weekdays[weekday], true)
	return target.Format("2006-01-02"), "next_" + weekday, true
}

var isoDateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

func isISODate(value string) bool {
	_, err := time.Parse("2006-01-02", value)
	return err == nil
}

func isISODateTime(value string) bool {
	for _, layout := range isoDateTimeLayouts {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}
