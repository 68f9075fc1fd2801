package ncm

import (
	"strings"
	"time"
)

// DisplayDateLayout is the dd/mm/yyyy form used by the Siscomex tables.
const DisplayDateLayout = "02/01/2006"

var dateLayouts = []string{
	"2006-01-02",
	DisplayDateLayout,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006 15:04:05",
	"02-01-2006",
	"02.01.2006",
	"2006/01/02",
}

// ParseDate reads a calendar date from a dataset value. The result is midnight
// UTC of that day. Anything unreadable reports false; callers treat that the
// same as a missing value.
func ParseDate(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false
		}
		return dayOf(t), true
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, false
		}
		return dayOf(*t), true
	}
	if !present(v) {
		return time.Time{}, false
	}

	s := strings.TrimSpace(stringValue(v))
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			return dayOf(parsed), true
		}
	}
	return time.Time{}, false
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
