package model

import (
	"fmt"
	"time"
)

// DayLayout is the wire format of a snapshot day.
const DayLayout = "2006-01-02"

// Day truncates t to midnight UTC of its calendar day in t's location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today returns the current UTC day.
func Today() time.Time {
	return Day(time.Now().UTC())
}

// ParseDay parses a YYYY-MM-DD snapshot day. An empty string yields Today.
func ParseDay(s string) (time.Time, error) {
	if s == "" {
		return Today(), nil
	}
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid snap day %q: must be YYYY-MM-DD", s)
	}
	return t, nil
}
