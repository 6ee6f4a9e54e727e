package model

import (
	"strings"
	"time"
)

// Layouts accepted at the remote boundary, tried in order. SQLite's
// CURRENT_TIMESTAMP yields the space-separated form in UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp coerces an ISO-8601 or SQLite-style timestamp string to a
// time. Zone-less inputs are read as UTC.
func ParseTimestamp(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, schemaErr(field, "unparsable timestamp %q", s)
}

// FormatTimestamp renders a time in the SQLite form the authority stores.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

func parseOptTime(field string, s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := ParseTimestamp(field, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatOptTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := FormatTimestamp(*t)
	return &s
}
