package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is ISO-8601 UTC with microseconds and a trailing Z, the
// format of every timestamp column.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

type rowScanner interface {
	Scan(dest ...any) error
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil, nil
	}
	ts, err := parseTimeString(ns.String)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

func parseTimeString(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}

	if ts, err := time.Parse(TimestampLayout, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	// Rows imported from older databases carry naive ISO timestamps.
	if ts, err := time.Parse("2006-01-02T15:04:05.999999", value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse("2006-01-02 15:04:05", value); err == nil {
		return ts, nil
	}

	return time.Time{}, fmt.Errorf("invalid time format: %q", value)
}
