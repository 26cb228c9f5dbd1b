package scheduling

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidTime is returned for a scheduled_time in no accepted layout
var ErrInvalidTime = errors.New("scheduled_time must be an ISO 8601 timestamp")

// acceptedLayouts are tried in order. Layouts without a zone are read as UTC.
var acceptedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseScheduledTime parses an ISO 8601 timestamp as sent by the dashboard's
// datetime-local input or by API clients.
func ParseScheduledTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidTime
	}
	for _, layout := range acceptedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrInvalidTime
}
