package postgres

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Optional columns are NULL when the probe had nothing to report.

func nullInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
