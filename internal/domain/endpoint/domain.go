package endpoint

import "time"

// Status is the current health classification of a monitored endpoint.
type Status string

const (
	StatusUnknown  Status = "UNKNOWN"
	StatusUp       Status = "UP"
	StatusDown     Status = "DOWN"
	StatusDegraded Status = "DEGRADED"
)

// Endpoint is one monitored target. Loaded once at startup, immutable after.
type Endpoint struct {
	Name             string        `mapstructure:"name" json:"name"`
	URL              string        `mapstructure:"url" json:"url"`
	Interval         time.Duration `mapstructure:"interval" json:"interval"`
	Timeout          time.Duration `mapstructure:"timeout" json:"timeout"`
	ExpectedStatuses []int         `mapstructure:"expected_statuses" json:"expected_statuses"`
	SlowThreshold    time.Duration `mapstructure:"slow_threshold" json:"slow_threshold"`
	CheckSSL         bool          `mapstructure:"check_ssl" json:"check_ssl"`
}

// ExpectsStatus reports whether code satisfies the endpoint's expected-status
// predicate. An empty set means any 2xx is acceptable.
func (e Endpoint) ExpectsStatus(code int) bool {
	if len(e.ExpectedStatuses) == 0 {
		return code >= 200 && code < 300
	}
	for _, c := range e.ExpectedStatuses {
		if c == code {
			return true
		}
	}
	return false
}

// Health is an immutable snapshot of one endpoint's state machine, safe to
// hand to concurrent readers (metrics projection, dashboard).
type Health struct {
	Name             string     `json:"name"`
	URL              string     `json:"url"`
	Status           Status     `json:"status"`
	ConsecutiveFails int        `json:"consecutive_fails"`
	ConsecutiveOKs   int        `json:"consecutive_oks"`
	LastProbe        time.Time  `json:"last_probe"`
	Uptime           float64    `json:"uptime_percentage"`
	SSLValid         *bool      `json:"ssl_valid,omitempty"`
	SSLExpiry        *time.Time `json:"ssl_expires,omitempty"`
}
