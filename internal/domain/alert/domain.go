package alert

import "time"

// Type identifies the condition an alert is about. At most one open Event
// exists per (endpoint, type) at any time.
type Type string

const (
	TypeDowntime     Type = "DOWNTIME"
	TypeSlowResponse Type = "SLOW_RESPONSE"
	TypeSSLExpiring  Type = "SSL_EXPIRING"
	TypeSSLInvalid   Type = "SSL_INVALID"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event is an alert's full lifecycle: created once, later mutated only to
// set Resolved/ResolvedAt. Mirrors the alerts table.
type Event struct {
	ID         int64      `json:"id"`
	Endpoint   string     `json:"endpoint_name"`
	Type       Type       `json:"alert_type"`
	Severity   Severity   `json:"severity"`
	Message    string     `json:"message"`
	CreatedAt  time.Time  `json:"created_at"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Signal is what the endpoint state machine emits on each probe: raise a
// condition or clear it. The manager decides whether anything observable
// happens.
type Signal struct {
	Endpoint string
	Type     Type
	Severity Severity
	Message  string
	Resolve  bool
	At       time.Time
}

// Decision is the manager's verdict on a submitted signal.
type Decision string

const (
	DecisionNew      Decision = "new"
	DecisionRepeated Decision = "repeated"
	DecisionResolved Decision = "resolved"
	DecisionNone     Decision = "none"
)

// Notice is the payload handed to a notification transport.
type Notice struct {
	Endpoint     string    `json:"endpoint"`
	Type         Type      `json:"alert_type"`
	Severity     Severity  `json:"severity"`
	Message      string    `json:"message"`
	IsResolution bool      `json:"is_resolution"`
	At           time.Time `json:"at"`
}
