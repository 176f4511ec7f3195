package probe

import "time"

// Outcome is the closed set of things a single probe can observe.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeHTTPError Outcome = "http_error"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeConnError Outcome = "conn_error"
)

func (o Outcome) OK() bool { return o == OutcomeSuccess }

// Result is the immutable outcome of one health check. Expected failures
// (timeout, refused connection, bad status) are data here, never errors.
type Result struct {
	Endpoint     string        `json:"endpoint"`
	URL          string        `json:"url"`
	Timestamp    time.Time     `json:"timestamp"`
	Outcome      Outcome       `json:"outcome"`
	StatusCode   int           `json:"status_code,omitempty"`
	ResponseTime time.Duration `json:"response_time"`
	SSLChecked   bool          `json:"ssl_checked"`
	SSLValid     bool          `json:"ssl_valid"`
	SSLExpiry    time.Time     `json:"ssl_expires,omitempty"`
	Err          string        `json:"error,omitempty"`
}
