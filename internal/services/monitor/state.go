package monitor

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/vigilhq/vigil/internal/domain/alert"
	"github.com/vigilhq/vigil/internal/domain/endpoint"
	"github.com/vigilhq/vigil/internal/domain/probe"
)

// StateConfig carries the knobs of the per-endpoint state machine. All of
// them are configuration, not constants: the right values depend on how
// flappy the monitored fleet is.
type StateConfig struct {
	FailureThreshold int
	UptimeWindow     int
	SSLWarnWindow    time.Duration
}

const (
	defaultFailureThreshold = 3
	defaultUptimeWindow     = 50
	defaultSSLWarnWindow    = 14 * 24 * time.Hour
)

func (c StateConfig) withDefaults() StateConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.UptimeWindow <= 0 {
		c.UptimeWindow = defaultUptimeWindow
	}
	if c.SSLWarnWindow <= 0 {
		c.SSLWarnWindow = defaultSSLWarnWindow
	}
	return c
}

// State is one endpoint's health state machine. Updates are serialized by
// the owning scheduler loop; Snapshot is safe for concurrent readers.
type State struct {
	mu  sync.RWMutex
	ep  endpoint.Endpoint
	cfg StateConfig

	status    endpoint.Status
	fails     int
	oks       int
	lastProbe time.Time

	// trailing success window, ring buffer of the last cfg.UptimeWindow probes
	window []bool
	widx   int
	wlen   int

	sslValid  *bool
	sslExpiry *time.Time
}

func NewState(ep endpoint.Endpoint, cfg StateConfig) *State {
	cfg = cfg.withDefaults()
	return &State{
		ep:     ep,
		cfg:    cfg,
		status: endpoint.StatusUnknown,
		window: make([]bool, cfg.UptimeWindow),
	}
}

// Apply consumes one probe result, advances the state machine, and returns
// the alert signals this probe produced. The caller forwards signals to the
// alert manager, which decides whether anything is actually new.
func (s *State) Apply(res probe.Result) []alert.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastProbe = res.Timestamp
	success := res.Outcome.OK()
	s.record(success)

	var signals []alert.Signal

	if success {
		wasDown := s.status == endpoint.StatusDown
		s.oks++
		s.fails = 0

		if s.ep.SlowThreshold > 0 && res.ResponseTime > s.ep.SlowThreshold {
			s.status = endpoint.StatusDegraded
			signals = append(signals, alert.Signal{
				Endpoint: s.ep.Name,
				Type:     alert.TypeSlowResponse,
				Severity: alert.SeverityMedium,
				Message: fmt.Sprintf("%s responded in %dms (threshold %dms)",
					s.ep.Name, res.ResponseTime.Milliseconds(), s.ep.SlowThreshold.Milliseconds()),
				At: res.Timestamp,
			})
		} else {
			s.status = endpoint.StatusUp
			signals = append(signals, alert.Signal{
				Endpoint: s.ep.Name,
				Type:     alert.TypeSlowResponse,
				Resolve:  true,
				At:       res.Timestamp,
			})
		}

		if wasDown {
			signals = append(signals, alert.Signal{
				Endpoint: s.ep.Name,
				Type:     alert.TypeDowntime,
				Resolve:  true,
				At:       res.Timestamp,
			})
		}
	} else {
		s.oks = 0
		s.fails++

		// Below the threshold the previous status is retained: a blip is
		// recorded for uptime but does not change the classification.
		if s.fails >= s.cfg.FailureThreshold {
			s.status = endpoint.StatusDown
			sev := alert.SeverityHigh
			if s.fails >= 2*s.cfg.FailureThreshold {
				sev = alert.SeverityCritical
			}
			msg := fmt.Sprintf("%s is down: %s (%d consecutive failures)", s.ep.Name, res.Outcome, s.fails)
			if res.Err != "" {
				msg = fmt.Sprintf("%s is down: %s (%d consecutive failures)", s.ep.Name, res.Err, s.fails)
			}
			signals = append(signals, alert.Signal{
				Endpoint: s.ep.Name,
				Type:     alert.TypeDowntime,
				Severity: sev,
				Message:  msg,
				At:       res.Timestamp,
			})
		}
	}

	if res.SSLChecked {
		signals = append(signals, s.applySSL(res)...)
	}

	return signals
}

func (s *State) applySSL(res probe.Result) []alert.Signal {
	v := res.SSLValid
	s.sslValid = &v
	if !res.SSLExpiry.IsZero() {
		e := res.SSLExpiry
		s.sslExpiry = &e
	}

	if !res.SSLValid {
		return []alert.Signal{{
			Endpoint: s.ep.Name,
			Type:     alert.TypeSSLInvalid,
			Severity: alert.SeverityCritical,
			Message:  fmt.Sprintf("%s has an invalid TLS certificate", s.ep.Name),
			At:       res.Timestamp,
		}}
	}

	signals := []alert.Signal{{
		Endpoint: s.ep.Name,
		Type:     alert.TypeSSLInvalid,
		Resolve:  true,
		At:       res.Timestamp,
	}}

	if res.SSLExpiry.IsZero() {
		return signals
	}

	remaining := res.SSLExpiry.Sub(res.Timestamp)
	if remaining <= s.cfg.SSLWarnWindow {
		days := int(remaining.Hours() / 24)
		signals = append(signals, alert.Signal{
			Endpoint: s.ep.Name,
			Type:     alert.TypeSSLExpiring,
			Severity: sslSeverity(remaining),
			Message:  fmt.Sprintf("certificate for %s expires in %d days", s.ep.Name, days),
			At:       res.Timestamp,
		})
	} else {
		signals = append(signals, alert.Signal{
			Endpoint: s.ep.Name,
			Type:     alert.TypeSSLExpiring,
			Resolve:  true,
			At:       res.Timestamp,
		})
	}
	return signals
}

func sslSeverity(remaining time.Duration) alert.Severity {
	switch {
	case remaining <= 3*24*time.Hour:
		return alert.SeverityHigh
	case remaining <= 7*24*time.Hour:
		return alert.SeverityMedium
	default:
		return alert.SeverityLow
	}
}

func (s *State) record(success bool) {
	s.window[s.widx] = success
	s.widx = (s.widx + 1) % len(s.window)
	if s.wlen < len(s.window) {
		s.wlen++
	}
}

func (s *State) uptimeLocked() float64 {
	if s.wlen == 0 {
		return 100.0
	}
	ok := 0
	for i := 0; i < s.wlen; i++ {
		if s.window[i] {
			ok++
		}
	}
	pct := float64(ok) / float64(s.wlen) * 100.0
	return math.Round(pct*100) / 100
}

// Snapshot returns an immutable view of the endpoint's health.
func (s *State) Snapshot() endpoint.Health {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := endpoint.Health{
		Name:             s.ep.Name,
		URL:              s.ep.URL,
		Status:           s.status,
		ConsecutiveFails: s.fails,
		ConsecutiveOKs:   s.oks,
		LastProbe:        s.lastProbe,
		Uptime:           s.uptimeLocked(),
	}
	if s.sslValid != nil {
		v := *s.sslValid
		h.SSLValid = &v
	}
	if s.sslExpiry != nil {
		e := *s.sslExpiry
		h.SSLExpiry = &e
	}
	return h
}
