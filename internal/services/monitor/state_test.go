package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vigilhq/vigil/internal/domain/alert"
	"github.com/vigilhq/vigil/internal/domain/endpoint"
	"github.com/vigilhq/vigil/internal/domain/probe"
)

var testEP = endpoint.Endpoint{
	Name:          "api",
	URL:           "https://api.example.com",
	Interval:      30 * time.Second,
	Timeout:       10 * time.Second,
	SlowThreshold: 500 * time.Millisecond,
	CheckSSL:      true,
}

func okResult(at time.Time, rt time.Duration) probe.Result {
	return probe.Result{
		Endpoint:     testEP.Name,
		URL:          testEP.URL,
		Timestamp:    at,
		Outcome:      probe.OutcomeSuccess,
		StatusCode:   200,
		ResponseTime: rt,
	}
}

func failResult(at time.Time, outcome probe.Outcome) probe.Result {
	return probe.Result{
		Endpoint:  testEP.Name,
		URL:       testEP.URL,
		Timestamp: at,
		Outcome:   outcome,
		Err:       "connection refused",
	}
}

func raisesOf(signals []alert.Signal, typ alert.Type) []alert.Signal {
	var out []alert.Signal
	for _, s := range signals {
		if s.Type == typ && !s.Resolve {
			out = append(out, s)
		}
	}
	return out
}

func resolvesOf(signals []alert.Signal, typ alert.Type) []alert.Signal {
	var out []alert.Signal
	for _, s := range signals {
		if s.Type == typ && s.Resolve {
			out = append(out, s)
		}
	}
	return out
}

func TestStateInitialUnknown(t *testing.T) {
	s := NewState(testEP, StateConfig{})
	h := s.Snapshot()
	require.Equal(t, endpoint.StatusUnknown, h.Status)
	require.Zero(t, h.ConsecutiveFails)
	require.Zero(t, h.ConsecutiveOKs)
	require.Equal(t, 100.0, h.Uptime)
}

func TestStreaksExclusiveAndNonNegative(t *testing.T) {
	s := NewState(testEP, StateConfig{FailureThreshold: 3})
	now := time.Now()

	seq := []bool{true, true, false, true, false, false, false, true, false, true, true}
	for i, ok := range seq {
		at := now.Add(time.Duration(i) * time.Second)
		if ok {
			s.Apply(okResult(at, 50*time.Millisecond))
		} else {
			s.Apply(failResult(at, probe.OutcomeConnError))
		}
		h := s.Snapshot()
		require.GreaterOrEqual(t, h.ConsecutiveFails, 0)
		require.GreaterOrEqual(t, h.ConsecutiveOKs, 0)
		require.Zero(t, h.ConsecutiveFails*h.ConsecutiveOKs,
			"streaks must never be simultaneously nonzero")
	}
}

func TestDownExactlyAtThreshold(t *testing.T) {
	s := NewState(testEP, StateConfig{FailureThreshold: 3})
	now := time.Now()

	sig := s.Apply(okResult(now, 50*time.Millisecond))
	require.Equal(t, endpoint.StatusUp, s.Snapshot().Status)
	require.Empty(t, raisesOf(sig, alert.TypeDowntime))

	sig = s.Apply(failResult(now.Add(time.Second), probe.OutcomeTimeout))
	require.Equal(t, endpoint.StatusUp, s.Snapshot().Status, "prior status retained below threshold")
	require.Empty(t, raisesOf(sig, alert.TypeDowntime))

	sig = s.Apply(failResult(now.Add(2*time.Second), probe.OutcomeTimeout))
	require.Equal(t, endpoint.StatusUp, s.Snapshot().Status)
	require.Empty(t, raisesOf(sig, alert.TypeDowntime))

	sig = s.Apply(failResult(now.Add(3*time.Second), probe.OutcomeTimeout))
	require.Equal(t, endpoint.StatusDown, s.Snapshot().Status)
	raises := raisesOf(sig, alert.TypeDowntime)
	require.Len(t, raises, 1)
	require.Equal(t, alert.SeverityHigh, raises[0].Severity)
}

func TestFlappingNeverReachesDown(t *testing.T) {
	s := NewState(testEP, StateConfig{FailureThreshold: 3})
	now := time.Now()

	for i := 0; i < 20; i++ {
		at := now.Add(time.Duration(i) * time.Second)
		var sig []alert.Signal
		if i%2 == 0 {
			sig = s.Apply(okResult(at, 50*time.Millisecond))
		} else {
			sig = s.Apply(failResult(at, probe.OutcomeConnError))
		}
		require.Empty(t, raisesOf(sig, alert.TypeDowntime))
		require.NotEqual(t, endpoint.StatusDown, s.Snapshot().Status)
	}
}

func TestDowntimeSeverityEscalates(t *testing.T) {
	s := NewState(testEP, StateConfig{FailureThreshold: 3})
	now := time.Now()

	var last alert.Signal
	for i := 0; i < 6; i++ {
		sig := s.Apply(failResult(now.Add(time.Duration(i)*time.Second), probe.OutcomeTimeout))
		if r := raisesOf(sig, alert.TypeDowntime); len(r) > 0 {
			last = r[0]
		}
	}
	require.Equal(t, alert.SeverityCritical, last.Severity)
}

func TestRecoveryResolvesDowntime(t *testing.T) {
	s := NewState(testEP, StateConfig{FailureThreshold: 3})
	now := time.Now()

	for i := 0; i < 3; i++ {
		s.Apply(failResult(now.Add(time.Duration(i)*time.Second), probe.OutcomeConnError))
	}
	require.Equal(t, endpoint.StatusDown, s.Snapshot().Status)

	sig := s.Apply(okResult(now.Add(4*time.Second), 50*time.Millisecond))
	h := s.Snapshot()
	require.Equal(t, endpoint.StatusUp, h.Status)
	require.Zero(t, h.ConsecutiveFails)
	require.Equal(t, 1, h.ConsecutiveOKs)
	require.Len(t, resolvesOf(sig, alert.TypeDowntime), 1)
}

func TestSlowResponseDegrades(t *testing.T) {
	s := NewState(testEP, StateConfig{FailureThreshold: 3})
	now := time.Now()

	sig := s.Apply(okResult(now, 800*time.Millisecond))
	require.Equal(t, endpoint.StatusDegraded, s.Snapshot().Status)
	raises := raisesOf(sig, alert.TypeSlowResponse)
	require.Len(t, raises, 1)
	require.Equal(t, alert.SeverityMedium, raises[0].Severity)

	sig = s.Apply(okResult(now.Add(time.Second), 50*time.Millisecond))
	require.Equal(t, endpoint.StatusUp, s.Snapshot().Status)
	require.Len(t, resolvesOf(sig, alert.TypeSlowResponse), 1)
}

func TestUptimeOverWindow(t *testing.T) {
	s := NewState(testEP, StateConfig{FailureThreshold: 3, UptimeWindow: 4})
	now := time.Now()

	s.Apply(okResult(now, 50*time.Millisecond))
	s.Apply(failResult(now.Add(time.Second), probe.OutcomeConnError))
	s.Apply(okResult(now.Add(2*time.Second), 50*time.Millisecond))
	s.Apply(okResult(now.Add(3*time.Second), 50*time.Millisecond))
	require.InDelta(t, 75.0, s.Snapshot().Uptime, 0.01)

	// Window slides: the initial success falls out, replaced by a failure.
	s.Apply(failResult(now.Add(4*time.Second), probe.OutcomeConnError))
	require.InDelta(t, 50.0, s.Snapshot().Uptime, 0.01)
}

func TestUptimeCountsSubThresholdFailures(t *testing.T) {
	s := NewState(testEP, StateConfig{FailureThreshold: 5, UptimeWindow: 10})
	now := time.Now()

	s.Apply(okResult(now, 50*time.Millisecond))
	s.Apply(failResult(now.Add(time.Second), probe.OutcomeTimeout))

	h := s.Snapshot()
	require.Equal(t, endpoint.StatusUp, h.Status, "single blip keeps prior status")
	require.InDelta(t, 50.0, h.Uptime, 0.01, "blip still counts against uptime")
}

func sslResult(at time.Time, valid bool, expiry time.Time) probe.Result {
	r := okResult(at, 50*time.Millisecond)
	r.SSLChecked = true
	r.SSLValid = valid
	r.SSLExpiry = expiry
	return r
}

func TestSSLExpiringRaisesAndResolves(t *testing.T) {
	s := NewState(testEP, StateConfig{FailureThreshold: 3, SSLWarnWindow: 14 * 24 * time.Hour})
	now := time.Now()

	sig := s.Apply(sslResult(now, true, now.Add(10*24*time.Hour)))
	raises := raisesOf(sig, alert.TypeSSLExpiring)
	require.Len(t, raises, 1)
	require.Equal(t, alert.SeverityLow, raises[0].Severity)
	require.Contains(t, raises[0].Message, "expires in 10 days")

	// Certificate was renewed: 20 days out clears the warning.
	sig = s.Apply(sslResult(now.Add(time.Minute), true, now.Add(20*24*time.Hour)))
	require.Empty(t, raisesOf(sig, alert.TypeSSLExpiring))
	require.Len(t, resolvesOf(sig, alert.TypeSSLExpiring), 1)
}

func TestSSLExpirySeverityScales(t *testing.T) {
	cases := []struct {
		days int
		want alert.Severity
	}{
		{13, alert.SeverityLow},
		{7, alert.SeverityMedium},
		{2, alert.SeverityHigh},
	}
	now := time.Now()
	for _, tc := range cases {
		s := NewState(testEP, StateConfig{SSLWarnWindow: 14 * 24 * time.Hour})
		sig := s.Apply(sslResult(now, true, now.Add(time.Duration(tc.days)*24*time.Hour)))
		raises := raisesOf(sig, alert.TypeSSLExpiring)
		require.Len(t, raises, 1)
		require.Equal(t, tc.want, raises[0].Severity, "days=%d", tc.days)
	}
}

func TestSSLInvalidCritical(t *testing.T) {
	s := NewState(testEP, StateConfig{})
	now := time.Now()

	sig := s.Apply(sslResult(now, false, time.Time{}))
	raises := raisesOf(sig, alert.TypeSSLInvalid)
	require.Len(t, raises, 1)
	require.Equal(t, alert.SeverityCritical, raises[0].Severity)

	sig = s.Apply(sslResult(now.Add(time.Minute), true, now.Add(90*24*time.Hour)))
	require.Len(t, resolvesOf(sig, alert.TypeSSLInvalid), 1)
}

func TestSSLIndependentOfHTTPOutcome(t *testing.T) {
	s := NewState(testEP, StateConfig{FailureThreshold: 3, SSLWarnWindow: 14 * 24 * time.Hour})
	now := time.Now()

	// HTTP succeeded but the certificate is about to expire: success plus
	// a warning, never a failure.
	sig := s.Apply(sslResult(now, true, now.Add(5*24*time.Hour)))
	require.Equal(t, endpoint.StatusUp, s.Snapshot().Status)
	require.Len(t, raisesOf(sig, alert.TypeSSLExpiring), 1)
}
