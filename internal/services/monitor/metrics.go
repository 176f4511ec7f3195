package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vigilhq/vigil/internal/domain/endpoint"
	"github.com/vigilhq/vigil/internal/domain/probe"
)

var (
	mProbes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_probes_total", Help: "Probes executed.",
	})
	mFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_probe_failures_total", Help: "Probes with a non-success outcome.",
	})
	mSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_ticks_skipped_total", Help: "Ticks dropped because the previous probe was still running.",
	})
	mProbeDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "scheduler_probe_duration_seconds", Help: "End-to-end probe duration.",
		Buckets: prometheus.DefBuckets,
	})

	gUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "endpoint_up", Help: "Endpoint health (1=up or degraded, 0=down or unknown).",
	}, []string{"name", "url"})
	gResponseMS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "endpoint_response_time_ms", Help: "Last probe response time in milliseconds.",
	}, []string{"name", "url"})
	gUptime = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "endpoint_uptime_percentage", Help: "Uptime percentage over the trailing probe window.",
	}, []string{"name", "url"})
)

// projectHealth mirrors the current in-memory state into the pull-based
// exposition; it never feeds back into the engine.
func projectHealth(h endpoint.Health, res probe.Result) {
	up := 0.0
	if h.Status == endpoint.StatusUp || h.Status == endpoint.StatusDegraded {
		up = 1.0
	}
	gUp.WithLabelValues(h.Name, h.URL).Set(up)
	gResponseMS.WithLabelValues(h.Name, h.URL).Set(float64(res.ResponseTime.Milliseconds()))
	gUptime.WithLabelValues(h.Name, h.URL).Set(h.Uptime)
}

func forgetHealth(name, url string) {
	gUp.DeleteLabelValues(name, url)
	gResponseMS.DeleteLabelValues(name, url)
	gUptime.DeleteLabelValues(name, url)
}
