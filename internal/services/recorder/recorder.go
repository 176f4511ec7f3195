package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/vigilhq/vigil/internal/domain/alert"
	"github.com/vigilhq/vigil/internal/domain/endpoint"
	"github.com/vigilhq/vigil/internal/domain/probe"
	"github.com/vigilhq/vigil/internal/obs/retry"
)

var (
	mWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recorder_writes_total", Help: "Records written to storage.",
	}, []string{"kind"})
	mWriteErrs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recorder_write_failures_total", Help: "Writes that exhausted retries.",
	}, []string{"kind"})
	mDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recorder_dropped_total", Help: "Records dropped because the queue was full.",
	})
	gQueue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recorder_queue_depth", Help: "Records waiting to be written.",
	})
)

type RecorderConfig struct {
	Workers      int           `mapstructure:"workers"`
	QueueSize    int           `mapstructure:"queue_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type job struct {
	status *probe.Record
	event  *alert.Event
}

// Recorder is the append-only persistence gateway. Enqueueing never blocks
// the monitoring loop: when a queue is full the record is dropped and
// counted, and every write retries with bounded backoff before giving up.
// In-memory state stays the source of truth either way.
type Recorder struct {
	log      *zap.Logger
	statuses probe.HistoryRepo
	alerts   alert.Repo
	cfg      RecorderConfig
	policy   retry.Policy

	statusQ chan job
	alertQ  chan job
	wg      sync.WaitGroup
}

func New(log *zap.Logger, statuses probe.HistoryRepo, alerts alert.Repo, cfg RecorderConfig) *Recorder {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	l := log.With(zap.String("component", "recorder"))
	return &Recorder{
		log:      l,
		statuses: statuses,
		alerts:   alerts,
		cfg:      cfg,
		policy:   retry.PersistPolicy(l),
		statusQ:  make(chan job, cfg.QueueSize),
		alertQ:   make(chan job, cfg.QueueSize),
	}
}

func (r *Recorder) Start() {
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.drain(r.statusQ)
	}
	// Alert transitions stay on a single worker: an alert's Create must land
	// before its MarkResolved, and parallel workers could reorder them while
	// a backlog drains.
	r.wg.Add(1)
	go r.drain(r.alertQ)
	r.log.Info("recorder started", zap.Int("workers", r.cfg.Workers), zap.Int("queue", r.cfg.QueueSize))
}

// Close stops intake and drains pending writes, waiting up to grace.
func (r *Recorder) Close(grace time.Duration) {
	close(r.statusQ)
	close(r.alertQ)
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		r.log.Warn("recorder close grace elapsed, pending writes abandoned")
	}
}

// RecordStatus enqueues one status-history row for the probe result.
func (r *Recorder) RecordStatus(res probe.Result, h endpoint.Health) {
	r.enqueue(r.statusQ, job{status: &probe.Record{Result: res, Status: h.Status, Uptime: h.Uptime}})
}

// RecordAlert enqueues an alert lifecycle transition (creation or resolution).
func (r *Recorder) RecordAlert(e alert.Event) {
	cp := e
	r.enqueue(r.alertQ, job{event: &cp})
}

func (r *Recorder) enqueue(q chan job, j job) {
	select {
	case q <- j:
		gQueue.Set(float64(len(r.statusQ) + len(r.alertQ)))
	default:
		mDropped.Inc()
		r.log.Warn("recorder queue full, record dropped")
	}
}

func (r *Recorder) drain(q chan job) {
	defer r.wg.Done()
	for j := range q {
		gQueue.Set(float64(len(r.statusQ) + len(r.alertQ)))
		r.write(j)
	}
}

func (r *Recorder) write(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	defer cancel()

	switch {
	case j.status != nil:
		err := retry.Do(ctx, func() error {
			return r.statuses.Insert(ctx, j.status)
		}, r.policy)
		if err != nil {
			mWriteErrs.WithLabelValues("status").Inc()
			r.log.Error("status write failed",
				zap.String("endpoint", j.status.Result.Endpoint), zap.Error(err))
			return
		}
		mWrites.WithLabelValues("status").Inc()

	case j.event != nil:
		err := retry.Do(ctx, func() error {
			if j.event.Resolved {
				return r.alerts.MarkResolved(ctx, j.event)
			}
			return r.alerts.Create(ctx, j.event)
		}, r.policy)
		if err != nil {
			mWriteErrs.WithLabelValues("alert").Inc()
			r.log.Error("alert write failed",
				zap.String("endpoint", j.event.Endpoint),
				zap.String("type", string(j.event.Type)), zap.Error(err))
			return
		}
		mWrites.WithLabelValues("alert").Inc()
	}
}
