package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/vigilhq/vigil/internal/domain/alert"
	"github.com/vigilhq/vigil/internal/domain/endpoint"
	"github.com/vigilhq/vigil/internal/domain/probe"
	"github.com/vigilhq/vigil/internal/obs"
)

// Prober runs one health check. Implemented by services/prober; faked in tests.
type Prober interface {
	Run(ctx context.Context, ep endpoint.Endpoint) probe.Result
}

// AlertSink receives the signals a probe produced. Implemented by the alert manager.
type AlertSink interface {
	Submit(ctx context.Context, sig alert.Signal) alert.Decision
}

// StatusRecorder receives every probe result for durable append. Must not block.
type StatusRecorder interface {
	RecordStatus(res probe.Result, h endpoint.Health)
}

type SchedulerConfig struct {
	State         StateConfig
	MaxInFlight   int64
	ShutdownGrace time.Duration
}

// Scheduler owns one polling loop per endpoint. Loops run concurrently but
// each endpoint's probes are strictly sequential; a tick that fires while
// its endpoint is mid-probe is dropped, never queued. Total in-flight probes
// are bounded by a shared semaphore.
type Scheduler struct {
	log    *zap.Logger
	prober Prober
	alerts AlertSink
	rec    StatusRecorder
	cfg    SchedulerConfig
	sem    *semaphore.Weighted

	mu         sync.Mutex
	loops      map[string]*loop
	running    bool
	stopped    bool
	loopCtx    context.Context
	loopCancel context.CancelFunc
	quit       chan struct{}
	wg         sync.WaitGroup
}

type loop struct {
	ep     endpoint.Endpoint
	state  *State
	cancel context.CancelFunc
}

func NewScheduler(log *zap.Logger, p Prober, alerts AlertSink, rec StatusRecorder, cfg SchedulerConfig) *Scheduler {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 10
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	return &Scheduler{
		log:    log.With(zap.String("component", "scheduler")),
		prober: p,
		alerts: alerts,
		rec:    rec,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(cfg.MaxInFlight),
		loops:  make(map[string]*loop),
		quit:   make(chan struct{}),
	}
}

// Add registers an endpoint and, when the scheduler is running, starts its
// loop immediately without disturbing the others.
func (s *Scheduler) Add(ep endpoint.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.New("scheduler stopped")
	}
	if _, ok := s.loops[ep.Name]; ok {
		return fmt.Errorf("endpoint %q already scheduled", ep.Name)
	}
	lp := &loop{ep: ep, state: NewState(ep, s.cfg.State)}
	s.loops[ep.Name] = lp
	if s.running {
		s.startLoop(lp)
	}
	return nil
}

// Remove stops exactly that endpoint's loop. An in-flight probe is aborted
// at its transport timeout boundary.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	lp, ok := s.loops[name]
	if !ok {
		return false
	}
	if lp.cancel != nil {
		lp.cancel()
	}
	delete(s.loops, name)
	forgetHealth(lp.ep.Name, lp.ep.URL)
	return true
}

// Snapshots returns the current health of every scheduled endpoint.
func (s *Scheduler) Snapshots() []endpoint.Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]endpoint.Health, 0, len(s.loops))
	for _, lp := range s.loops {
		out = append(out, lp.state.Snapshot())
	}
	return out
}

// Run starts all registered loops and blocks until ctx is canceled, then
// drains in-flight probes within the shutdown grace period.
// The scheduler is one-shot: once Run has returned it cannot be restarted.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return errors.New("scheduler stopped")
	}
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	s.running = true
	s.loopCtx, s.loopCancel = context.WithCancel(context.Background())
	for _, lp := range s.loops {
		s.startLoop(lp)
	}
	n := len(s.loops)
	s.mu.Unlock()

	s.log.Info("scheduler started", zap.Int("endpoints", n))
	<-ctx.Done()
	return s.shutdown()
}

func (s *Scheduler) startLoop(lp *loop) {
	ctx, cancel := context.WithCancel(s.loopCtx)
	lp.cancel = cancel
	s.wg.Add(1)
	go s.runLoop(ctx, lp)
}

func (s *Scheduler) shutdown() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	close(s.quit)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownGrace):
		s.log.Warn("shutdown grace elapsed, aborting in-flight probes")
		s.loopCancel()
		<-done
	}
	s.loopCancel()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) runLoop(ctx context.Context, lp *loop) {
	defer s.wg.Done()

	t := time.NewTicker(lp.ep.Interval)
	defer t.Stop()

	s.cycle(ctx, lp)
	for {
		select {
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			s.cycle(ctx, lp)
			// A tick that queued up while the probe ran is dropped:
			// at most one slot is skipped, the backlog never grows.
			select {
			case <-t.C:
				mSkipped.Inc()
			default:
			}
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context, lp *loop) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	tr := otel.Tracer("monitor.scheduler")
	ctx, span := tr.Start(ctx, "monitor.probe")
	span.SetAttributes(
		attribute.String("endpoint.name", lp.ep.Name),
		attribute.String("endpoint.url", lp.ep.URL),
	)
	defer span.End()

	start := time.Now()
	res := s.prober.Run(ctx, lp.ep)
	mProbes.Inc()
	mProbeDur.Observe(time.Since(start).Seconds())
	if !res.Outcome.OK() {
		mFailures.Inc()
	}

	signals := lp.state.Apply(res)
	health := lp.state.Snapshot()
	projectHealth(health, res)

	for _, sig := range signals {
		s.alerts.Submit(ctx, sig)
	}
	s.rec.RecordStatus(res, health)

	obs.WithTrace(ctx, s.log).Debug("probe cycle",
		zap.String("endpoint", lp.ep.Name),
		zap.String("status", string(health.Status)),
		zap.String("outcome", string(res.Outcome)),
		zap.Float64("uptime", health.Uptime),
	)
}
