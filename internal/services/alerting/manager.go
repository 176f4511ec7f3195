package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/vigilhq/vigil/internal/domain/alert"
	"github.com/vigilhq/vigil/internal/obs/retry"
)

var (
	mNew = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alerts_opened_total", Help: "Alerts opened.",
	})
	mRepeated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alerts_repeated_total", Help: "Alert signals suppressed as repeats.",
	})
	mResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alerts_resolved_total", Help: "Alerts resolved.",
	})
	mNotifyErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alert_notify_failures_total", Help: "Notification deliveries that exhausted retries.",
	})
	mNoticeDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alert_notices_dropped_total", Help: "Notices dropped because the delivery queue was full.",
	})
	gOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "alerts_open", Help: "Currently open alerts.",
	}, []string{"severity"})
)

// EventRecorder persists alert lifecycle transitions. Implemented by the
// recorder; must not block the caller.
type EventRecorder interface {
	RecordAlert(e alert.Event)
}

type ManagerConfig struct {
	RenotifyInterval time.Duration
	NotifyAttempts   int
	NoticeQueueSize  int
}

type key struct {
	endpoint string
	typ      alert.Type
}

type entry struct {
	event        *alert.Event
	lastNotified time.Time
}

// Manager deduplicates alert signals into at most one open alert per
// (endpoint, type). This is the defense against alert storms while an
// endpoint flaps: repeats are suppressed until the re-notify interval
// elapses, and a resolution closes the open alert exactly once.
// Delivery runs on its own worker so a slow transport never stalls the
// probe path; Submit only enqueues.
type Manager struct {
	log      *zap.Logger
	notifier alert.Notifier
	rec      EventRecorder
	clock    alert.Clock
	cfg      ManagerConfig
	policy   retry.Policy

	mu   sync.Mutex
	open map[key]*entry

	notices chan alert.Notice
	wg      sync.WaitGroup
}

func NewManager(log *zap.Logger, n alert.Notifier, rec EventRecorder, clock alert.Clock, cfg ManagerConfig) *Manager {
	if cfg.RenotifyInterval <= 0 {
		cfg.RenotifyInterval = 5 * time.Minute
	}
	if cfg.NoticeQueueSize <= 0 {
		cfg.NoticeQueueSize = 256
	}
	l := log.With(zap.String("component", "alerting"))
	return &Manager{
		log:      l,
		notifier: n,
		rec:      rec,
		clock:    clock,
		cfg:      cfg,
		policy:   retry.NotifyPolicy(l, cfg.NotifyAttempts),
		open:     make(map[key]*entry),
		notices:  make(chan alert.Notice, cfg.NoticeQueueSize),
	}
}

// Start launches the delivery worker. A single worker keeps notices for one
// endpoint in submission order.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.deliveryLoop()
}

// Close stops intake and drains pending notices, waiting up to grace.
func (m *Manager) Close(grace time.Duration) {
	close(m.notices)
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		m.log.Warn("delivery close grace elapsed, pending notices abandoned")
	}
}

// Prime seeds the open set from previously persisted unresolved alerts so a
// restart does not re-open (and re-notify) conditions that never cleared.
func (m *Manager) Prime(events []*alert.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		if e.Resolved {
			continue
		}
		k := key{e.Endpoint, e.Type}
		if _, ok := m.open[k]; ok {
			continue
		}
		cp := *e
		m.open[k] = &entry{event: &cp, lastNotified: m.clock.Now()}
		gOpen.WithLabelValues(string(e.Severity)).Inc()
	}
}

// OpenCount reports how many alerts are currently open.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// Submit applies one signal to the open-alert set and returns the decision.
// Notification delivery failures are logged and never surface to the caller;
// bookkeeping is correct regardless of delivery.
func (m *Manager) Submit(_ context.Context, sig alert.Signal) alert.Decision {
	if sig.Resolve {
		return m.resolve(sig)
	}
	return m.raise(sig)
}

func (m *Manager) raise(sig alert.Signal) alert.Decision {
	now := m.clock.Now()
	k := key{sig.Endpoint, sig.Type}

	m.mu.Lock()
	e, exists := m.open[k]
	if !exists {
		ev := &alert.Event{
			Endpoint:  sig.Endpoint,
			Type:      sig.Type,
			Severity:  sig.Severity,
			Message:   sig.Message,
			CreatedAt: now,
		}
		m.open[k] = &entry{event: ev, lastNotified: now}
		gOpen.WithLabelValues(string(ev.Severity)).Inc()
		snapshot := *ev
		m.mu.Unlock()

		mNew.Inc()
		m.rec.RecordAlert(snapshot)
		m.notify(alert.Notice{
			Endpoint: sig.Endpoint,
			Type:     sig.Type,
			Severity: sig.Severity,
			Message:  sig.Message,
			At:       now,
		})
		m.log.Info("alert opened",
			zap.String("endpoint", sig.Endpoint),
			zap.String("type", string(sig.Type)),
			zap.String("severity", string(sig.Severity)),
		)
		return alert.DecisionNew
	}

	// Escalation reminder: the open row stays as is, but a fresh notice goes
	// out once the re-notify interval has passed, carrying the latest severity.
	remind := now.Sub(e.lastNotified) >= m.cfg.RenotifyInterval
	if remind {
		e.lastNotified = now
	}
	m.mu.Unlock()

	mRepeated.Inc()
	if remind {
		m.notify(alert.Notice{
			Endpoint: sig.Endpoint,
			Type:     sig.Type,
			Severity: sig.Severity,
			Message:  sig.Message,
			At:       now,
		})
	}
	return alert.DecisionRepeated
}

func (m *Manager) resolve(sig alert.Signal) alert.Decision {
	now := m.clock.Now()
	k := key{sig.Endpoint, sig.Type}

	m.mu.Lock()
	e, exists := m.open[k]
	if !exists {
		m.mu.Unlock()
		return alert.DecisionNone
	}
	delete(m.open, k)
	gOpen.WithLabelValues(string(e.event.Severity)).Dec()
	e.event.Resolved = true
	rt := now
	e.event.ResolvedAt = &rt
	snapshot := *e.event
	m.mu.Unlock()

	mResolved.Inc()
	m.rec.RecordAlert(snapshot)
	m.notify(alert.Notice{
		Endpoint:     sig.Endpoint,
		Type:         sig.Type,
		Severity:     snapshot.Severity,
		Message:      snapshot.Message,
		IsResolution: true,
		At:           now,
	})
	m.log.Info("alert resolved",
		zap.String("endpoint", sig.Endpoint),
		zap.String("type", string(sig.Type)),
	)
	return alert.DecisionResolved
}

// notify hands the notice to the delivery worker. Enqueueing never blocks:
// when the queue is full the notice is dropped and counted.
func (m *Manager) notify(n alert.Notice) {
	if m.notifier == nil {
		return
	}
	select {
	case m.notices <- n:
	default:
		mNoticeDropped.Inc()
		m.log.Warn("notice queue full, notification dropped",
			zap.String("endpoint", n.Endpoint),
			zap.String("type", string(n.Type)),
		)
	}
}

func (m *Manager) deliveryLoop() {
	defer m.wg.Done()
	for n := range m.notices {
		m.deliver(n)
	}
}

func (m *Manager) deliver(n alert.Notice) {
	ctx := context.Background()
	err := retry.Do(ctx, func() error {
		return m.notifier.Notify(ctx, n)
	}, m.policy)
	if err != nil {
		mNotifyErr.Inc()
		m.log.Warn("notification dropped",
			zap.String("endpoint", n.Endpoint),
			zap.String("type", string(n.Type)),
			zap.Bool("resolution", n.IsResolution),
			zap.Error(err),
		)
	}
}
