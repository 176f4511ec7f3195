package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vigilhq/vigil/internal/domain/alert"
	"github.com/vigilhq/vigil/internal/domain/endpoint"
	"github.com/vigilhq/vigil/internal/domain/probe"
)

type fakeProber struct {
	delay time.Duration

	mu          sync.Mutex
	calls       map[string]int
	inflight    map[string]int
	maxPerEP    int
	global      int32
	maxGlobal   int32
	outstanding int32
}

func newFakeProber(delay time.Duration) *fakeProber {
	return &fakeProber{
		delay:    delay,
		calls:    make(map[string]int),
		inflight: make(map[string]int),
	}
}

func (f *fakeProber) Run(ctx context.Context, ep endpoint.Endpoint) probe.Result {
	f.mu.Lock()
	f.calls[ep.Name]++
	f.inflight[ep.Name]++
	if f.inflight[ep.Name] > f.maxPerEP {
		f.maxPerEP = f.inflight[ep.Name]
	}
	f.mu.Unlock()

	g := atomic.AddInt32(&f.global, 1)
	for {
		cur := atomic.LoadInt32(&f.maxGlobal)
		if g <= cur || atomic.CompareAndSwapInt32(&f.maxGlobal, cur, g) {
			break
		}
	}
	atomic.AddInt32(&f.outstanding, 1)

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}

	atomic.AddInt32(&f.outstanding, -1)
	atomic.AddInt32(&f.global, -1)
	f.mu.Lock()
	f.inflight[ep.Name]--
	f.mu.Unlock()

	return probe.Result{
		Endpoint:     ep.Name,
		URL:          ep.URL,
		Timestamp:    time.Now(),
		Outcome:      probe.OutcomeSuccess,
		StatusCode:   200,
		ResponseTime: f.delay,
	}
}

func (f *fakeProber) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeProber) maxPerEndpoint() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxPerEP
}

type fakeSink struct {
	mu      sync.Mutex
	signals []alert.Signal
}

func (s *fakeSink) Submit(_ context.Context, sig alert.Signal) alert.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, sig)
	return alert.DecisionNew
}

type fakeStatusRec struct {
	n int32
}

func (r *fakeStatusRec) RecordStatus(probe.Result, endpoint.Health) {
	atomic.AddInt32(&r.n, 1)
}

func (r *fakeStatusRec) count() int32 { return atomic.LoadInt32(&r.n) }

func schedEndpoint(name string, interval time.Duration) endpoint.Endpoint {
	return endpoint.Endpoint{
		Name:     name,
		URL:      "http://" + name + ".internal",
		Interval: interval,
		Timeout:  time.Second,
	}
}

func TestSchedulerSequentialPerEndpoint(t *testing.T) {
	p := newFakeProber(30 * time.Millisecond)
	s := NewScheduler(zap.NewNop(), p, &fakeSink{}, &fakeStatusRec{}, SchedulerConfig{
		MaxInFlight:   10,
		ShutdownGrace: time.Second,
	})
	require.NoError(t, s.Add(schedEndpoint("api", 10*time.Millisecond)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(200 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	require.GreaterOrEqual(t, p.callCount("api"), 2)
	require.Equal(t, 1, p.maxPerEndpoint(), "ticks overlapping a probe are dropped, never queued")
}

func TestSchedulerConcurrencyCeiling(t *testing.T) {
	p := newFakeProber(30 * time.Millisecond)
	s := NewScheduler(zap.NewNop(), p, &fakeSink{}, &fakeStatusRec{}, SchedulerConfig{
		MaxInFlight:   2,
		ShutdownGrace: time.Second,
	})
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, s.Add(schedEndpoint(name, 10*time.Millisecond)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(250 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	require.LessOrEqual(t, atomic.LoadInt32(&p.maxGlobal), int32(2))
}

func TestSchedulerAddRemoveWhileRunning(t *testing.T) {
	p := newFakeProber(0)
	s := NewScheduler(zap.NewNop(), p, &fakeSink{}, &fakeStatusRec{}, SchedulerConfig{
		MaxInFlight:   10,
		ShutdownGrace: time.Second,
	})
	require.NoError(t, s.Add(schedEndpoint("first", 20*time.Millisecond)))
	require.Error(t, s.Add(schedEndpoint("first", 20*time.Millisecond)), "duplicate name rejected")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Add(schedEndpoint("second", 20*time.Millisecond)))

	require.Eventually(t, func() bool {
		return p.callCount("second") > 0
	}, time.Second, 10*time.Millisecond)

	require.True(t, s.Remove("first"))
	require.False(t, s.Remove("first"))
	frozen := p.callCount("first")
	time.Sleep(80 * time.Millisecond)
	require.LessOrEqual(t, p.callCount("first"), frozen+1, "removed loop stops probing")

	require.Len(t, s.Snapshots(), 1)

	cancel()
	require.NoError(t, <-done)
}

func TestSchedulerShutdownDrainsInFlight(t *testing.T) {
	p := newFakeProber(80 * time.Millisecond)
	rec := &fakeStatusRec{}
	s := NewScheduler(zap.NewNop(), p, &fakeSink{}, rec, SchedulerConfig{
		MaxInFlight:   10,
		ShutdownGrace: time.Second,
	})
	require.NoError(t, s.Add(schedEndpoint("api", 500*time.Millisecond)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Cancel while the first probe is still in flight.
	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	require.Zero(t, atomic.LoadInt32(&p.outstanding), "no probe left running after Run returns")
	require.Equal(t, int32(1), rec.count(), "the in-flight probe completed and was recorded")
}

func TestSchedulerUnusableAfterShutdown(t *testing.T) {
	p := newFakeProber(0)
	s := NewScheduler(zap.NewNop(), p, &fakeSink{}, &fakeStatusRec{}, SchedulerConfig{
		MaxInFlight:   10,
		ShutdownGrace: time.Second,
	})
	require.NoError(t, s.Add(schedEndpoint("api", 20*time.Millisecond)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	require.Error(t, s.Add(schedEndpoint("late", 20*time.Millisecond)),
		"no new loop may start on the torn-down context")
	require.Error(t, s.Run(context.Background()))
}

func TestSchedulerEmitsSignalsAndRecords(t *testing.T) {
	p := newFakeProber(2 * time.Millisecond)
	sink := &fakeSink{}
	rec := &fakeStatusRec{}
	s := NewScheduler(zap.NewNop(), p, sink, rec, SchedulerConfig{
		State:         StateConfig{FailureThreshold: 3},
		MaxInFlight:   10,
		ShutdownGrace: time.Second,
	})
	ep := schedEndpoint("api", 10*time.Millisecond)
	ep.SlowThreshold = time.Nanosecond // everything counts as slow
	require.NoError(t, s.Add(ep))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return rec.count() > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.NotEmpty(t, sink.signals)
	require.Equal(t, alert.TypeSlowResponse, sink.signals[0].Type)
	require.False(t, sink.signals[0].Resolve)
	require.Equal(t, alert.SeverityMedium, sink.signals[0].Severity)
}
