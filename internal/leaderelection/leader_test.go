package leaderelection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSession struct {
	mu      sync.Mutex
	acquire bool
	lockErr error
	pingErr error
	closed  bool
}

func (s *fakeSession) TryLock(ctx context.Context) (bool, error) {
	return s.acquire, s.lockErr
}

func (s *fakeSession) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) failPing(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

type mockMetrics struct {
	mu       sync.Mutex
	statuses []bool
	acquired int
	lost     []string
}

func (m *mockMetrics) LeaderStatusChanged(isLeader bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, isLeader)
}

func (m *mockMetrics) LeaderAcquired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquired++
}

func (m *mockMetrics) LeaderLost(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lost = append(m.lost, reason)
}

func (m *mockMetrics) lostReasons() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lost...)
}

var testConfig = Config{RetryInterval: 10 * time.Millisecond, HeartbeatInterval: 5 * time.Millisecond}

func connectTo(s *fakeSession) Connector {
	return func(ctx context.Context) (Session, error) { return s, nil }
}

func TestElector_RunsDutyWhileLeader(t *testing.T) {
	session := &fakeSession{acquire: true}
	started := make(chan struct{})
	var stopped atomic.Bool

	e := New(testConfig, connectTo(session), func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		stopped.Store(true)
	})
	m := &mockMetrics{}
	e.WithMetrics(m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("duty never started")
	}
	if !e.IsLeader() {
		t.Error("expected IsLeader while duty runs")
	}

	cancel()
	<-done

	if !stopped.Load() {
		t.Error("Run returned before duty stopped")
	}
	if e.IsLeader() {
		t.Error("still leader after shutdown")
	}
	if got := m.lostReasons(); len(got) != 1 || got[0] != ReasonShutdown {
		t.Errorf("lost reasons = %v, want [shutdown]", got)
	}
	if m.acquired != 1 {
		t.Errorf("acquired = %d, want 1", m.acquired)
	}
}

func TestElector_FollowerNeverRunsDuty(t *testing.T) {
	session := &fakeSession{acquire: false}
	var ran atomic.Bool
	e := New(testConfig, connectTo(session), func(ctx context.Context) { ran.Store(true) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	e.Run(ctx)

	if ran.Load() {
		t.Error("duty ran without the lock")
	}
	if !session.closed {
		t.Error("session not closed after failed attempt")
	}
}

func TestElector_ConnectionLossDemotes(t *testing.T) {
	session := &fakeSession{acquire: true}
	dutyStarts := make(chan struct{}, 10)
	e := New(testConfig, connectTo(session), func(ctx context.Context) {
		select {
		case dutyStarts <- struct{}{}:
		default:
		}
		<-ctx.Done()
	})
	m := &mockMetrics{}
	e.WithMetrics(m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	<-dutyStarts
	session.failPing(errors.New("broken pipe"))

	deadline := time.After(time.Second)
	for {
		reasons := m.lostReasons()
		if len(reasons) > 0 {
			if reasons[0] != ReasonConnLost {
				t.Errorf("reason = %s, want conn_lost", reasons[0])
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("leadership not lost after ping failure")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestElector_DutyExitReleasesLock(t *testing.T) {
	session := &fakeSession{acquire: true}
	m := &mockMetrics{}
	e := New(testConfig, connectTo(session), func(ctx context.Context) {}).WithMetrics(m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if reason := e.runOnce(ctx); reason != ReasonDutyExit {
		t.Errorf("runOnce() = %q, want duty_exit", reason)
	}
	if !session.closed {
		t.Error("session not closed")
	}
	if got := m.statuses; len(got) != 2 || !got[0] || got[1] {
		t.Errorf("status changes = %v, want [true false]", got)
	}
}

func TestElector_ConnectErrorRetries(t *testing.T) {
	var attempts atomic.Int32
	e := New(testConfig, func(ctx context.Context) (Session, error) {
		attempts.Add(1)
		return nil, errors.New("connection refused")
	}, func(ctx context.Context) {})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	e.Run(ctx)

	if attempts.Load() < 2 {
		t.Errorf("attempts = %d, expected retries", attempts.Load())
	}
}

func TestNew_Defaults(t *testing.T) {
	e := New(Config{}, nil, nil)
	if e.config.RetryInterval != 5*time.Second || e.config.HeartbeatInterval != 2*time.Second {
		t.Errorf("defaults = %+v", e.config)
	}
}
