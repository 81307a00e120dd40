package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSweeper struct {
	calls  atomic.Int64
	active atomic.Int64
	mu     sync.Mutex
	maxPar int64
	delay  time.Duration
}

func (s *countingSweeper) sweep() sweepResult {
	n := s.active.Add(1)
	s.mu.Lock()
	s.maxPar = max(s.maxPar, n)
	s.mu.Unlock()

	time.Sleep(s.delay)
	s.active.Add(-1)
	s.calls.Add(1)
	return sweepResult{Removed: 1, Freed: 10}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestScheduler_RunsPeriodically(t *testing.T) {
	target := &countingSweeper{}
	s := newScheduler(target, 10*time.Millisecond, quietLogger())

	s.Start()
	defer s.Stop()

	waitFor(t, func() bool { return s.Runs() >= 3 })
	if !s.Running() {
		t.Error("scheduler should report running")
	}
}

func TestScheduler_StopHaltsRuns(t *testing.T) {
	target := &countingSweeper{}
	s := newScheduler(target, 5*time.Millisecond, quietLogger())

	s.Start()
	waitFor(t, func() bool { return s.Runs() >= 1 })
	s.Stop()
	s.Stop()

	if s.Running() {
		t.Error("scheduler should not be running after Stop")
	}
	after := target.calls.Load()
	time.Sleep(30 * time.Millisecond)
	if got := target.calls.Load(); got != after {
		t.Errorf("sweeps ran after Stop: %d -> %d", after, got)
	}
}

func TestScheduler_StartIsIdempotent(t *testing.T) {
	target := &countingSweeper{delay: 5 * time.Millisecond}
	s := newScheduler(target, time.Millisecond, quietLogger())

	s.Start()
	s.Start()
	s.Start()
	waitFor(t, func() bool { return s.Runs() >= 5 })
	s.Stop()

	target.mu.Lock()
	defer target.mu.Unlock()
	if target.maxPar != 1 {
		t.Errorf("sweeps overlapped: %d ran at once", target.maxPar)
	}
}

func TestScheduler_SetInterval(t *testing.T) {
	target := &countingSweeper{}
	s := newScheduler(target, time.Hour, quietLogger())

	// changing the interval of a stopped scheduler does not start it
	s.SetInterval(time.Minute)
	if s.Running() {
		t.Fatal("SetInterval should not start a stopped scheduler")
	}

	s.Start()
	defer s.Stop()
	s.SetInterval(5 * time.Millisecond)
	waitFor(t, func() bool { return s.Runs() >= 2 })
}

func TestScheduler_NonPositiveIntervalNeverStarts(t *testing.T) {
	s := newScheduler(&countingSweeper{}, 0, quietLogger())
	s.Start()
	if s.Running() {
		t.Error("scheduler with no interval should not run")
	}
	s.Stop()
}
