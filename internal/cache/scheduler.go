package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// sweeper runs one cleanup pass.
type sweeper interface {
	sweep() sweepResult
}

// Scheduler runs cleanup passes on a fixed interval in a background
// goroutine. A goroutine never keeps a Go program alive, so a running
// scheduler does not delay exit.
type Scheduler struct {
	target   sweeper
	interval time.Duration
	log      Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}

	// not guarded by mu: Stop holds mu while a pass may still be finishing
	runs atomic.Int64
}

func newScheduler(target sweeper, interval time.Duration, log Logger) *Scheduler {
	return &Scheduler{
		target:   target,
		interval: interval,
		log:      log,
	}
}

// Start begins periodic cleanup. Calling Start on a running scheduler
// replaces its loop, so loops never stack.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	if s.interval <= 0 {
		return
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.interval, s.stop, s.done)
}

// Stop cancels periodic cleanup and waits for a pass in progress to finish.
// It is safe to call on a stopped scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
}

// SetInterval changes the cleanup interval, restarting the loop if it is
// running.
func (s *Scheduler) SetInterval(interval time.Duration) {
	s.mu.Lock()
	running := s.stop != nil
	s.interval = interval
	s.mu.Unlock()

	if running {
		s.Start()
	}
}

// Running reports whether the cleanup loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stop != nil
}

// Runs returns how many passes the scheduler has completed.
func (s *Scheduler) Runs() int64 {
	return s.runs.Load()
}

func (s *Scheduler) stopLocked() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop, s.done = nil, nil
}

// run ticks until stop is closed. Ticks that fall due while a pass is still
// running are dropped by the ticker, so passes never overlap.
func (s *Scheduler) run(interval time.Duration, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-stop:
			return
		}
	}
}

func (s *Scheduler) tick() {
	r := s.target.sweep()
	s.runs.Add(1)

	s.log.Info("cache cleanup",
		"removed", r.Removed,
		"freed", humanize.Bytes(uint64(max(r.Freed, 0))),
		"remaining", r.Remaining,
		"duration", r.Duration)
}
