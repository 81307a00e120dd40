package cache

import (
	"sync"
	"testing"
)

func TestStatsTracker(t *testing.T) {
	var s statsTracker

	if got := s.snapshot().HitRate; got != 0 {
		t.Errorf("empty HitRate = %v, want 0", got)
	}

	s.hit()
	s.hit()
	s.hit()
	s.miss()
	s.evict()
	s.expire()
	s.expire()

	snap := s.snapshot()
	if snap.Hits != 3 || snap.Misses != 1 || snap.Evictions != 1 || snap.Expirations != 2 {
		t.Errorf("snapshot counters = %+v", snap)
	}
	if snap.HitRate != 0.75 {
		t.Errorf("HitRate = %v, want 0.75", snap.HitRate)
	}
	if snap.ByType == nil {
		t.Error("ByType should be initialized")
	}
}

func TestStatsTracker_SnapshotIsConsistent(t *testing.T) {
	var s statsTracker

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if i%2 == 0 {
					s.hit()
				} else {
					s.miss()
				}
			}
		}(i)
	}

	for n := 0; n < 1000; n++ {
		snap := s.snapshot()
		if want := hitRate(snap.Hits, snap.Misses); snap.HitRate != want {
			close(stop)
			wg.Wait()
			t.Fatalf("HitRate %v does not match %d hits / %d misses", snap.HitRate, snap.Hits, snap.Misses)
		}
	}
	close(stop)
	wg.Wait()
}
