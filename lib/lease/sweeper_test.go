package lease

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// countingManager counts sweeps and fails nothing else
type countingManager struct {
	ILockManager
	sweeps atomic.Int32
}

func (m *countingManager) SweepExpired(context.Context) (int, error) {
	m.sweeps.Add(1)
	return 1, nil
}

func TestSweeperRunsPeriodically(t *testing.T) {
	mgr := &countingManager{}
	s := NewSweeper(mgr, 5*time.Millisecond)

	s.Start(context.Background())
	s.Start(context.Background()) // no second loop

	deadline := time.Now().Add(2 * time.Second)
	for mgr.sweeps.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	n := mgr.sweeps.Load()
	if n < 3 {
		t.Fatalf("sweeper ran %d times, want at least 3", n)
	}
	time.Sleep(20 * time.Millisecond)
	if mgr.sweeps.Load() != n {
		t.Errorf("sweeper kept running after Stop")
	}
	s.Stop() // stopping twice is fine
}

func TestSweeperStopsWithContext(t *testing.T) {
	mgr := &countingManager{}
	s := NewSweeper(mgr, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked after the context was cancelled")
	}
}

func TestSweepOnce(t *testing.T) {
	f := newFixture(t)
	f.acquire(t, "A", time.Minute)
	f.clock.Advance(time.Hour)

	s := NewSweeper(f.mgr, 0)
	if s.interval != DefaultSweepInterval {
		t.Errorf("interval = %s, want default", s.interval)
	}
	if n := s.SweepOnce(context.Background()); n != 1 {
		t.Errorf("SweepOnce = %d, want 1", n)
	}

	broken := NewSweeper(NewLockManager(faultyStore{}), time.Minute)
	if n := broken.SweepOnce(context.Background()); n != 0 {
		t.Errorf("failed sweep reported %d", n)
	}
}
