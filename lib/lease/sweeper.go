package lease

import (
	"context"
	"sync"
	"time"
)

// DefaultSweepInterval is the interval used by NewSweeper for a non-positive interval.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically deletes expired leases so that keys nobody asks for again do not
// accumulate. Correctness never depends on it: every check and acquire reconciles on its own.
type Sweeper struct {
	mgr      ILockManager
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper returns a sweeper for mgr. It does nothing until Start is called.
func NewSweeper(mgr ILockManager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{mgr: mgr, interval: interval}
}

// Start runs the sweep loop in the background until ctx is cancelled or Stop is called.
// Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
	log.Infof("sweeper started (interval %s)", s.interval)
}

// Stop ends the sweep loop and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Infof("sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single sweep and returns the number of deleted leases.
// Errors are logged, the next tick tries again.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	n, err := s.mgr.SweepExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Errorf("sweep failed: %v", err)
		}
		return n
	}
	if n > 0 {
		log.Infof("swept %d expired locks", n)
	}
	return n
}
