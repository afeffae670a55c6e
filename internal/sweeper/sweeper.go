package sweeper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Engine is the slice of the lifecycle engine the sweeper drives. Each
// method runs one bounded scan and returns how many conversations moved.
type Engine interface {
	SweepLateCancellations(ctx context.Context) int
	SweepWarnings(ctx context.Context) int
	SweepExpirations(ctx context.Context) int
}

// Sweeper runs the three deadline scans on a fixed interval in a single
// background goroutine. A tick that is still running when the next one is
// due makes the new tick a no-op (skip, not queue), so side effects are
// never duplicated by a slow store.
type Sweeper struct {
	engine   Engine
	interval time.Duration
	log      *zap.SugaredLogger

	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
	running bool

	tickMu sync.Mutex
}

func New(engine Engine, interval time.Duration, log *zap.SugaredLogger) *Sweeper {
	return &Sweeper{engine: engine, interval: interval, log: log}
}

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(runCtx)
	return nil
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Sweeper) run(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.running = false
		if s.done != nil {
			close(s.done)
		}
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Infow("sweeper stopping")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one sweep pass. Safe to call directly; overlapping calls are
// dropped rather than serialized.
func (s *Sweeper) Tick(ctx context.Context) {
	if !s.tickMu.TryLock() {
		s.log.Debugw("sweep tick skipped, previous still running")
		return
	}
	defer s.tickMu.Unlock()

	start := time.Now()
	cancelled := s.engine.SweepLateCancellations(ctx)
	if ctx.Err() != nil {
		return
	}
	warned := s.engine.SweepWarnings(ctx)
	if ctx.Err() != nil {
		return
	}
	ended := s.engine.SweepExpirations(ctx)

	if cancelled+warned+ended > 0 {
		s.log.Infow("sweep tick",
			"cancelled", cancelled,
			"warned", warned,
			"ended", ended,
			"duration", time.Since(start),
		)
	}
}
