package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SweeperState mirrors the teacher's batch.Scheduler state machine
// (pkg/batch/scheduler.go), adapted from "batch closing on a timer" to
// "periodic orphaned off-chain file cleanup" (spec §4.4 cleanup_orphans,
// §4.8 "a best-effort compensation phase removes leftover off-chain
// files").
type SweeperState string

const (
	SweeperStateStopped SweeperState = "stopped"
	SweeperStateRunning SweeperState = "running"
)

// Sweeper periodically calls Engine.sweepOrphans on a ticker, catching
// off-chain files left behind by an append that wrote its file but crashed
// before committing the owning block row, or by a rollback whose
// compensation phase was interrupted.
type Sweeper struct {
	mu sync.RWMutex

	engine   *Engine
	interval time.Duration
	logger   *log.Logger

	state  SweeperState
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSweeper builds a Sweeper over engine, running every interval (the
// caller typically uses a multiple of minutes; there is no spec-mandated
// default, unlike the validation batch size).
func NewSweeper(engine *Engine, interval time.Duration, logger *log.Logger) *Sweeper {
	if logger == nil {
		logger = log.New(log.Writer(), "[OrphanSweeper] ", log.LstdFlags)
	}
	return &Sweeper{
		engine:   engine,
		interval: interval,
		logger:   logger,
		state:    SweeperStateStopped,
	}
}

// Start launches the background sweep loop. Calling Start on an
// already-running Sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SweeperStateRunning {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.state = SweeperStateRunning

	go s.run(ctx)
	s.logger.Printf("orphan sweeper started (interval=%s)", s.interval)
}

// Stop halts the background loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if s.state != SweeperStateRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.state = SweeperStateStopped
	s.mu.Unlock()

	<-s.doneCh
	s.logger.Println("orphan sweeper stopped")
}

// State reports whether the sweeper is currently running.
func (s *Sweeper) State() SweeperState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// RunOnce runs a single sweep synchronously, useful for tests and for the
// "on-demand cleanup" shape of cleanup_orphans (spec §4.4) outside the
// ticker loop. It acquires the engine's exclusive write lock itself, since
// sweeping deletes files and rows that a concurrent append or rollback
// might otherwise be relying on mid-transaction.
//
// Each pass is tagged with a correlation ID, the same way the teacher
// stamps every anchor batch with a uuid.UUID so its async callbacks and log
// lines can be tied back to one run.
func (s *Sweeper) RunOnce(ctx context.Context) {
	runID := uuid.New()
	s.logger.Printf("sweep %s starting", runID)

	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	s.engine.sweepOrphans(ctx)

	s.logger.Printf("sweep %s complete", runID)
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// Sweeper returns the engine's background orphan sweeper, constructing one
// on first use with the given interval. Subsequent calls ignore the
// interval argument and return the existing instance.
func (e *Engine) Sweeper(interval time.Duration, logger *log.Logger) *Sweeper {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sweeper == nil {
		e.sweeper = NewSweeper(e, interval, logger)
	}
	return e.sweeper
}
