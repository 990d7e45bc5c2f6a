// Package debounce coalesces bursts of recompute triggers into a single run.
package debounce

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mohammed-shakir/mains-analytics/internal/core/observability"
	"github.com/mohammed-shakir/mains-analytics/internal/logger"
)

const DefaultDelay = 350 * time.Millisecond

type State int

const (
	Idle State = iota
	Pending
)

func (s State) String() string {
	if s == Pending {
		return "pending"
	}
	return "idle"
}

// RunFunc performs one recompute. reason is the last trigger that armed the timer.
type RunFunc func(ctx context.Context, reason string) error

type Scheduler struct {
	logger *slog.Logger
	delay  time.Duration
	run    RunFunc

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	timer  *time.Timer
	seq    uint64
	state  State
	reason string
	closed bool

	wg sync.WaitGroup
}

func New(ctx context.Context, log *slog.Logger, delay time.Duration, run RunFunc) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if delay <= 0 {
		delay = DefaultDelay
	}
	base, cancel := context.WithCancel(ctx)
	return &Scheduler{
		logger: log,
		delay:  delay,
		run:    run,
		base:   base,
		cancel: cancel,
	}
}

// Trigger (re)arms the timer; the run happens once the triggers stop for the delay.
func (s *Scheduler) Trigger(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	observability.IncTrigger(reason)
	if s.timer != nil {
		s.timer.Stop()
	}
	s.seq++
	seq := s.seq
	s.state = Pending
	s.reason = reason
	s.timer = time.AfterFunc(s.delay, func() { s.fire(seq) })
}

func (s *Scheduler) fire(seq uint64) {
	s.mu.Lock()
	// a timer that fired while being re-armed carries an old seq
	if s.closed || seq != s.seq {
		s.mu.Unlock()
		return
	}
	reason := s.reason
	s.state = Idle
	s.timer = nil
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	s.execute(s.base, "debounced", reason)
}

// Flush drops any pending timer and runs immediately on ctx.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return context.Canceled
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.seq++
	s.state = Idle
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	return s.execute(ctx, "immediate", "refresh")
}

func (s *Scheduler) execute(ctx context.Context, mode, reason string) error {
	observability.IncRun(mode)
	ctx = logger.WithTrigger(ctx, reason)
	err := s.run(ctx, reason)
	if err != nil {
		s.logger.WarnContext(ctx, "scheduled run failed", "mode", mode, "err", err)
	}
	return err
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close cancels the pending timer and waits for in-flight runs. Later triggers are ignored.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.seq++
	s.state = Idle
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
