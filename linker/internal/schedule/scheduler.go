// Package schedule coalesces bursts of page-change signals into trailing
// debounced runs of the overlay and history actions, plus a periodic safety
// tick and a one-shot startup kick.
package schedule

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrRunning is returned by Start on a scheduler that is already running.
var ErrRunning = errors.New("schedule: already running")

// Action is one unit of scheduled work.
type Action func(ctx context.Context)

// Config controls the scheduler timings.
type Config struct {
	// OverlayQuiet is the overlay slot's quiet period. Default: 300ms.
	OverlayQuiet time.Duration
	// HistoryQuiet is the history slot's quiet period. Default: 2s.
	HistoryQuiet time.Duration
	// Tick runs both actions unconditionally. Default: 3s.
	Tick time.Duration
	// StartupDelay is when the one-shot startup run happens. Default: 2s.
	StartupDelay time.Duration

	Clock  Clock
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.OverlayQuiet <= 0 {
		c.OverlayQuiet = 300 * time.Millisecond
	}
	if c.HistoryQuiet <= 0 {
		c.HistoryQuiet = 2 * time.Second
	}
	if c.Tick <= 0 {
		c.Tick = 3 * time.Second
	}
	if c.StartupDelay <= 0 {
		c.StartupDelay = 2 * time.Second
	}
	if c.Clock == nil {
		c.Clock = RealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// slot is one trailing-debounce channel. gen is bumped on every re-arm and
// on Stop; a timer callback only acts if its generation is still current.
type slot struct {
	name   string
	quiet  time.Duration
	action Action
	gen    uint64
	timer  Timer
}

// Scheduler drives the overlay and history actions.
type Scheduler struct {
	cfg Config

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	slots   [2]*slot
	tick    Timer
	kick    Timer
	epoch   uint64

	runMu sync.Mutex
}

// New creates a Scheduler for the two actions.
func New(cfg Config, overlay, history Action) *Scheduler {
	cfg.defaults()
	return &Scheduler{
		cfg: cfg,
		slots: [2]*slot{
			{name: "overlay", quiet: cfg.OverlayQuiet, action: overlay},
			{name: "history", quiet: cfg.HistoryQuiet, action: history},
		},
	}
}

// Start arms the startup kick and the periodic tick. Signals are accepted
// until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.epoch++

	epoch := s.epoch
	s.kick = s.cfg.Clock.AfterFunc(s.cfg.StartupDelay, func() { s.onKick(epoch) })
	s.tick = s.cfg.Clock.AfterFunc(s.cfg.Tick, func() { s.onTick(epoch) })
	s.cfg.Logger.Debug("schedule: started",
		"overlay_quiet", s.cfg.OverlayQuiet, "history_quiet", s.cfg.HistoryQuiet, "tick", s.cfg.Tick)
	return nil
}

// Stop cancels every pending timer. Actions already running finish; nothing
// scheduled before Stop runs afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.epoch++
	for _, sl := range s.slots {
		sl.gen++
		if sl.timer != nil {
			sl.timer.Stop()
			sl.timer = nil
		}
	}
	if s.tick != nil {
		s.tick.Stop()
		s.tick = nil
	}
	if s.kick != nil {
		s.kick.Stop()
		s.kick = nil
	}
	s.cancel()
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Signal reports a change in the page. Both slots are re-armed: any pending
// run is cancelled and a new one is scheduled after the slot's quiet period.
func (s *Scheduler) Signal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	for i, sl := range s.slots {
		sl.gen++
		if sl.timer != nil {
			sl.timer.Stop()
		}
		idx, gen := i, sl.gen
		sl.timer = s.cfg.Clock.AfterFunc(sl.quiet, func() { s.fire(idx, gen) })
	}
}

// Do runs fn exclusively with the scheduled actions: it waits for a running
// action to finish and holds the next one back until fn returns. It works
// whether or not the scheduler is started. Calling Do from inside an Action
// deadlocks.
func (s *Scheduler) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

func (s *Scheduler) fire(idx int, gen uint64) {
	s.mu.Lock()
	sl := s.slots[idx]
	if !s.running || sl.gen != gen {
		s.mu.Unlock()
		return
	}
	sl.timer = nil
	ctx := s.ctx
	s.mu.Unlock()

	s.run(ctx, sl)
}

func (s *Scheduler) onKick(epoch uint64) {
	s.mu.Lock()
	if !s.running || s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.kick = nil
	ctx := s.ctx
	s.mu.Unlock()

	s.runAll(ctx)
}

func (s *Scheduler) onTick(epoch uint64) {
	s.mu.Lock()
	if !s.running || s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.tick = s.cfg.Clock.AfterFunc(s.cfg.Tick, func() { s.onTick(epoch) })
	ctx := s.ctx
	s.mu.Unlock()

	s.runAll(ctx)
}

func (s *Scheduler) runAll(ctx context.Context) {
	for _, sl := range s.slots {
		s.run(ctx, sl)
	}
}

func (s *Scheduler) run(ctx context.Context, sl *slot) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if ctx.Err() != nil || sl.action == nil {
		return
	}
	sl.action(ctx)
}
