// Package linker wires a host page to the session history and the icon
// overlay.
//
// Change signals from the host feed the debounce scheduler; its overlay slot
// re-applies the gem icon and its history slot records the conversation the
// page currently shows. Inbound actions (rename, delete, export, icon
// upload, transcript download) are dispatched through one
// connectivity.Router and exposed over HTTP and MCP.
package linker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hiroroworks/gemini-super-linker/connectivity"
	"github.com/hiroroworks/gemini-super-linker/history"
	"github.com/hiroroworks/gemini-super-linker/kv"
	"github.com/hiroroworks/gemini-super-linker/linker/internal/schedule"
	"github.com/hiroroworks/gemini-super-linker/overlay"
	"github.com/hiroroworks/gemini-super-linker/page"
	"github.com/hiroroworks/gemini-super-linker/session"
	"github.com/hiroroworks/gemini-super-linker/transcript"
)

// ToastPrefix precedes every toast shown in the host page.
const ToastPrefix = "🧹 "

const defaultActionTimeout = 30 * time.Second

// Host is the page the linker works on.
type Host interface {
	// Document returns the current state of the page.
	Document(ctx context.Context) (*page.Document, error)
	// Apply replays overlay rewrites, made on a Document it returned, on the
	// page itself.
	Apply(ctx context.Context, reps []overlay.Replacement) error
	// Toast shows a transient message.
	Toast(ctx context.Context, msg string) error
	// Signals delivers one value per observed page change. May be nil.
	Signals() <-chan struct{}
}

// Linker is the orchestrator. Create one per host page.
type Linker struct {
	host    Host
	store   *history.Store
	assets  *overlay.Assets
	engine  *overlay.Engine
	builder *transcript.Builder
	router  *connectivity.Router
	sched   *schedule.Scheduler
	clock   schedule.Clock
	logger  *slog.Logger

	actionTimeout time.Duration
}

// Option configures a Linker.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	clock    schedule.Clock
	schedule ScheduleConfig
	actions  ActionsConfig
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSchedule overrides the scheduler timings. Zero fields keep defaults.
func WithSchedule(cfg ScheduleConfig) Option {
	return func(o *options) { o.schedule = cfg }
}

// WithActions sets the per-call timeout and the actions that start
// disabled.
func WithActions(cfg ActionsConfig) Option {
	return func(o *options) { o.actions = cfg }
}

func withClock(c schedule.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New creates a Linker over host, persisting to backend.
func New(host Host, backend kv.Store, opts ...Option) *Linker {
	o := options{logger: slog.Default(), clock: schedule.RealClock()}
	for _, fn := range opts {
		fn(&o)
	}
	if o.actions.Timeout <= 0 {
		o.actions.Timeout = defaultActionTimeout
	}

	l := &Linker{
		host:    host,
		assets:  overlay.NewAssets(backend),
		builder: transcript.NewBuilder(),
		clock:   o.clock,
		logger:  o.logger,

		actionTimeout: o.actions.Timeout,
	}
	l.store = history.New(backend,
		history.WithNotifier(history.NotifierFunc(l.notify)),
		history.WithLogger(o.logger))
	l.engine = overlay.New(l.assets, o.logger)
	l.router = connectivity.New(
		connectivity.WithLogger(o.logger),
		connectivity.WithMiddleware(
			connectivity.Recovery(o.logger),
			connectivity.Logging(o.logger),
			connectivity.Timeout(o.actions.Timeout),
		))
	l.registerActions()
	for _, name := range o.actions.Disabled {
		if _, err := l.SetActionEnabled(name, false); err != nil {
			o.logger.Warn("linker: cannot disable action", "action", name, "error", err)
		}
	}
	l.sched = schedule.New(schedule.Config{
		OverlayQuiet: o.schedule.OverlayQuiet,
		HistoryQuiet: o.schedule.HistoryQuiet,
		Tick:         o.schedule.Tick,
		StartupDelay: o.schedule.StartupDelay,
		Clock:        o.clock,
		Logger:       o.logger,
	}, l.overlayTick, l.historyTick)
	return l
}

// Router returns the action router.
func (l *Linker) Router() *connectivity.Router { return l.router }

// SetActionEnabled switches an action on or off. A disabled action answers
// every surface without doing anything.
func (l *Linker) SetActionEnabled(action string, on bool) (connectivity.ServiceInfo, error) {
	if _, ok := l.router.Inspect(action); !ok {
		return connectivity.ServiceInfo{}, &connectivity.ErrServiceNotFound{Service: action}
	}
	if on {
		l.router.Enable(action)
	} else {
		l.router.Disable(action)
	}
	info, _ := l.router.Inspect(action)
	l.logger.Info("linker: action switched", "action", action, "enabled", info.Enabled)
	return info, nil
}

// History returns the session history store.
func (l *Linker) History() *history.Store { return l.store }

// Run starts the scheduler and forwards host signals to it until ctx is
// cancelled.
func (l *Linker) Run(ctx context.Context) error {
	if err := l.sched.Start(ctx); err != nil {
		return fmt.Errorf("linker: start scheduler: %w", err)
	}
	defer l.sched.Stop()
	l.logger.Info("linker: running")

	signals := l.host.Signals()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("linker: stopped")
			return nil
		case _, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			l.sched.Signal()
		}
	}
}

// Signal forwards one page change to the scheduler.
func (l *Linker) Signal() { l.sched.Signal() }

// SyncHistory records the conversation the page currently shows. Pages that
// are not conversations, or have no usable title yet, report ok=false. It
// never overlaps a scheduled pass.
func (l *Linker) SyncHistory(ctx context.Context) (rec history.Record, ok bool, err error) {
	err = l.sched.Do(ctx, func(ctx context.Context) error {
		rec, ok, err = l.syncHistory(ctx)
		return err
	})
	return rec, ok, err
}

func (l *Linker) syncHistory(ctx context.Context) (history.Record, bool, error) {
	doc, err := l.host.Document(ctx)
	if err != nil {
		return history.Record{}, false, fmt.Errorf("linker: sync history: %w", err)
	}
	id, ok := session.Resolve(doc)
	if !ok {
		return history.Record{}, false, nil
	}
	return l.store.Upsert(ctx, id.URL, id.Title, l.clock.Now().UnixMilli())
}

// RefreshOverlay runs one overlay pass and replays it on the host. It
// returns the number of replaced icons. It never overlaps a scheduled pass.
func (l *Linker) RefreshOverlay(ctx context.Context) (n int, err error) {
	err = l.sched.Do(ctx, func(ctx context.Context) error {
		n, err = l.refreshOverlay(ctx)
		return err
	})
	return n, err
}

func (l *Linker) refreshOverlay(ctx context.Context) (int, error) {
	doc, err := l.host.Document(ctx)
	if err != nil {
		return 0, fmt.Errorf("linker: refresh overlay: %w", err)
	}
	reps, err := l.engine.Apply(ctx, doc)
	if err != nil {
		return 0, fmt.Errorf("linker: refresh overlay: %w", err)
	}
	if len(reps) == 0 {
		return 0, nil
	}
	if err := l.host.Apply(ctx, reps); err != nil {
		return 0, fmt.Errorf("linker: apply overlay: %w", err)
	}
	return len(reps), nil
}

func (l *Linker) overlayTick(ctx context.Context) {
	if _, err := l.refreshOverlay(ctx); err != nil {
		l.logger.WarnContext(ctx, "linker: overlay pass failed", "error", err)
	}
}

func (l *Linker) historyTick(ctx context.Context) {
	if _, _, err := l.syncHistory(ctx); err != nil {
		l.logger.WarnContext(ctx, "linker: history sync failed", "error", err)
	}
}

func (l *Linker) notify(ctx context.Context, msg string) {
	if err := l.host.Toast(ctx, ToastPrefix+msg); err != nil {
		l.logger.DebugContext(ctx, "linker: toast failed", "error", err)
	}
}
