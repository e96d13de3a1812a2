package kv

import (
	"context"
	"database/sql"
	"log/slog"
	"sync/atomic"
	"time"
)

// VersionFunc reads a token that changes whenever the store is written.
type VersionFunc func(ctx context.Context, db *sql.DB) (int64, error)

// DataVersion reads PRAGMA data_version. It moves when any other connection,
// in this process or another one, commits to the same database file. The
// value is per connection; Open keeps the pool at one so successive reads
// compare like with like.
func DataVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}

// WatchOptions tunes a Watcher.
type WatchOptions struct {
	// Interval is the polling period. Default: 1s.
	Interval time.Duration
	// Version overrides DataVersion.
	Version VersionFunc
	Logger  *slog.Logger
}

func (o *WatchOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Version == nil {
		o.Version = DataVersion
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// WatchStats are point-in-time counters.
type WatchStats struct {
	Checks  int64 `json:"checks"`
	Changes int64 `json:"changes"`
	Errors  int64 `json:"errors"`
}

// Watcher polls a SQLite store and reports writes made through other
// connections, such as a second linker sharing the same file. Writes made
// through the watched store itself share its connection and are not
// reported.
type Watcher struct {
	db   *sql.DB
	opts WatchOptions

	version atomic.Int64
	checks  atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
}

// NewWatcher creates a Watcher over s. Call OnChange to start polling.
func NewWatcher(s *SQLite, opts WatchOptions) *Watcher {
	opts.defaults()
	return &Watcher{db: s.DB, opts: opts}
}

// Stats returns the current counters.
func (w *Watcher) Stats() WatchStats {
	return WatchStats{
		Checks:  w.checks.Load(),
		Changes: w.changes.Load(),
		Errors:  w.errors.Load(),
	}
}

// OnChange polls until ctx is cancelled and calls fn once per observed
// version change. Debouncing is left to the caller.
func (w *Watcher) OnChange(ctx context.Context, fn func()) {
	log := w.opts.Logger

	if v, err := w.opts.Version(ctx, w.db); err != nil {
		log.WarnContext(ctx, "kv: initial version check failed", "error", err)
	} else {
		w.version.Store(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()
	log.DebugContext(ctx, "kv: watching", "interval", w.opts.Interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.opts.Version(ctx, w.db)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.errors.Add(1)
				log.WarnContext(ctx, "kv: version check failed", "error", err)
				continue
			}
			if old := w.version.Swap(cur); old != cur {
				w.changes.Add(1)
				log.DebugContext(ctx, "kv: external write", "old_version", old, "new_version", cur)
				fn()
			}
		}
	}
}
