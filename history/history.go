// Package history owns the persisted, deduplicated list of conversation
// records and the upsert algorithm that keeps it in sync with the page.
//
// The whole list lives under one key of a kv.Store and every write replaces
// it. There is no conflict detection: the last writer wins, which is fine
// for the single writer per browsing context this is built for.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/hiroroworks/gemini-super-linker/kv"
)

// Key is the kv key holding the record list.
const Key = "sessions"

// ErrMalformed is returned by Import for input that is not a record list,
// even after repair.
var ErrMalformed = errors.New("history: malformed import")

// toastTitleLen is how many characters of the title the save notice shows.
const toastTitleLen = 15

// Record is one tracked conversation.
type Record struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	LastSeen  int64  `json:"lastSeen"`
	IsRenamed bool   `json:"isRenamed"`
}

// Notifier receives the transient confirmation shown after a save.
type Notifier interface {
	Notify(ctx context.Context, msg string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg string)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, msg string) { f(ctx, msg) }

// Store is the history store. Safe for concurrent use; the mutex guards the
// in-process dedup memory, not the read-modify-write of the persisted list.
type Store struct {
	kv       kv.Store
	notifier Notifier
	logger   *slog.Logger

	mu        sync.Mutex
	lastURL   string
	lastTitle string
}

// Option configures a Store.
type Option func(*Store)

// WithNotifier sets the receiver of save confirmations.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store over backend.
func New(backend kv.Store, opts ...Option) *Store {
	s := &Store{kv: backend, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Upsert records an observation of url with the title currently derived
// from the page. It reports whether anything was persisted.
//
// An observation identical to the last persisted (url, title) pair is
// skipped without touching the store. A renamed record keeps its title.
// The touched record wins ties on LastSeen.
func (s *Store) Upsert(ctx context.Context, url, candidate string, now int64) (Record, bool, error) {
	s.mu.Lock()
	dup := url == s.lastURL && candidate == s.lastTitle
	s.mu.Unlock()
	if dup {
		return Record{}, false, nil
	}

	recs, err := s.load(ctx)
	if err != nil {
		return Record{}, false, err
	}

	rec := Record{URL: url, Title: candidate, LastSeen: now}
	if i := indexOf(recs, url); i >= 0 {
		existing := recs[i]
		if existing.IsRenamed {
			rec.Title = existing.Title
			rec.IsRenamed = true
		}
		recs = append(recs[:i], recs[i+1:]...)
	}

	recs = place(recs, rec)
	if err := s.save(ctx, recs); err != nil {
		return Record{}, false, err
	}

	s.mu.Lock()
	s.lastURL, s.lastTitle = url, rec.Title
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "history: saved", "url", url, "title", rec.Title, "renamed", rec.IsRenamed)
	if s.notifier != nil {
		s.notifier.Notify(ctx, fmt.Sprintf("保存: %s...", truncate(rec.Title, toastTitleLen)))
	}
	return rec, true, nil
}

// Rename sets a user-chosen title and turns on the rename guard. Empty or
// unchanged titles and unknown urls are ignored.
func (s *Store) Rename(ctx context.Context, url, newTitle string) error {
	if newTitle == "" {
		return nil
	}
	recs, err := s.load(ctx)
	if err != nil {
		return err
	}
	i := indexOf(recs, url)
	if i < 0 || recs[i].Title == newTitle {
		return nil
	}
	recs[i].Title = newTitle
	recs[i].IsRenamed = true
	if err := s.save(ctx, recs); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "history: renamed", "url", url, "title", newTitle)
	return nil
}

// Delete removes the record for url. Only the local bookkeeping is touched.
func (s *Store) Delete(ctx context.Context, url string) error {
	recs, err := s.load(ctx)
	if err != nil {
		return err
	}
	i := indexOf(recs, url)
	if i < 0 {
		return nil
	}
	recs = append(recs[:i], recs[i+1:]...)
	if err := s.save(ctx, recs); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "history: deleted", "url", url)
	return nil
}

// List returns all records, most recent first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	return s.load(ctx)
}

// Get returns the record for url.
func (s *Store) Get(ctx context.Context, url string) (Record, bool, error) {
	recs, err := s.load(ctx)
	if err != nil {
		return Record{}, false, err
	}
	if i := indexOf(recs, url); i >= 0 {
		return recs[i], true, nil
	}
	return Record{}, false, nil
}

func (s *Store) load(ctx context.Context) ([]Record, error) {
	data, ok, err := s.kv.Get(ctx, Key)
	if err != nil {
		return nil, fmt.Errorf("history: load: %w", err)
	}
	if !ok || len(data) == 0 {
		return nil, nil
	}
	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("history: decode: %w", err)
	}
	return recs, nil
}

// save sorts by LastSeen descending and replaces the stored list.
func (s *Store) save(ctx context.Context, recs []Record) error {
	sortRecords(recs)
	if recs == nil {
		recs = []Record{}
	}
	data, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("history: encode: %w", err)
	}
	if err := s.kv.Set(ctx, Key, data); err != nil {
		return fmt.Errorf("history: save: %w", err)
	}
	return nil
}

func indexOf(recs []Record, url string) int {
	for i, r := range recs {
		if r.URL == url {
			return i
		}
	}
	return -1
}

func sortRecords(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].LastSeen > recs[j].LastSeen })
}

// place sorts recs and inserts rec ahead of every record with an equal or
// older LastSeen, so the record just touched wins ties while the others keep
// their relative order.
func place(recs []Record, rec Record) []Record {
	sortRecords(recs)
	i := sort.Search(len(recs), func(i int) bool { return recs[i].LastSeen <= rec.LastSeen })
	recs = append(recs, Record{})
	copy(recs[i+1:], recs[i:])
	recs[i] = rec
	return recs
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
