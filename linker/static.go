package linker

import (
	"context"
	"errors"
	"sync"

	"github.com/hiroroworks/gemini-super-linker/overlay"
	"github.com/hiroroworks/gemini-super-linker/page"
)

// ErrNoDocument is returned by a StaticHost that has nothing loaded.
var ErrNoDocument = errors.New("linker: no document loaded")

// StaticHost is a Host over an in-process Document. Like a browser tab it
// owns its page: Document hands out snapshots and Apply replays overlay
// rewrites onto the held tree, both under the host lock, so callers never
// share nodes with each other or with Mutate. Used by the -html mode of the
// CLI and by tests.
type StaticHost struct {
	mu      sync.Mutex
	doc     *page.Document
	applied []overlay.Replacement
	toasts  []string
	signals chan struct{}
}

// NewStaticHost creates a host showing doc, which may be nil.
func NewStaticHost(doc *page.Document) *StaticHost {
	return &StaticHost{doc: doc, signals: make(chan struct{}, 1)}
}

// Document implements Host. The snapshot keeps the node IDs of the held
// tree.
func (h *StaticHost) Document(context.Context) (*page.Document, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.doc == nil {
		return nil, ErrNoDocument
	}
	return h.doc.Clone(), nil
}

// Apply implements Host. A replacement whose node is gone is skipped.
func (h *StaticHost) Apply(_ context.Context, reps []overlay.Replacement) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range reps {
		if h.doc == nil {
			break
		}
		if n := h.doc.Node(r.Container); n != nil {
			overlay.Rewrite(n, r.ImageData)
		}
	}
	h.applied = append(h.applied, reps...)
	return nil
}

// Toast implements Host.
func (h *StaticHost) Toast(_ context.Context, msg string) error {
	h.mu.Lock()
	h.toasts = append(h.toasts, msg)
	h.mu.Unlock()
	return nil
}

// Signals implements Host.
func (h *StaticHost) Signals() <-chan struct{} { return h.signals }

// Load replaces the document, as a navigation would, and signals.
func (h *StaticHost) Load(doc *page.Document) {
	h.mu.Lock()
	h.doc = doc
	h.mu.Unlock()
	h.signal()
}

// Mutate runs fn on the current document and signals.
func (h *StaticHost) Mutate(fn func(doc *page.Document)) {
	h.mu.Lock()
	if h.doc != nil {
		fn(h.doc)
	}
	h.mu.Unlock()
	h.signal()
}

// Toasts returns the messages shown so far.
func (h *StaticHost) Toasts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.toasts...)
}

// Applied returns every replacement replayed so far.
func (h *StaticHost) Applied() []overlay.Replacement {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]overlay.Replacement(nil), h.applied...)
}

// signal coalesces: a pending signal already stands for this change.
func (h *StaticHost) signal() {
	select {
	case h.signals <- struct{}{}:
	default:
	}
}
