// Package overlay replaces the default gem iconography in a page with the
// user's cached image.
//
// Passes are idempotent: the engine remembers which nodes it already
// rewrote (by page.NodeID) and for which asset version, so re-running it on
// every scheduler tick only touches nodes that appeared since the last pass.
package overlay

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hiroroworks/gemini-super-linker/page"
	"github.com/hiroroworks/gemini-super-linker/session"
)

// Target selectors.
const (
	avatarTag           = "bard-avatar"
	LogoSelector        = ".bot-logo-text"
	AvatarSelector      = avatarTag
	AvatarInnerSelector = `div[class*="avatar"], div[class*="logo"]`
)

// ImageStyle renders the icon as a circle filling its container.
const ImageStyle = "width:100%; height:100%; object-fit:cover; border-radius:50%; display:block;"

// maxInitials is the longest text still treated as an initials placeholder.
const maxInitials = 2

// Replacement describes one rewrite so a host can replay it on the live page.
type Replacement struct {
	Container page.NodeID `json:"container"`
	Wrapper   page.NodeID `json:"wrapper,omitempty"`
	Path      string      `json:"path"`
	ImageData string      `json:"-"`
}

// Engine applies icon overlays.
type Engine struct {
	assets AssetSource
	logger *slog.Logger

	mu        sync.Mutex
	gemID     string
	processed map[page.NodeID]int64 // node -> asset UpdatedAt it was rewritten with
}

// New creates an Engine reading icons from assets.
func New(assets AssetSource, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		assets:    assets,
		logger:    logger,
		processed: make(map[page.NodeID]int64),
	}
}

// Apply runs one overlay pass over doc and returns the rewrites it made.
// Pages that are not gem pages, or gems without a cached icon, are left
// untouched.
func (e *Engine) Apply(ctx context.Context, doc *page.Document) ([]Replacement, error) {
	gem, ok := session.Gem(doc)
	if !ok {
		return nil, nil
	}
	asset, ok, err := e.assets.Load(ctx, gem.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if gem.ID != e.gemID {
		e.gemID = gem.ID
		e.processed = make(map[page.NodeID]int64)
	}

	var out []Replacement
	for _, el := range e.targets(doc) {
		elID := doc.ID(el)
		if v, done := e.processed[elID]; done && v == asset.UpdatedAt {
			continue
		}

		container := el
		if el.Data == avatarTag {
			container = page.QueryFirst(el, AvatarInnerSelector)
			if container == nil {
				continue
			}
		}
		if !showsPlaceholder(container) {
			continue
		}

		Rewrite(container, asset.ImageData)

		r := Replacement{
			Container: doc.ID(container),
			Path:      page.XPath(container),
			ImageData: asset.ImageData,
		}
		e.processed[r.Container] = asset.UpdatedAt
		if container != el {
			r.Wrapper = elID
			e.processed[elID] = asset.UpdatedAt
		}
		out = append(out, r)
	}

	if len(out) > 0 {
		e.logger.DebugContext(ctx, "overlay: replaced icons", "gem", gem.ID, "count", len(out))
	}
	return out, nil
}

// Forget drops the processed set, e.g. after the icon was reset.
func (e *Engine) Forget() {
	e.mu.Lock()
	e.processed = make(map[page.NodeID]int64)
	e.mu.Unlock()
}

func (e *Engine) targets(doc *page.Document) []*html.Node {
	return append(doc.Query(LogoSelector), doc.Query(AvatarSelector)...)
}

// showsPlaceholder is true for a vector placeholder or a short initials text,
// never for unrelated real content.
func showsPlaceholder(n *html.Node) bool {
	if page.QueryFirst(n, "svg") != nil {
		return true
	}
	return utf8.RuneCountInString(strings.TrimSpace(page.Text(n))) <= maxInitials
}

// Rewrite swaps container's content for the icon image at src. Hosts that
// keep their own copy of the page replay a Replacement with it.
func Rewrite(container *html.Node, src string) {
	page.RemoveChildren(container)
	container.AppendChild(&html.Node{
		Type:     html.ElementNode,
		Data:     "img",
		DataAtom: atom.Img,
		Attr: []html.Attribute{
			{Key: "src", Val: src},
			{Key: "style", Val: ImageStyle},
		},
	})
	page.SetStyle(container, "background", "transparent")
}
