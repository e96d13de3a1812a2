package browser

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hiroroworks/gemini-super-linker/overlay"
	"github.com/hiroroworks/gemini-super-linker/page"
)

//go:embed observer.js
var observerJS string

// bindingName is the page global the observer calls on every mutation.
const bindingName = "__linkerSignal"

// toastDuration is how long the toast stays on screen, in ms.
const toastDuration = 3000

const applyJS = `function(src, style) {
	this.innerHTML = '';
	const img = document.createElement('img');
	img.src = src;
	img.style.cssText = style;
	this.appendChild(img);
	this.style.background = 'transparent';
}`

const toastJS = `(msg, ttl) => {
	let el = document.getElementById('merry-toast');
	if (el) el.remove();
	el = document.createElement('div');
	el.id = 'merry-toast';
	Object.assign(el.style, {
		position: 'fixed', bottom: '20px', right: '20px',
		background: '#4caf50', color: 'white', padding: '8px 16px',
		borderRadius: '4px', zIndex: '999999', fontSize: '12px',
		boxShadow: '0 2px 5px rgba(0,0,0,0.2)',
	});
	el.textContent = msg;
	document.body.appendChild(el);
	setTimeout(() => el.remove(), ttl);
}`

// Host serves one live tab to the linker.
type Host struct {
	tab     *Tab
	logger  *slog.Logger
	signals chan struct{}
	cancel  context.CancelFunc
}

// Attach installs the mutation observer on the tab and starts forwarding
// its calls as signals until ctx ends or Close is called.
func Attach(ctx context.Context, tab *Tab, logger *slog.Logger) (*Host, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := tab.Page

	// Fails harmlessly when re-attaching to a tab that already has it.
	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(p); err != nil {
		logger.WarnContext(ctx, "browser: add binding failed", "error", err)
	}
	if _, err := p.EvalOnNewDocument("(" + observerJS + ")()"); err != nil {
		return nil, fmt.Errorf("browser: install observer: %w", err)
	}
	if _, err := p.Context(ctx).Eval(observerJS); err != nil {
		return nil, fmt.Errorf("browser: start observer: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &Host{
		tab:     tab,
		logger:  logger,
		signals: make(chan struct{}, 1),
		cancel:  cancel,
	}

	wait := p.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name == bindingName {
			h.signal()
		}
	}, func(*proto.PageFrameNavigated) {
		h.signal()
	})
	go func() {
		wait()
		logger.Debug("browser: event loop stopped", "tab", tab.ID)
	}()

	logger.InfoContext(ctx, "browser: attached", "tab", tab.ID, "url", tab.PageURL)
	return h, nil
}

// Document snapshots the whole live DOM, piercing shadow roots.
func (h *Host) Document(ctx context.Context) (*page.Document, error) {
	depth := -1
	res, err := proto.DOMGetDocument{Depth: &depth, Pierce: true}.Call(h.tab.Page.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("browser: get document: %w", err)
	}
	if res.Root == nil {
		return nil, fmt.Errorf("browser: get document: empty snapshot")
	}
	return fromCDP(res.Root), nil
}

// Apply replays overlay rewrites into the live page. A replacement whose
// node vanished since the snapshot is skipped.
func (h *Host) Apply(ctx context.Context, reps []overlay.Replacement) error {
	p := h.tab.Page.Context(ctx)
	for _, r := range reps {
		el, err := h.resolve(p, r)
		if err != nil {
			h.logger.DebugContext(ctx, "browser: replacement target gone", "path", r.Path, "error", err)
			continue
		}
		if _, err := el.Eval(applyJS, r.ImageData, overlay.ImageStyle); err != nil {
			return fmt.Errorf("browser: apply %s: %w", r.Path, err)
		}
	}
	return nil
}

func (h *Host) resolve(p *rod.Page, r overlay.Replacement) (*rod.Element, error) {
	obj, err := proto.DOMResolveNode{BackendNodeID: proto.DOMBackendNodeID(r.Container)}.Call(p)
	if err == nil {
		return p.ElementFromObject(obj.Object)
	}
	if r.Path == "" {
		return nil, err
	}
	has, el, err := p.HasX(r.Path)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, fmt.Errorf("no node at %s", r.Path)
	}
	return el, nil
}

// Toast shows msg in the page corner for three seconds.
func (h *Host) Toast(ctx context.Context, msg string) error {
	if _, err := h.tab.Page.Context(ctx).Eval(toastJS, msg, toastDuration); err != nil {
		return fmt.Errorf("browser: toast: %w", err)
	}
	return nil
}

// Signals delivers one value per burst of page mutations.
func (h *Host) Signals() <-chan struct{} { return h.signals }

// Close stops the event loop. The tab stays open.
func (h *Host) Close() error {
	h.cancel()
	return nil
}

func (h *Host) signal() {
	select {
	case h.signals <- struct{}{}:
	default:
	}
}
