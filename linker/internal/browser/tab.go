package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/google/uuid"
)

// Tab is a page opened by the manager, with stealth and resource blocking
// applied before the first navigation.
type Tab struct {
	Page    *rod.Page
	PageURL string
	ID      string

	router *rod.HijackRouter
}

// OpenTab opens pageURL in a new tab. When Chrome already shows the URL,
// as with a remote session the user is logged into, that page is reused.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	log := mgr.cfg.Logger

	if p := findPage(b, pageURL); p != nil {
		log.InfoContext(ctx, "browser: attaching to open tab", "url", pageURL)
		return &Tab{Page: p, PageURL: pageURL, ID: uuid.NewString()}, nil
	}

	var (
		p   *rod.Page
		err error
	)
	if mgr.cfg.Stealth == LevelHeadless {
		p, err = stealth.Page(b)
	} else {
		p, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	t := &Tab{Page: p, PageURL: pageURL, ID: uuid.NewString()}
	if len(mgr.cfg.ResourceBlocking) > 0 {
		if t.router, err = blockResources(p, mgr.cfg.ResourceBlocking); err != nil {
			log.WarnContext(ctx, "browser: resource blocking failed", "error", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, mgr.cfg.NavigateTimeout)
	defer cancel()

	if err := p.Context(navCtx).Navigate(pageURL); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := p.Context(navCtx).WaitLoad(); err != nil {
		log.WarnContext(ctx, "browser: wait load timeout", "url", pageURL, "error", err)
	}
	return t, nil
}

// findPage returns an open page whose URL starts with pageURL.
func findPage(b *rod.Browser, pageURL string) *rod.Page {
	pages, err := b.Pages()
	if err != nil {
		return nil
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		if strings.HasPrefix(info.URL, pageURL) {
			return p
		}
	}
	return nil
}

// Close stops request interception and closes the tab.
func (t *Tab) Close() error {
	if t.router != nil {
		t.router.Stop()
		t.router = nil
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
