package linker

import (
	"context"
	"log/slog"

	"github.com/hiroroworks/gemini-super-linker/linker/internal/browser"
)

// BrowserHost is a Host backed by a live Chrome tab.
type BrowserHost struct {
	*browser.Host

	mgr *browser.Manager
	tab *browser.Tab
}

// OpenBrowser starts (or connects to) Chrome, opens pageURL and attaches to
// the tab. Close releases everything it started.
func OpenBrowser(ctx context.Context, cfg BrowserConfig, pageURL string, logger *slog.Logger) (*BrowserHost, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Remote,
		UserDataDir:      cfg.UserDataDir,
		ResourceBlocking: cfg.ResourceBlocking,
		Stealth:          browser.ParseStealth(cfg.Stealth),
		NavigateTimeout:  cfg.NavigateTimeout,
		Logger:           logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return nil, err
	}

	tab, err := browser.OpenTab(ctx, mgr, pageURL)
	if err != nil {
		mgr.Close()
		return nil, err
	}

	h, err := browser.Attach(ctx, tab, logger)
	if err != nil {
		tab.Close()
		mgr.Close()
		return nil, err
	}
	return &BrowserHost{Host: h, mgr: mgr, tab: tab}, nil
}

// Close detaches from the tab and shuts the browser down. A tab in a remote
// Chrome is left open.
func (b *BrowserHost) Close() error {
	b.Host.Close()
	if b.mgr.Remote() {
		return b.mgr.Close()
	}
	b.tab.Close()
	return b.mgr.Close()
}
