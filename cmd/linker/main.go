// Command linker attaches to a Gemini tab, keeps a local history of the
// conversations it shows and paints custom gem icons over the default ones.
//
// Usage:
//
//	linker                                  # launch Chrome on gemini.google.com
//	linker -config linker.yaml -http :8088  # YAML config plus HTTP API
//	linker -html saved.html -url https://gemini.google.com/app/1 -mcp
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hiroroworks/gemini-super-linker/kv"
	"github.com/hiroroworks/gemini-super-linker/linker"
	"github.com/hiroroworks/gemini-super-linker/page"
)

var version = "dev"

type flags struct {
	config   string
	url      string
	html     string
	db       string
	http     string
	mcp      bool
	logLevel string
}

func main() {
	var f flags
	flag.StringVar(&f.config, "config", "", "path to linker.yaml config file")
	flag.StringVar(&f.url, "url", "", "page to attach to")
	flag.StringVar(&f.html, "html", "", "serve a saved HTML file instead of a browser tab")
	flag.StringVar(&f.db, "db", "", "path to the SQLite store")
	flag.StringVar(&f.http, "http", "", "HTTP API listen address, e.g. :8088")
	flag.BoolVar(&f.mcp, "mcp", false, "serve MCP tools on stdio")
	flag.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch f.logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, f); err != nil {
		logger.Error("linker: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(f flags) (*linker.Config, error) {
	// A missing .env is normal.
	_ = godotenv.Load()

	cfg := linker.DefaultConfig()
	if f.config != "" {
		var err error
		if cfg, err = linker.LoadConfigFile(f.config); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if f.url != "" {
		cfg.Page.URL = f.url
	}
	if f.html != "" {
		cfg.Page.HTML = f.html
	}
	if f.db != "" {
		cfg.Store.Path = f.db
	}
	if f.http != "" {
		cfg.HTTP.Addr = f.http
	}
	if f.mcp {
		cfg.MCP.Stdio = true
	}
	return cfg, nil
}

func run(ctx context.Context, logger *slog.Logger, f flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	store, err := kv.Open(cfg.Store.Path, kv.WithMkdirAll(), kv.WithBusyTimeout(cfg.Store.BusyTimeout))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	host, closeHost, err := openHost(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeHost()

	l := linker.New(host, store,
		linker.WithLogger(logger),
		linker.WithSchedule(cfg.Schedule),
		linker.WithActions(cfg.Actions))

	if cfg.Store.WatchInterval > 0 {
		w := kv.NewWatcher(store, kv.WatchOptions{Interval: cfg.Store.WatchInterval, Logger: logger})
		go w.OnChange(ctx, l.Signal)
	}

	if cfg.HTTP.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           l.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		go func() {
			logger.Info("linker: http listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("linker: http server", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("linker: http shutdown", "error", err)
			}
		}()
	}

	if cfg.MCP.Stdio {
		srv := mcp.NewServer(&mcp.Implementation{Name: "gemini-super-linker", Version: version}, nil)
		l.RegisterMCP(srv)
		go func() {
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("linker: mcp server", "error", err)
			}
		}()
	}

	return l.Run(ctx)
}

// openHost returns the static host for -html, otherwise a live browser tab.
func openHost(ctx context.Context, cfg *linker.Config, logger *slog.Logger) (linker.Host, func() error, error) {
	if cfg.Page.HTML != "" {
		fh, err := os.Open(cfg.Page.HTML)
		if err != nil {
			return nil, nil, fmt.Errorf("open html: %w", err)
		}
		defer fh.Close()
		doc, err := page.Parse(cfg.Page.URL, fh)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("linker: serving static page", "file", cfg.Page.HTML, "url", cfg.Page.URL)
		return linker.NewStaticHost(doc), func() error { return nil }, nil
	}

	bh, err := linker.OpenBrowser(ctx, cfg.Browser, cfg.Page.URL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open browser: %w", err)
	}
	return bh, bh.Close, nil
}
