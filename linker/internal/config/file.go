// Package config handles linker configuration from YAML files and LINKER_*
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level linker configuration.
type Config struct {
	Browser  BrowserConfig  `yaml:"browser"`
	Page     PageConfig     `yaml:"page"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Store    StoreConfig    `yaml:"store"`
	HTTP     HTTPConfig     `yaml:"http"`
	MCP      MCPConfig      `yaml:"mcp"`
	Actions  ActionsConfig  `yaml:"actions"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Stealth          string        `yaml:"stealth"` // headless | headful
	UserDataDir      string        `yaml:"user_data_dir"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
}

// PageConfig selects the page to attach to. HTML, when set, is a local file
// served by a static host instead of a browser tab.
type PageConfig struct {
	URL  string `yaml:"url"`
	HTML string `yaml:"html"`
}

// ScheduleConfig controls the debounce scheduler.
type ScheduleConfig struct {
	OverlayQuiet time.Duration `yaml:"overlay_quiet"`
	HistoryQuiet time.Duration `yaml:"history_quiet"`
	Tick         time.Duration `yaml:"tick"`
	StartupDelay time.Duration `yaml:"startup_delay"`
}

// StoreConfig locates the SQLite key-value store.
type StoreConfig struct {
	Path        string `yaml:"path"`
	BusyTimeout int    `yaml:"busy_timeout"` // ms

	// WatchInterval polls the file for writes by other processes. Negative
	// disables it.
	WatchInterval time.Duration `yaml:"watch_interval"`
}

// HTTPConfig enables the HTTP API when Addr is set.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// ActionsConfig tunes the inbound action router.
type ActionsConfig struct {
	// Timeout bounds a single action call. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`
	// Disabled actions answer without doing anything until re-enabled.
	Disabled []string `yaml:"disabled"`
}

// MCPConfig enables the MCP server on stdio.
type MCPConfig struct {
	Stdio bool `yaml:"stdio"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// ApplyEnv overrides fields from LINKER_* variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	set := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set("LINKER_URL", &c.Page.URL)
	set("LINKER_HTML", &c.Page.HTML)
	set("LINKER_DB", &c.Store.Path)
	set("LINKER_HTTP_ADDR", &c.HTTP.Addr)
	set("LINKER_BROWSER_REMOTE", &c.Browser.Remote)
	set("LINKER_STEALTH", &c.Browser.Stealth)
	set("LINKER_USER_DATA_DIR", &c.Browser.UserDataDir)

	if v := getenv("LINKER_MCP_STDIO"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: LINKER_MCP_STDIO: %w", err)
		}
		c.MCP.Stdio = b
	}
	if v := getenv("LINKER_RESOURCE_BLOCKING"); v != "" {
		c.Browser.ResourceBlocking = strings.Split(v, ",")
	}
	if v := getenv("LINKER_DISABLED_ACTIONS"); v != "" {
		c.Actions.Disabled = strings.Split(v, ",")
	}
	c.applyDefaults()
	return nil
}

func (c *Config) applyDefaults() {
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Page.URL == "" {
		c.Page.URL = "https://gemini.google.com/app"
	}
	if c.Schedule.OverlayQuiet <= 0 {
		c.Schedule.OverlayQuiet = 300 * time.Millisecond
	}
	if c.Schedule.HistoryQuiet <= 0 {
		c.Schedule.HistoryQuiet = 2 * time.Second
	}
	if c.Schedule.Tick <= 0 {
		c.Schedule.Tick = 3 * time.Second
	}
	if c.Schedule.StartupDelay <= 0 {
		c.Schedule.StartupDelay = 2 * time.Second
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/linker.db"
	}
	if c.Actions.Timeout <= 0 {
		c.Actions.Timeout = 30 * time.Second
	}
	if c.Store.BusyTimeout <= 0 {
		c.Store.BusyTimeout = 5000
	}
	if c.Store.WatchInterval == 0 {
		c.Store.WatchInterval = time.Second
	}
}
