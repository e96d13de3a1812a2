package linker

import (
	"github.com/hiroroworks/gemini-super-linker/linker/internal/config"
)

// Config is the top-level linker configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// PageConfig selects the page to attach to.
type PageConfig = config.PageConfig

// ScheduleConfig controls the debounce scheduler.
type ScheduleConfig = config.ScheduleConfig

// ActionsConfig tunes the inbound action router.
type ActionsConfig = config.ActionsConfig

// StoreConfig locates the SQLite key-value store.
type StoreConfig = config.StoreConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}
