package engine

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mosbree/embedkeeper/heights"
)

// FileConfig is the YAML configuration consumed by the binary.
type FileConfig struct {
	AdminAddr string `yaml:"admin_addr"`
	EventLog  string `yaml:"event_log"`

	LiteCardMode    bool     `yaml:"lite_card_mode"`
	LiteKinds       []string `yaml:"lite_kinds"`
	PollKinds       []string `yaml:"poll_kinds"`
	SkipReloadKinds []string `yaml:"skip_reload_kinds"`

	HandshakeTimeoutMs int `yaml:"handshake_timeout_ms"`
	StaggerMs          int `yaml:"stagger_ms"`
	GuardDebounceMs    int `yaml:"guard_debounce_ms"`
	CacheMaxEntries    int `yaml:"cache_max_entries"`

	Heights struct {
		Default int            `yaml:"default"`
		Kinds   map[string]int `yaml:"kinds"`
	} `yaml:"heights"`
}

// DefaultFileConfig returns the configuration used when no file is given.
func DefaultFileConfig() *FileConfig {
	c := &FileConfig{
		AdminAddr:       "127.0.0.1:7733",
		LiteCardMode:    true,
		LiteKinds:       []string{"status"},
		PollKinds:       []string{"document"},
		SkipReloadKinds: []string{"timeline"},
	}
	return c
}

// LoadFileConfig reads a YAML config, merging over defaults.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("engine: read config %s: %w", path, err)
	}
	c := DefaultFileConfig()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("engine: parse config %s: %w", path, err)
	}
	return c, nil
}

// EngineConfig converts file settings into a wiring Config. Collaborators
// (tree, fetcher, renderer, events) are supplied by the caller.
func (c *FileConfig) EngineConfig() Config {
	table := heights.Defaults()
	table.SetDefault(c.Heights.Default)
	for kind, px := range c.Heights.Kinds {
		if px > 0 {
			table.Set(kind, px)
		}
	}
	return Config{
		Heights:          table,
		LiteKinds:        c.LiteKinds,
		PollKinds:        c.PollKinds,
		SkipReloadKinds:  c.SkipReloadKinds,
		HandshakeTimeout: time.Duration(c.HandshakeTimeoutMs) * time.Millisecond,
		Stagger:          time.Duration(c.StaggerMs) * time.Millisecond,
		GuardDebounce:    time.Duration(c.GuardDebounceMs) * time.Millisecond,
		CacheMaxEntries:  c.CacheMaxEntries,
	}
}
