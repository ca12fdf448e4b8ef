package minirel

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultPoolSize is the buffer pool size used when Config leaves it zero.
// An insert pins up to tree height + 3 pages at once (the meta page, one page
// per level, and during a leaf split the left sibling and the new leaf), so
// the pool must hold at least that many frames for inserts to succeed.
const DefaultPoolSize = 16

// Config describes how to open a database. The zero value plus a Path is a
// usable file-backed configuration.
type Config struct {
	// Path of the heap file. Ignored when InMemory is set.
	Path string `yaml:"path"`

	// PoolSize is the number of buffer pool frames (0 = DefaultPoolSize).
	PoolSize int `yaml:"pool_size"`

	// InMemory keeps all pages in memory; nothing is persisted.
	InMemory bool `yaml:"in_memory"`

	// DirectIO opens the heap file with O_DIRECT, bypassing the OS cache.
	DirectIO bool `yaml:"direct_io"`

	// FlushSchedule is an optional cron expression (e.g. "@every 30s") for
	// periodic flushes. Empty disables auto-flush.
	FlushSchedule string `yaml:"flush_schedule"`
}

func (c *Config) applyDefaults() {
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
}

// LoadConfig reads a YAML Config from path.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
