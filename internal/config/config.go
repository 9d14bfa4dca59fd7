// Package config loads engine configuration from an optional .garnet.yml at
// the project root. Absent file or absent keys fall back to defaults; a
// malformed file is an error so misconfiguration is not silently ignored.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/garnet-dev/garnet/internal/cache"
)

// FileName is the per-project configuration file.
const FileName = ".garnet.yml"

// Bridge configures the external interpreter process.
type Bridge struct {
	// Command is the argv used to spawn the interpreter bridge. Empty
	// means no bridge: hover degrades to syntactic content.
	Command []string `yaml:"command"`
	// TimeoutMS bounds one bridge round trip.
	TimeoutMS int `yaml:"timeout_ms"`
}

// Timeout returns the configured bridge timeout as a duration.
func (b Bridge) Timeout() time.Duration {
	if b.TimeoutMS <= 0 {
		return 300 * time.Millisecond
	}
	return time.Duration(b.TimeoutMS) * time.Millisecond
}

// Config is the engine configuration.
type Config struct {
	// Exclude adds directory names to the discovery deny-list.
	Exclude []string     `yaml:"exclude"`
	Caches  cache.Config `yaml:"caches"`
	Bridge  Bridge       `yaml:"bridge"`
	// Workers bounds pipeline parallelism; 0 means one per CPU.
	Workers int `yaml:"workers"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{Caches: cache.DefaultConfig()}
}

// Load reads root/.garnet.yml, returning defaults when the file does not
// exist.
func Load(root string) (Config, error) {
	cfg := Default()
	content, err := os.ReadFile(filepath.Join(root, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", FileName, err)
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Default(), fmt.Errorf("config: parse %s: %w", FileName, err)
	}
	return cfg, nil
}
