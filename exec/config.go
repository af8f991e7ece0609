package exec

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds the file-loadable loop parameters. Names refer to the
// observer and sink registries; they are resolved when a loop starts.
type Config struct {
	LoopName   string `json:"loop_name,omitempty"`
	Observer   string `json:"observer,omitempty"`
	Sink       string `json:"sink,omitempty"`
	Escalation string `json:"escalation,omitempty"`
	ChunkSize  int    `json:"chunk_size,omitempty"`
	Stats      *bool  `json:"stats,omitempty"`
}

// DefaultConfig returns a Config with the built-in defaults: no-op observer,
// observer-backed sink, topology-selected escalation, chunk size 32.
func DefaultConfig() Config {
	return Config{}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.LoopName != "" {
		c.LoopName = source.LoopName
	}
	if source.Observer != "" {
		c.Observer = source.Observer
	}
	if source.Sink != "" {
		c.Sink = source.Sink
	}
	if source.Escalation != "" {
		c.Escalation = source.Escalation
	}
	if source.ChunkSize > 0 {
		c.ChunkSize = source.ChunkSize
	}
	if source.Stats != nil {
		c.Stats = source.Stats
	}
}

// LoadConfig reads a JSON config file, merges it with defaults, and returns
// the resulting Config.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}
