// Package config loads the engine's runtime configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/anthropics/epoch-engine/internal/domain"
)

// Config holds the engine's runtime configuration.
type Config struct {
	DBPath            string `json:"db_path"`
	ListenAddr        string `json:"listen_addr"`
	ProtocolTablePath string `json:"protocol_table_path"`
	CommandQueueSize  int    `json:"command_queue_size"`
	MaxRevisionRounds int    `json:"max_revision_rounds"`
	MaxParallelSlices int    `json:"max_parallel_slices"`
}

// Load reads a JSON config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config JSON: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":9810"
	}
	if c.CommandQueueSize == 0 {
		c.CommandQueueSize = 64
	}
	if c.MaxRevisionRounds == 0 {
		c.MaxRevisionRounds = 3
	}
	if c.MaxParallelSlices == 0 {
		c.MaxParallelSlices = 5
	}
}

func (c *Config) validate() error {
	var problems []string

	if c.DBPath == "" {
		problems = append(problems, "db_path is required")
	}
	if c.CommandQueueSize < 0 {
		problems = append(problems, "command_queue_size must not be negative")
	}
	if c.MaxParallelSlices < 1 {
		problems = append(problems, "max_parallel_slices must be at least 1")
	}

	if len(problems) > 0 {
		return &domain.EngineError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}
