package pool

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/utkarsh5026/procpool/internal/cpu"
)

// Config is the YAML form of the pool options:
//
//	workers: 8
//	chunk_size: 100
//	max_active: 16
//	restart_after: 1000
//	cpu_affinity: "0-7"
//	task_timeout: 30s
//	shutdown_timeout: 10s
//	daemon: true
//
// Zero fields keep the defaults.
type Config struct {
	Workers      int `yaml:"workers"`
	ChunkSize    int `yaml:"chunk_size"`
	MaxActive    int `yaml:"max_active"`
	RestartAfter int `yaml:"restart_after"`

	// CPUAffinity is "auto" to pin worker i to CPU i, or a CPU list such
	// as "0-3,6" whose entries are assigned to workers round-robin.
	CPUAffinity string `yaml:"cpu_affinity"`

	// CPUSets assigns a CPU list per slot, round-robin. It overrides
	// CPUAffinity.
	CPUSets []string `yaml:"cpu_sets"`

	TaskTimeout     time.Duration `yaml:"task_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Daemon defaults to true when unset.
	Daemon *bool `yaml:"daemon"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates YAML config data.
func ParseConfig(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch {
	case c.Workers < 0:
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	case c.ChunkSize < 0:
		return fmt.Errorf("chunk_size must not be negative, got %d", c.ChunkSize)
	case c.MaxActive < 0:
		return fmt.Errorf("max_active must not be negative, got %d", c.MaxActive)
	case c.RestartAfter < 0:
		return fmt.Errorf("restart_after must not be negative, got %d", c.RestartAfter)
	case c.TaskTimeout < 0:
		return fmt.Errorf("task_timeout must not be negative, got %v", c.TaskTimeout)
	case c.ShutdownTimeout < 0:
		return fmt.Errorf("shutdown_timeout must not be negative, got %v", c.ShutdownTimeout)
	}

	if c.CPUAffinity != "" && c.CPUAffinity != "auto" {
		if _, err := cpu.ParseList(c.CPUAffinity); err != nil {
			return fmt.Errorf("cpu_affinity: %w", err)
		}
	}
	for i, s := range c.CPUSets {
		if _, err := cpu.ParseList(s); err != nil {
			return fmt.Errorf("cpu_sets[%d]: %w", i, err)
		}
	}
	return nil
}

// Options converts the config into pool options. It assumes Validate
// passed.
func (c *Config) Options() []Option {
	var opts []Option
	if c.Workers > 0 {
		opts = append(opts, WithWorkerCount(c.Workers))
	}
	if c.ChunkSize > 0 {
		opts = append(opts, WithChunkSize(c.ChunkSize))
	}
	if c.MaxActive > 0 {
		opts = append(opts, WithMaxActive(c.MaxActive))
	}
	if c.RestartAfter > 0 {
		opts = append(opts, WithRestartAfter(c.RestartAfter))
	}
	if c.TaskTimeout > 0 {
		opts = append(opts, WithTaskTimeout(c.TaskTimeout))
	}
	if c.ShutdownTimeout > 0 {
		opts = append(opts, WithShutdownTimeout(c.ShutdownTimeout))
	}
	if c.Daemon != nil {
		opts = append(opts, WithDaemon(*c.Daemon))
	}

	switch {
	case len(c.CPUSets) > 0:
		var sets [][]int
		for _, s := range c.CPUSets {
			set, _ := cpu.ParseList(s)
			sets = append(sets, []int(set))
		}
		opts = append(opts, WithCPUSets(sets...))
	case c.CPUAffinity == "auto":
		opts = append(opts, WithCPUAffinity(true))
	case c.CPUAffinity != "":
		set, _ := cpu.ParseList(c.CPUAffinity)
		var sets [][]int
		for _, id := range set {
			sets = append(sets, []int{id})
		}
		opts = append(opts, WithCPUSets(sets...))
	}
	return opts
}
