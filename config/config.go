// Package config defines the dispatcher configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/dispatch/dispatch"
	"github.com/GoCodeAlone/dispatch/protocol"
	"github.com/GoCodeAlone/dispatch/task"
	"github.com/GoCodeAlone/dispatch/worker"
)

// Config is the top-level dispatcher configuration.
type Config struct {
	Server   ServerConfig  `json:"server" yaml:"server"`
	Table    TableConfig   `json:"table" yaml:"table"`
	Pool     PoolConfig    `json:"pool" yaml:"pool"`
	Admin    AdminConfig   `json:"admin" yaml:"admin"`
	Journal  JournalConfig `json:"journal" yaml:"journal"`
	LogLevel string        `json:"log_level" yaml:"log_level"`
}

// ServerConfig controls the worker TCP listener.
type ServerConfig struct {
	Addr          string   `json:"addr" yaml:"addr"` // listen address, e.g., ":8080"
	WriteTimeout  Duration `json:"write_timeout" yaml:"write_timeout"`
	MaxLineLength int      `json:"max_line_length" yaml:"max_line_length"`
}

// TableConfig sizes the connection table. Capacities count the listener slot.
type TableConfig struct {
	InitialCapacity int `json:"initial_capacity" yaml:"initial_capacity"`
	Increment       int `json:"increment" yaml:"increment"`
	MaxCapacity     int `json:"max_capacity" yaml:"max_capacity"` // 0 = unlimited
}

// PoolConfig controls the task pool.
type PoolConfig struct {
	MaxTasks int      `json:"max_tasks" yaml:"max_tasks"`
	Seed     []string `json:"seed" yaml:"seed"`
}

// AdminConfig controls the admin HTTP API.
type AdminConfig struct {
	Addr      string `json:"addr" yaml:"addr"` // empty disables the API
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`
	AdminUser string `json:"admin_user" yaml:"admin_user"`
	AdminPass string `json:"admin_pass" yaml:"admin_pass"` // bcrypt hash
}

// JournalConfig controls the SQLite task journal.
type JournalConfig struct {
	Path string `json:"path" yaml:"path"` // empty disables the journal
}

// Duration is a time.Duration that reads from YAML as "5s", "250ms", etc.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", value.Line, s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// DefaultSeed is the task list a fresh server starts with.
var DefaultSeed = []string{
	"REVERSE 'hello world'",
	"ADD 10 20",
	"REVERSE 'c programming is fun'",
	"ADD 50 75",
	"Perform complex calculation",
	"REVERSE 'distributed systems are cool'",
	"ADD 123 456",
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:          ":8080",
			WriteTimeout:  Duration(5 * time.Second),
			MaxLineLength: protocol.MaxLineLength,
		},
		Table: TableConfig{
			InitialCapacity: worker.DefaultInitialCapacity,
			Increment:       worker.DefaultIncrement,
		},
		Pool: PoolConfig{
			MaxTasks: task.DefaultMaxTasks,
			Seed:     append([]string(nil), DefaultSeed...),
		},
		Admin: AdminConfig{
			Addr:      ":9090",
			AdminUser: "admin",
		},
		LogLevel: "info",
	}
}

// Load reads a YAML config file and returns the parsed configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every setting that cannot be used.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.WriteTimeout < 0 {
		errs = append(errs, errors.New("server.write_timeout must not be negative"))
	}
	if c.Server.MaxLineLength < 2 {
		errs = append(errs, fmt.Errorf("server.max_line_length must be at least 2, got %d", c.Server.MaxLineLength))
	}
	if c.Table.InitialCapacity < 2 {
		errs = append(errs, fmt.Errorf("table.initial_capacity must be at least 2, got %d", c.Table.InitialCapacity))
	}
	if c.Table.Increment <= 0 {
		errs = append(errs, fmt.Errorf("table.increment must be positive, got %d", c.Table.Increment))
	}
	if c.Table.MaxCapacity < 0 {
		errs = append(errs, fmt.Errorf("table.max_capacity must not be negative, got %d", c.Table.MaxCapacity))
	} else if c.Table.MaxCapacity > 0 && c.Table.MaxCapacity < c.Table.InitialCapacity {
		errs = append(errs, fmt.Errorf("table.max_capacity %d is below initial_capacity %d",
			c.Table.MaxCapacity, c.Table.InitialCapacity))
	}
	if c.Pool.MaxTasks <= 0 {
		errs = append(errs, fmt.Errorf("pool.max_tasks must be positive, got %d", c.Pool.MaxTasks))
	} else if len(c.Pool.Seed) > c.Pool.MaxTasks {
		errs = append(errs, fmt.Errorf("pool.seed has %d tasks, max_tasks is %d", len(c.Pool.Seed), c.Pool.MaxTasks))
	}
	for i, desc := range c.Pool.Seed {
		if err := task.ValidateDescription(desc); err != nil {
			errs = append(errs, fmt.Errorf("pool.seed[%d]: %w", i, err))
		}
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// DispatchOptions converts the server and table settings for dispatch.New.
func (c *Config) DispatchOptions() dispatch.Options {
	return dispatch.Options{
		Table: worker.Options{
			InitialCapacity: c.Table.InitialCapacity,
			Increment:       c.Table.Increment,
			MaxCapacity:     c.Table.MaxCapacity,
		},
		MaxLineLength: c.Server.MaxLineLength,
		WriteTimeout:  time.Duration(c.Server.WriteTimeout),
	}
}

// ParseLevel maps a log_level value to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log_level %q: want debug, info, warn or error", s)
}
