package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GoCodeAlone/dispatch/task"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dispatch.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("server.addr = %q", cfg.Server.Addr)
	}
	if len(cfg.Pool.Seed) != 7 {
		t.Errorf("seed has %d tasks, want 7", len(cfg.Pool.Seed))
	}
	cfg.Pool.Seed[0] = "changed"
	if DefaultSeed[0] == "changed" {
		t.Error("DefaultConfig shares the DefaultSeed backing array")
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: "127.0.0.1:7000"
  write_timeout: 250ms
table:
  max_capacity: 20
pool:
  max_tasks: 3
  seed: ["ADD 1 2"]
admin:
  addr: ""
journal:
  path: /tmp/journal.db
log_level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:7000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if time.Duration(cfg.Server.WriteTimeout) != 250*time.Millisecond {
		t.Errorf("write_timeout = %v", time.Duration(cfg.Server.WriteTimeout))
	}
	if cfg.Server.MaxLineLength != 1024 {
		t.Errorf("max_line_length default lost: %d", cfg.Server.MaxLineLength)
	}
	if cfg.Table.InitialCapacity != 5 || cfg.Table.MaxCapacity != 20 {
		t.Errorf("table = %+v", cfg.Table)
	}
	if len(cfg.Pool.Seed) != 1 || cfg.Pool.Seed[0] != "ADD 1 2" {
		t.Errorf("seed = %v", cfg.Pool.Seed)
	}
	if cfg.Admin.Addr != "" {
		t.Errorf("admin.addr = %q, want disabled", cfg.Admin.Addr)
	}
	if cfg.Journal.Path != "/tmp/journal.db" {
		t.Errorf("journal.path = %q", cfg.Journal.Path)
	}

	opts := cfg.DispatchOptions()
	if opts.WriteTimeout != 250*time.Millisecond || opts.Table.MaxCapacity != 20 {
		t.Errorf("DispatchOptions = %+v", opts)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: err = %v", err)
	}
	if _, err := Load(writeConfig(t, "server: [")); err == nil {
		t.Error("malformed YAML accepted")
	}
	_, err := Load(writeConfig(t, "server:\n  write_timeout: soon\n"))
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("bad duration: err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"tiny table", func(c *Config) { c.Table.InitialCapacity = 1 }, "initial_capacity"},
		{"zero increment", func(c *Config) { c.Table.Increment = 0 }, "increment"},
		{"max below initial", func(c *Config) { c.Table.MaxCapacity = 3 }, "below initial_capacity"},
		{"zero max tasks", func(c *Config) { c.Pool.MaxTasks = 0 }, "max_tasks"},
		{"seed over max", func(c *Config) { c.Pool.MaxTasks = 2 }, "pool.seed has 7"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}

	cfg := DefaultConfig()
	cfg.Pool.Seed = []string{"two\nlines"}
	if err := cfg.Validate(); !errors.Is(err, task.ErrInvalidDescription) {
		t.Errorf("seed with newline: err = %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":      slog.LevelInfo,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("ParseLevel accepted unknown level")
	}
}
