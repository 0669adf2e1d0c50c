// Package config holds the settings shared by the CLI and the HTTP server.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/willibrandon/stepscope/pkg/memory"
)

const (
	LanguageC  = "c"
	LanguageGo = "go"
)

// Debugger is how the gdb child process is started
type Debugger struct {
	Path string   `yaml:"path"`
	Args []string `yaml:"args"`
}

// Compiler is how C sources are built
type Compiler struct {
	Path  string   `yaml:"path"`
	Flags []string `yaml:"flags"`
}

// Config is the complete configuration
type Config struct {
	Debugger   Debugger `yaml:"debugger"`
	Compiler   Compiler `yaml:"compiler"`
	Prompt     string   `yaml:"prompt"`
	EntryPoint string   `yaml:"entryPoint"`
	Language   string   `yaml:"language"`
	DelvePath  string   `yaml:"delvePath"`
	GoPath     string   `yaml:"goPath"`

	CommandTimeout time.Duration `yaml:"commandTimeout"`
	RunTimeout     time.Duration `yaml:"runTimeout"`
	IdleTimeout    time.Duration `yaml:"idleTimeout"`
	StopTimeout    time.Duration `yaml:"stopTimeout"`

	AddressMode string `yaml:"addressMode"`
	AddressBase uint64 `yaml:"addressBase"`
	// MaxElements bounds how many elements of one array are tracked and printed
	MaxElements int `yaml:"maxElements"`

	TraceDir         string `yaml:"traceDir"`
	HistoryCacheSize int    `yaml:"historyCacheSize"`
	Listen           string `yaml:"listen"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		Debugger: Debugger{
			Path: "gdb",
			Args: []string{"-q", "-nx"},
		},
		Compiler: Compiler{
			Path:  "gcc",
			Flags: []string{"-g", "-O0"},
		},
		Prompt:           "(gdb)",
		EntryPoint:       "main",
		Language:         LanguageC,
		DelvePath:        "dlv",
		GoPath:           "go",
		CommandTimeout:   5 * time.Second,
		RunTimeout:       10 * time.Second,
		IdleTimeout:      0,
		StopTimeout:      2 * time.Second,
		AddressMode:      "simulated",
		AddressBase:      0x1000,
		MaxElements:      memory.DefaultMaxElements,
		HistoryCacheSize: 64,
		Listen:           ":8080",
	}
}

// Load reads a YAML file over the defaults. Fields missing from the file keep their default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every problem with the configuration at once
func (c Config) Validate() error {
	var errs []error
	switch c.Language {
	case LanguageC, LanguageGo:
	default:
		errs = append(errs, fmt.Errorf("unknown language '%s'", c.Language))
	}
	switch c.AddressMode {
	case "simulated", "live":
	default:
		errs = append(errs, fmt.Errorf("unknown address mode '%s'", c.AddressMode))
	}
	if c.Prompt == "" {
		errs = append(errs, errors.New("prompt must not be empty"))
	}
	if c.EntryPoint == "" {
		errs = append(errs, errors.New("entryPoint must not be empty"))
	}
	for name, d := range map[string]time.Duration{
		"commandTimeout": c.CommandTimeout,
		"runTimeout":     c.RunTimeout,
		"stopTimeout":    c.StopTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("idleTimeout must not be negative, got %s", c.IdleTimeout))
	}
	if c.MaxElements <= 0 {
		errs = append(errs, fmt.Errorf("maxElements must be positive, got %d", c.MaxElements))
	}
	if c.HistoryCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("historyCacheSize must be positive, got %d", c.HistoryCacheSize))
	}
	return errors.Join(errs...)
}

// Save writes the configuration as YAML
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}
