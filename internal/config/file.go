package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wagiedev/rbridge-go/internal/subprocess"
)

// Environment variables that override file settings.
const (
	EnvPort     = "RBRIDGE_PORT"
	EnvLogLevel = "RBRIDGE_LOG_LEVEL"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// File is the YAML configuration for the rbridge command.
type File struct {
	Listen           ListenConfig   `yaml:"listen"`
	LogLevel         string         `yaml:"log_level"`
	Kill             KillConfig     `yaml:"kill"`
	HandshakeTimeout time.Duration  `yaml:"handshake_timeout"`
	Workers          []WorkerConfig `yaml:"workers"`
	Admin            AdminConfig    `yaml:"admin"`
}

// ListenConfig configures the loopback listener.
type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// KillConfig configures worker shutdown.
type KillConfig struct {
	Signal  string        `yaml:"signal"`
	Timeout time.Duration `yaml:"timeout"`
}

// AdminConfig configures the HTTP admin API. An empty Listen disables it.
type AdminConfig struct {
	Listen string `yaml:"listen"`
}

// WorkerConfig describes a worker started by the rbridge command.
type WorkerConfig struct {
	Name string            `yaml:"name"`
	Path string            `yaml:"path"`
	Args []string          `yaml:"args"`
	Env  map[string]string `yaml:"env"`
	Cwd  string            `yaml:"cwd"`
}

// LoadFile reads, expands and validates a YAML config file.
// ${VAR} references are replaced with environment values before parsing.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	return Parse(data, os.LookupEnv)
}

// Parse decodes YAML config data. lookup resolves ${VAR} references and
// environment overrides.
func Parse(data []byte, lookup func(string) (string, bool)) (*File, error) {
	expanded := envVarPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := string(envVarPattern.FindSubmatch(m)[1])
		value, _ := lookup(name)

		return []byte(value)
	})

	var f File

	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)

	if err := dec.Decode(&f); err != nil && !stderrors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := f.applyEnv(lookup); err != nil {
		return nil, err
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}

	return &f, nil
}

func (f *File) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvPort, v)
		}

		f.Listen.Port = port
	}

	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		f.LogLevel = v
	}

	return nil
}

// Validate reports every problem in the config.
func (f *File) Validate() error {
	var errs []error

	if f.Listen.Port < 0 || f.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port: %d out of range", f.Listen.Port))
	}

	if f.Kill.Signal != "" {
		if _, err := subprocess.ParseSignal(f.Kill.Signal); err != nil {
			errs = append(errs, fmt.Errorf("kill.signal: %w", err))
		}
	}

	if f.Kill.Timeout < 0 {
		errs = append(errs, stderrors.New("kill.timeout: must not be negative"))
	}

	if f.HandshakeTimeout < 0 {
		errs = append(errs, stderrors.New("handshake_timeout: must not be negative"))
	}

	if f.LogLevel != "" {
		if _, err := ParseLogLevel(f.LogLevel); err != nil {
			errs = append(errs, fmt.Errorf("log_level: %w", err))
		}
	}

	if f.Admin.Listen != "" {
		if _, _, err := net.SplitHostPort(f.Admin.Listen); err != nil {
			errs = append(errs, fmt.Errorf("admin.listen: %w", err))
		}
	}

	names := make(map[string]bool, len(f.Workers))

	for i, w := range f.Workers {
		if strings.TrimSpace(w.Path) == "" {
			errs = append(errs, fmt.Errorf("workers[%d].path: required", i))
		}

		if w.Name == "" {
			continue
		}

		if names[w.Name] {
			errs = append(errs, fmt.Errorf("workers[%d].name: duplicate %q", i, w.Name))
		}

		names[w.Name] = true
	}

	return stderrors.Join(errs...)
}

// Options converts the file into bridge options.
func (f *File) Options() (*Options, error) {
	opts := &Options{
		Host:             f.Listen.Host,
		Port:             f.Listen.Port,
		KillTimeout:      f.Kill.Timeout,
		HandshakeTimeout: f.HandshakeTimeout,
	}

	if f.Kill.Signal != "" {
		sig, err := subprocess.ParseSignal(f.Kill.Signal)
		if err != nil {
			return nil, fmt.Errorf("kill.signal: %w", err)
		}

		opts.KillSignal = sig
	}

	return opts.WithDefaults(), nil
}

// ParseLogLevel parses DEBUG, INFO, WARN or ERROR, case-insensitively.
// An empty string is INFO.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "", "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
