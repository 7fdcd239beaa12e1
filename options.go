package rbridge

import (
	"log/slog"
	"os"
	"time"
)

// Option configures Options using the functional options pattern.
type Option func(*Options)

// applyOptions applies functional options to an Options struct.
func applyOptions(opts []Option) *Options {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	return options
}

// ===== Basic Configuration =====

// WithLogger sets the logger for debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithOptions replaces every setting with a copy of opts. Options after it
// still apply on top.
func WithOptions(opts *Options) Option {
	return func(o *Options) {
		if opts != nil {
			*o = *opts
		}
	}
}

// ===== Listener =====

// WithHost sets the listener bind address. Connections are only accepted
// from 127.0.0.1 and ::ffff:127.0.0.1 regardless.
func WithHost(host string) Option {
	return func(o *Options) {
		o.Host = host
	}
}

// WithPort sets the listener port. Zero picks an ephemeral port.
func WithPort(port int) Option {
	return func(o *Options) {
		o.Port = port
	}
}

// WithHandshakeTimeout bounds the wait for a connection's handshake frame.
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.HandshakeTimeout = timeout
	}
}

// ===== Worker Processes =====

// WithKillSignal sets the signal sent by Kill and Close (default SIGTERM).
func WithKillSignal(sig os.Signal) Option {
	return func(o *Options) {
		o.KillSignal = sig
	}
}

// WithKillTimeout bounds the wait for a killed worker to exit (default 5s).
func WithKillTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.KillTimeout = timeout
	}
}

// WithEnv provides additional environment variables for worker processes.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		o.Env = env
	}
}

// WithCwd sets the working directory for worker processes.
func WithCwd(cwd string) Option {
	return func(o *Options) {
		o.Cwd = cwd
	}
}

// WithSpawner replaces the os/exec process spawner.
// Useful for tests or for running workers under a supervisor.
func WithSpawner(spawner Spawner) Option {
	return func(o *Options) {
		o.Spawner = spawner
	}
}

// WithStdout sets a callback for each stdout line of every worker.
func WithStdout(fn func(workerID, line string)) Option {
	return func(o *Options) {
		o.Stdout = fn
	}
}

// WithStderr sets a callback for each stderr line of every worker.
func WithStderr(fn func(workerID, line string)) Option {
	return func(o *Options) {
		o.Stderr = fn
	}
}
