// Package config provides configuration types for the bridge.
package config

import (
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/wagiedev/rbridge-go/internal/subprocess"
)

const (
	// DefaultHost is the address the listener binds.
	DefaultHost = "127.0.0.1"

	// DefaultKillTimeout bounds the wait for a killed worker to exit.
	DefaultKillTimeout = 5 * time.Second

	// DefaultHandshakeTimeout bounds the wait for a connection's handshake frame.
	DefaultHandshakeTimeout = 10 * time.Second
)

// DefaultKillSignal is sent to workers on shutdown.
var DefaultKillSignal os.Signal = syscall.SIGTERM

// Options configures a bridge.
type Options struct {
	// Logger is the slog logger for debug output.
	// If nil, logging is disabled (silent operation).
	Logger *slog.Logger

	// Host is the listener bind address. Defaults to DefaultHost.
	Host string

	// Port is the listener port. Zero picks an ephemeral port.
	Port int

	// KillSignal is sent by Bridge.Kill and Bridge.Close.
	KillSignal os.Signal

	// KillTimeout bounds the wait for a killed worker to exit.
	KillTimeout time.Duration

	// HandshakeTimeout bounds the wait for a connection's handshake frame.
	HandshakeTimeout time.Duration

	// Env provides additional environment variables for worker processes.
	Env map[string]string

	// Cwd sets the working directory for worker processes.
	Cwd string

	// Spawner starts worker processes. Defaults to an os/exec spawner.
	Spawner subprocess.Spawner

	// Stdout receives each stdout line of every worker.
	Stdout func(workerID, line string)

	// Stderr receives each stderr line of every worker.
	Stderr func(workerID, line string)
}

// WithDefaults returns a copy of o with unset fields filled in.
func (o *Options) WithDefaults() *Options {
	out := Options{}
	if o != nil {
		out = *o
	}

	if out.Host == "" {
		out.Host = DefaultHost
	}

	if out.KillSignal == nil {
		out.KillSignal = DefaultKillSignal
	}

	if out.KillTimeout <= 0 {
		out.KillTimeout = DefaultKillTimeout
	}

	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = DefaultHandshakeTimeout
	}

	return &out
}
