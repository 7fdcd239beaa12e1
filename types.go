package rbridge

import (
	"github.com/wagiedev/rbridge-go/internal/config"
	"github.com/wagiedev/rbridge-go/internal/frame"
	"github.com/wagiedev/rbridge-go/internal/subprocess"
	"github.com/wagiedev/rbridge-go/internal/worker"
)

// Options configures a Bridge.
type Options = config.Options

// Worker owns one spawned process and at most one attached connection.
type Worker = worker.Worker

// Conn is the connection a worker writes events to.
type Conn = worker.Conn

// Handler receives inbound events subscribed with Worker.On.
type Handler = worker.Handler

// Event is an outbound event frame.
type Event = frame.Event

// Spawner starts worker processes.
type Spawner = subprocess.Spawner

// SpawnerFunc adapts a function to the Spawner interface.
type SpawnerFunc = subprocess.SpawnerFunc

// Process is a handle to a running worker process.
type Process = subprocess.Process

// ProcessSpec describes a process for a Spawner to start.
type ProcessSpec = subprocess.Spec
