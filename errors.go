package rbridge

import "github.com/wagiedev/rbridge-go/internal/errors"

// Re-export error types from internal package

// ExecutableError indicates a worker path is not a runnable executable.
type ExecutableError = errors.ExecutableError

// ProcessError indicates a worker process exited with a failure.
type ProcessError = errors.ProcessError

// FrameDecodeError indicates an inbound frame could not be decoded.
type FrameDecodeError = errors.FrameDecodeError

// HandshakeError indicates a connection was refused during the handshake.
type HandshakeError = errors.HandshakeError

// BridgeError is the base interface for all bridge errors.
type BridgeError = errors.BridgeError

// Re-export sentinel errors from internal package.
var (
	// ErrNotAlive indicates the worker's process has exited or never started.
	ErrNotAlive = errors.ErrNotAlive

	// ErrKillTimeout indicates a killed worker did not exit in time.
	ErrKillTimeout = errors.ErrKillTimeout

	// ErrWorkerNotFound indicates no live worker has the given id.
	ErrWorkerNotFound = errors.ErrWorkerNotFound

	// ErrListenerClosed indicates the listener has been closed.
	ErrListenerClosed = errors.ErrListenerClosed

	// ErrAlreadyListening indicates Listen or Serve was called twice.
	ErrAlreadyListening = errors.ErrAlreadyListening

	// ErrBridgeClosed indicates the bridge has been closed and cannot be reused.
	ErrBridgeClosed = errors.ErrBridgeClosed
)
