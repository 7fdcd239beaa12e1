package errors

import (
	"errors"
	"fmt"
)

// BridgeError is the base interface for all bridge errors.
type BridgeError interface {
	error
	IsBridgeError() bool
}

// Compile-time verification that all error types implement BridgeError.
var (
	_ BridgeError = (*ExecutableError)(nil)
	_ BridgeError = (*ProcessError)(nil)
	_ BridgeError = (*FrameDecodeError)(nil)
	_ BridgeError = (*HandshakeError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrNotAlive indicates an operation that requires a live process was
	// attempted on a worker whose process has exited or never started.
	ErrNotAlive = errors.New("worker not alive")

	// ErrKillTimeout indicates the process did not exit within the kill timeout.
	ErrKillTimeout = errors.New("kill timed out")

	// ErrListenerClosed indicates the listener has been closed.
	ErrListenerClosed = errors.New("listener closed")

	// ErrAlreadyListening indicates Listen or Serve was called twice.
	ErrAlreadyListening = errors.New("listener already listening")

	// ErrWorkerNotFound indicates no worker is registered under the given id.
	ErrWorkerNotFound = errors.New("worker not found")

	// ErrBridgeClosed indicates the bridge has been closed and cannot be reused.
	ErrBridgeClosed = errors.New("bridge closed")
)

// ExecutableError indicates the worker executable path is unusable.
type ExecutableError struct {
	Path string
	Err  error
}

func (e *ExecutableError) Error() string {
	return fmt.Sprintf("invalid executable %q: %v", e.Path, e.Err)
}

func (e *ExecutableError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *ExecutableError) IsBridgeError() bool { return true }

// ProcessError indicates the worker process exited with a failure.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worker process failed (exit %d): %v", e.ExitCode, e.Err)
	}

	return fmt.Sprintf("worker process failed (exit %d): %s", e.ExitCode, e.Stderr)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *ProcessError) IsBridgeError() bool { return true }

// FrameDecodeError indicates an inbound line was not a valid event frame.
// This error preserves the original raw data that failed to parse.
type FrameDecodeError struct {
	RawData string
	Err     error
}

func (e *FrameDecodeError) Error() string {
	return fmt.Sprintf("failed to decode frame: %v", e.Err)
}

func (e *FrameDecodeError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *FrameDecodeError) IsBridgeError() bool { return true }

// HandshakeError indicates an inbound connection was rejected during its handshake.
type HandshakeError struct {
	Reason   string
	WorkerID string
}

func (e *HandshakeError) Error() string {
	if e.WorkerID != "" {
		return fmt.Sprintf("handshake rejected for worker %s: %s", e.WorkerID, e.Reason)
	}

	return "handshake rejected: " + e.Reason
}

// IsBridgeError implements BridgeError.
func (e *HandshakeError) IsBridgeError() bool { return true }
