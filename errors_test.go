package rbridge

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestExecutableError_AsType tests that a wrapped ExecutableError can be extracted.
func TestExecutableError_AsType(t *testing.T) {
	err := fmt.Errorf("spawn: %w", &ExecutableError{Path: "./interp", Err: errors.New("permission denied")})

	execErr, ok := errors.AsType[*ExecutableError](err)
	require.True(t, ok)
	require.Equal(t, "./interp", execErr.Path)
	require.Contains(t, err.Error(), "permission denied")
}

// TestProcessError_WithExitCodeAndStderr tests ProcessError with exit code and stderr.
func TestProcessError_WithExitCodeAndStderr(t *testing.T) {
	err := &ProcessError{
		ExitCode: 1,
		Stderr:   "Traceback: boom",
	}

	require.Error(t, err)
	require.Contains(t, err.Error(), "exit 1")
	require.Contains(t, err.Error(), "boom")
}

// TestBridgeErrors_ImplementInterface tests that all error types implement BridgeError.
func TestBridgeErrors_ImplementInterface(t *testing.T) {
	errs := []error{
		&ExecutableError{Path: "x"},
		&ProcessError{ExitCode: 2},
		&FrameDecodeError{RawData: "{"},
		&HandshakeError{Reason: "unknown worker"},
	}

	for _, err := range errs {
		bridgeErr, ok := errors.AsType[BridgeError](err)
		require.True(t, ok, "%T", err)
		require.True(t, bridgeErr.IsBridgeError())
	}
}

// TestSentinelErrors tests that re-exported sentinels match the wrapped values.
func TestSentinelErrors(t *testing.T) {
	err := fmt.Errorf("kill worker w1: %w", ErrNotAlive)

	require.ErrorIs(t, err, ErrNotAlive)
	require.NotErrorIs(t, err, ErrKillTimeout)
	require.NotErrorIs(t, err, ErrWorkerNotFound)
}
