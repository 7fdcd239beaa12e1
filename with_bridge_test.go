package rbridge_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rbridge "github.com/wagiedev/rbridge-go"
)

func TestWithBridge_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	err := rbridge.WithBridge(ctx, func(_ *rbridge.Bridge) error {
		t.Error("callback should not be called with cancelled context")

		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestWithBridge_CallbackError(t *testing.T) {
	errBoom := errors.New("boom")

	var bridge *rbridge.Bridge

	err := rbridge.WithBridge(context.Background(), func(b *rbridge.Bridge) error {
		bridge = b

		assert.True(t, b.Ready())
		assert.NotNil(t, b.Addr())

		return errBoom
	}, rbridge.WithLogger(rbridge.NopLogger()))
	require.ErrorIs(t, err, errBoom)

	require.NotNil(t, bridge)
	assert.False(t, bridge.Ready())

	_, err = bridge.Spawn("sh")
	require.ErrorIs(t, err, rbridge.ErrBridgeClosed)
}

func TestWithBridge_ListenError(t *testing.T) {
	err := rbridge.WithBridge(context.Background(), func(_ *rbridge.Bridge) error {
		t.Error("callback should not be called when listen fails")

		return nil
	}, rbridge.WithLogger(rbridge.NopLogger()), rbridge.WithPort(-1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start bridge")
}
