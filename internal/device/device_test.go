package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expectIs error
	}{
		{"darwin powered off", errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), ErrBluetoothOff},
		{"generic powered off", errors.New("bluetooth is turned off"), ErrBluetoothOff},
		{"bluez not ready", errors.New("org.bluez.Error.NotReady: Resource Not Ready"), ErrBluetoothOff},
		{"not connected", errors.New("device not connected"), ErrNotConnected},
		{"already connected", errors.New("device already connected"), ErrAlreadyConnected},
		{"timeout", errors.New("operation timed out"), ErrTimeout},
		{"context canceled passes through", context.Canceled, context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError(tt.err)
			assert.ErrorIs(t, got, tt.expectIs, "normalized error MUST match sentinel")
			assert.Contains(t, got.Error(), tt.err.Error(), "normalized error MUST keep original message")
		})
	}

	t.Run("unknown errors pass through", func(t *testing.T) {
		orig := errors.New("some other error")
		got := NormalizeError(orig)
		assert.Same(t, orig, got)
		assert.False(t, IsConnectionState(got, BluetoothOff))
	})

	assert.NoError(t, NormalizeError(nil))
}

func TestNotFoundError(t *testing.T) {
	assert.Equal(t, "service \"180a\" not found", (&NotFoundError{Resource: "service", UUIDs: []string{"180a"}}).Error())
	assert.Equal(t, "characteristic \"2a25\" not found in service \"180a\"",
		(&NotFoundError{Resource: "characteristic", UUIDs: []string{"180a", "2a25"}}).Error())
	assert.Equal(t, "peripheral not found", (&NotFoundError{Resource: "peripheral"}).Error())
}

func TestAwait(t *testing.T) {
	t.Run("returns result", func(t *testing.T) {
		v, err := Await(context.Background(), func() (int, error) { return 42, nil })
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	})

	t.Run("returns early on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		block := make(chan struct{})
		defer close(block)

		_, err := Await(ctx, func() (int, error) {
			<-block
			return 0, nil
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded, "Await MUST return the context error")
	})
}
