package device

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionError(t *testing.T) {
	t.Run("compares by kind", func(t *testing.T) {
		err := NewSessionError(KindAlreadyConnected, "AA:BB", "state %s", Connected)

		assert.ErrorIs(t, err, ErrAlreadyConnected)
		assert.NotErrorIs(t, err, ErrNotConnected)
		assert.True(t, IsKind(err, KindAlreadyConnected))
		assert.True(t, IsKind(fmt.Errorf("connect: %w", err), KindAlreadyConnected), "kind MUST survive wrapping")
		assert.False(t, IsKind(errors.New("other"), KindAlreadyConnected))
	})

	t.Run("formats kind, device and message", func(t *testing.T) {
		assert.Equal(t, "not_ready", ErrNotReady.Error())
		assert.Equal(t, `not_found: device "X"`, (&SessionError{Kind: KindNotFound, DeviceID: "X"}).Error())
		assert.Equal(t, `already_in_progress: device "X": state connecting`,
			NewSessionError(KindAlreadyInProgress, "X", "state %s", Connecting).Error())
	})
}

func TestAdapterError(t *testing.T) {
	cause := errors.New("link supervision timeout")

	t.Run("wraps and unwraps", func(t *testing.T) {
		err := NewAdapterError("connect", "AA:BB", cause)

		var aerr *AdapterError
		require.ErrorAs(t, err, &aerr)
		assert.Equal(t, "connect", aerr.Op)
		assert.ErrorIs(t, err, cause, "cause MUST be reachable through Unwrap")
		assert.Equal(t, "adapter connect AA:BB: link supervision timeout", err.Error())
	})

	t.Run("nil in nil out", func(t *testing.T) {
		assert.NoError(t, NewAdapterError("scan", "", nil))
	})

	t.Run("does not double wrap", func(t *testing.T) {
		inner := NewAdapterError("connect", "A", cause)
		outer := NewAdapterError("disconnect", "A", inner)
		assert.Same(t, inner, outer)
	})
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"darwin not powered", errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"), ErrNotReady},
		{"turned off", errors.New("Bluetooth is turned off"), ErrNotReady},
		{"not connected", errors.New("device not connected"), ErrNotConnected},
		{"already connected", errors.New("Device already connected"), ErrAlreadyConnected},
		{"unknown device", errors.New("unknown device AA:BB"), ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError(tt.err)
			assert.ErrorIs(t, got, tt.target)
			assert.Contains(t, got.Error(), tt.err.Error(), "original message MUST be preserved")
		})
	}

	t.Run("passes through unknown errors", func(t *testing.T) {
		err := errors.New("hci: command disallowed")
		assert.Same(t, err, NormalizeError(err))
		assert.NoError(t, NormalizeError(nil))
	})
}
