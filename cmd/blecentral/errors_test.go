package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/ftag"
	"github.com/stretchr/testify/assert"

	"github.com/srg/blecentral/internal/adapter"
	"github.com/srg/blecentral/internal/device"
)

func TestFormatUserError(t *testing.T) {
	backendErr := fault.Wrap(errors.New("hci: command disallowed"),
		fctx.With(context.Background(), "backend", "goble", "device_id", "AA:01"),
		ftag.With(ftag.Internal),
	)

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "nil",
			err:  nil,
			want: "",
		},
		{
			name: "not ready",
			err:  fmt.Errorf("bluetooth adapter is powered_off: %w", device.ErrNotReady),
			want: "Bluetooth is not ready: make sure the adapter is present and powered on",
		},
		{
			name: "unknown device",
			err:  device.NewSessionError(device.KindNotFound, "AA:09", ""),
			want: `device "AA:09" is not known: scan for it first`,
		},
		{
			name: "invalid filter",
			err:  device.NewSessionError(device.KindInvalidFilter, "", "no services selected"),
			want: "invalid service filter: no services selected",
		},
		{
			name: "connect timeout",
			err:  fmt.Errorf("failed to connect to AA:01: %w", device.NewAdapterError("connect", "AA:01", adapter.ErrConnectTimeout)),
			want: "failed to connect to AA:01: adapter connect AA:01: connection attempt timed out (try a longer connect_timeout)",
		},
		{
			name: "device not found",
			err:  fmt.Errorf("%w: AA:09 did not advertise within 1s", ErrDeviceNotFound),
			want: "device not found: AA:09 did not advertise within 1s (is it advertising? try a longer --duration or --filter all)",
		},
		{
			name: "backend failure names the backend",
			err:  backendErr,
			want: backendErr.Error() + " [goble backend]",
		},
		{
			name: "other errors pass through",
			err:  fmt.Errorf("%w: AA:01: link lost", ErrConnectionLost),
			want: "connection lost: AA:01: link lost",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUserError(tt.err))
		})
	}
}
