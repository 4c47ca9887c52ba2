package main

import (
	"errors"
	"fmt"

	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/ftag"

	"github.com/srg/blecentral/internal/adapter"
	"github.com/srg/blecentral/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the link dropped while the command was holding it.
	// This is distinct from device.ErrNotConnected, which rejects an operation
	// on a device that has no link.
	ErrConnectionLost = errors.New("connection lost")

	// ErrDeviceNotFound indicates the requested peripheral did not advertise within the scan window.
	ErrDeviceNotFound = errors.New("device not found")
)

// FormatUserError renders err for the terminal. Session precondition
// failures get a hint; backend failures name the backend that raised them.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var serr *device.SessionError
	if errors.As(err, &serr) {
		switch serr.Kind {
		case device.KindNotReady:
			return "Bluetooth is not ready: make sure the adapter is present and powered on"
		case device.KindNotFound:
			return fmt.Sprintf("device %q is not known: scan for it first", serr.DeviceID)
		case device.KindInvalidFilter:
			return fmt.Sprintf("invalid service filter: %s", serr.Msg)
		}
	}

	switch {
	case errors.Is(err, adapter.ErrConnectTimeout):
		return fmt.Sprintf("%s (try a longer connect_timeout)", err)
	case errors.Is(err, ErrDeviceNotFound):
		return fmt.Sprintf("%s (is it advertising? try a longer --duration or --filter all)", err)
	}

	msg := err.Error()
	if ftag.Get(err) == ftag.Internal {
		if backend := fctx.Unwrap(err)["backend"]; backend != "" {
			msg = fmt.Sprintf("%s [%s backend]", msg, backend)
		}
	}
	return msg
}
