package device

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind identifies a synchronous precondition failure of a session operation.
type ErrorKind string

const (
	KindNotReady          ErrorKind = "not_ready"
	KindInvalidFilter     ErrorKind = "invalid_filter"
	KindAlreadyInProgress ErrorKind = "already_in_progress"
	KindAlreadyConnected  ErrorKind = "already_connected"
	KindNotConnected      ErrorKind = "not_connected"
	KindNotFound          ErrorKind = "not_found"
)

// SessionError is returned by session operations whose preconditions do not hold.
// It never reaches the observer.
type SessionError struct {
	Kind     ErrorKind
	DeviceID string
	Msg      string
}

// Error implements the error interface
func (e *SessionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.DeviceID != "" {
		msg = fmt.Sprintf("%s: device %q", msg, e.DeviceID)
	}
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Msg)
	}
	return msg
}

// Is allows errors.Is to compare SessionError values by Kind
func (e *SessionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*SessionError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors, compared by kind
var (
	ErrNotReady          = &SessionError{Kind: KindNotReady}
	ErrInvalidFilter     = &SessionError{Kind: KindInvalidFilter}
	ErrAlreadyInProgress = &SessionError{Kind: KindAlreadyInProgress}
	ErrAlreadyConnected  = &SessionError{Kind: KindAlreadyConnected}
	ErrNotConnected      = &SessionError{Kind: KindNotConnected}
	ErrNotFound          = &SessionError{Kind: KindNotFound}
)

// NewSessionError builds a SessionError bound to a device.
func NewSessionError(kind ErrorKind, deviceID, format string, args ...any) *SessionError {
	return &SessionError{Kind: kind, DeviceID: deviceID, Msg: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is a SessionError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var serr *SessionError
	if errors.As(err, &serr) {
		return serr.Kind == kind
	}
	return false
}

// AdapterError carries an opaque failure reported by the radio stack.
// It is forwarded verbatim to the observer for asynchronous outcomes.
type AdapterError struct {
	Op       string // "start", "scan", "stop_scan", "connect", "disconnect", "power"
	DeviceID string
	Err      error
}

func (e *AdapterError) Error() string {
	if e.DeviceID == "" {
		return fmt.Sprintf("adapter %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("adapter %s %s: %v", e.Op, e.DeviceID, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError wraps err, returning nil for a nil err.
func NewAdapterError(op, deviceID string, err error) error {
	if err == nil {
		return nil
	}
	var aerr *AdapterError
	if errors.As(err, &aerr) {
		return err
	}
	return &AdapterError{Op: op, DeviceID: deviceID, Err: err}
}

// ErrPoweredOff is the cause attached to links torn down by a power loss.
var ErrPoweredOff = errors.New("adapter powered off")

// NormalizeError maps known radio stack error strings to the session taxonomy.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "is bluetooth turned on"),
		containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "powered off"):
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "unknown device"), containsIgnoreCase(msg, "no such device"):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	default:
		return err
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
