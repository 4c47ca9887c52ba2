// Package adapter defines the radio stack capability the session manager drives.
//
// Commands flow from the manager into an Adapter; outcomes flow back as Event
// values posted to the Sink handed over in Start. Backends live in sub-packages
// and register themselves with Register from an init function.
package adapter

import (
	"errors"

	"github.com/srg/blecentral/internal/device"
)

var (
	// ErrLinkLost is the cause reported when a link drops without a request.
	ErrLinkLost = errors.New("link lost")
	// ErrConnectTimeout is reported when a connection attempt outlives Options.ConnectTimeout.
	ErrConnectTimeout = errors.New("connection attempt timed out")
	// ErrUnknownPeripheral is returned by Connect for identifiers the stack has not seen.
	ErrUnknownPeripheral = errors.New("unknown peripheral")
	// ErrNoLink is returned by Disconnect when no link or attempt exists.
	ErrNoLink = errors.New("no link to peripheral")
	// ErrNotStarted is returned by commands issued before Start.
	ErrNotStarted = errors.New("adapter not started")
)

// Event is a notification posted by an Adapter.
type Event interface {
	EventName() string
}

// Sink receives adapter events. It is safe to call from any goroutine and
// never blocks, so a backend may post from inside a command method.
type Sink func(Event)

// PowerStateChanged reports a new adapter power state.
type PowerStateChanged struct {
	State device.AdapterState
}

// AdvertisementReceived reports one advertisement sighting.
type AdvertisementReceived struct {
	Advertisement device.Advertisement
}

// ConnectionResult reports the outcome of a Connect command.
type ConnectionResult struct {
	DeviceID string
	Err      error
}

// DisconnectionResult reports a closed link, requested or not.
type DisconnectionResult struct {
	DeviceID string
	Err      error
}

func (PowerStateChanged) EventName() string     { return "power_state_changed" }
func (AdvertisementReceived) EventName() string { return "advertisement_received" }
func (ConnectionResult) EventName() string      { return "connection_result" }
func (DisconnectionResult) EventName() string   { return "disconnection_result" }

// Adapter is a central-role BLE stack.
//
// Command methods return only synchronous rejections; their outcomes arrive
// later through the Sink.
type Adapter interface {
	// Start powers the stack up. PowerStateChanged events follow.
	Start(sink Sink) error
	// StartScan begins discovery. Nil or empty services means unfiltered.
	StartScan(services []string) error
	StopScan() error
	Connect(id string) error
	Disconnect(id string) error
	Close() error
}
