package session

import (
	"github.com/srg/blecentral/internal/device"
)

// Observer receives session notifications. It may implement any subset of
// the handler interfaces below; missing handlers are skipped silently.
//
// Handlers run on a dedicated dispatch goroutine, one at a time, in the order
// the underlying state changes happened. They may call back into the Manager.
type Observer interface{}

// DeviceFoundHandler receives every matching advertisement of an active scan.
type DeviceFoundHandler interface {
	OnDeviceFound(dev device.Device)
}

// ScanCompleteHandler is told once when a scan session ends, whatever ended it.
type ScanCompleteHandler interface {
	OnScanComplete()
}

// ConnectedHandler receives connection outcomes. err is nil on success.
type ConnectedHandler interface {
	OnConnected(dev device.Device, err error)
}

// DisconnectedHandler receives link closures, requested or not.
type DisconnectedHandler interface {
	OnDisconnected(dev device.Device, err error)
}

// ReadyHandler is told once, when the adapter first reports PoweredOn.
type ReadyHandler interface {
	OnReady()
}

// ObserverFuncs adapts plain functions to every handler interface. Nil fields are skipped.
type ObserverFuncs struct {
	DeviceFound  func(dev device.Device)
	ScanComplete func()
	Connected    func(dev device.Device, err error)
	Disconnected func(dev device.Device, err error)
	Ready        func()
}

func (f ObserverFuncs) OnDeviceFound(dev device.Device) {
	if f.DeviceFound != nil {
		f.DeviceFound(dev)
	}
}

func (f ObserverFuncs) OnScanComplete() {
	if f.ScanComplete != nil {
		f.ScanComplete()
	}
}

func (f ObserverFuncs) OnConnected(dev device.Device, err error) {
	if f.Connected != nil {
		f.Connected(dev, err)
	}
}

func (f ObserverFuncs) OnDisconnected(dev device.Device, err error) {
	if f.Disconnected != nil {
		f.Disconnected(dev, err)
	}
}

func (f ObserverFuncs) OnReady() {
	if f.Ready != nil {
		f.Ready()
	}
}

// observerRef boxes the interface so it can live in an atomic.Pointer.
type observerRef struct {
	obs Observer
}

// notification is one queued observer call.
type notification interface {
	deliver(obs Observer)
	name() string
}

type deviceFoundNote struct{ dev device.Device }
type scanCompleteNote struct{}
type connectedNote struct {
	dev device.Device
	err error
}
type disconnectedNote struct {
	dev device.Device
	err error
}
type readyNote struct{}

func (n deviceFoundNote) deliver(obs Observer) {
	if h, ok := obs.(DeviceFoundHandler); ok {
		h.OnDeviceFound(n.dev)
	}
}

func (scanCompleteNote) deliver(obs Observer) {
	if h, ok := obs.(ScanCompleteHandler); ok {
		h.OnScanComplete()
	}
}

func (n connectedNote) deliver(obs Observer) {
	if h, ok := obs.(ConnectedHandler); ok {
		h.OnConnected(n.dev, n.err)
	}
}

func (n disconnectedNote) deliver(obs Observer) {
	if h, ok := obs.(DisconnectedHandler); ok {
		h.OnDisconnected(n.dev, n.err)
	}
}

func (readyNote) deliver(obs Observer) {
	if h, ok := obs.(ReadyHandler); ok {
		h.OnReady()
	}
}

func (deviceFoundNote) name() string  { return "device_found" }
func (scanCompleteNote) name() string { return "scan_complete" }
func (connectedNote) name() string    { return "connected" }
func (disconnectedNote) name() string { return "disconnected" }
func (readyNote) name() string        { return "ready" }
