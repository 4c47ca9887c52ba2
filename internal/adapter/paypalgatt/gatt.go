//go:build linux || darwin

// Package paypalgatt is the adapter backend built on github.com/paypal/gatt.
//
// gatt reports power changes, discoveries and link changes through handlers
// registered on its Device; this package turns each of them into an adapter
// event. gatt only builds on Linux and macOS.
package paypalgatt

import (
	"context"
	"sync"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/paypal/gatt"
	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/adapter"
	"github.com/srg/blecentral/internal/device"
)

// Name is the backend name used with adapter.New.
const Name = "gatt"

func init() {
	adapter.Register(Name, New)
}

// DeviceFactory opens the gatt device (can be overridden in tests)
var DeviceFactory = func() (gatt.Device, error) {
	return gatt.NewDevice(platformOptions...)
}

// Adapter drives a gatt.Device in the central role.
type Adapter struct {
	opts   adapter.Options
	logger *logrus.Logger

	mu          sync.Mutex
	dev         gatt.Device
	sink        adapter.Sink
	peripherals map[string]gatt.Peripheral
	links       map[string]*link
	closed      bool
}

type link struct {
	peripheral gatt.Peripheral
	connected  bool
	closing    bool
	timer      *time.Timer
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates the backend. The device is opened in Start.
func New(opts adapter.Options, logger *logrus.Logger) (adapter.Adapter, error) {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		opts:        opts,
		logger:      logger,
		peripherals: make(map[string]gatt.Peripheral),
		links:       make(map[string]*link),
	}, nil
}

func wrap(err error, id, msg string) error {
	if err == nil {
		return nil
	}
	return fault.Wrap(device.NormalizeError(err),
		fctx.With(context.Background(), "backend", Name, "device_id", id),
		ftag.With(ftag.Internal),
		fmsg.With(msg),
	)
}

// MapState converts a gatt power state.
func MapState(s gatt.State) device.AdapterState {
	switch s {
	case gatt.StateResetting:
		return device.StateResetting
	case gatt.StateUnsupported:
		return device.StateUnsupported
	case gatt.StateUnauthorized:
		return device.StateUnauthorized
	case gatt.StatePoweredOff:
		return device.StatePoweredOff
	case gatt.StatePoweredOn:
		return device.StatePoweredOn
	default:
		return device.StateUnknown
	}
}

// Start opens the device and registers the gatt handlers. Power states
// arrive through the Init callback.
func (a *Adapter) Start(sink adapter.Sink) error {
	a.mu.Lock()
	if a.sink != nil {
		a.mu.Unlock()
		return nil
	}
	a.sink = sink
	a.mu.Unlock()

	dev, err := DeviceFactory()
	if err != nil {
		a.logger.WithError(err).Warn("Failed to open gatt device")
		sink(adapter.PowerStateChanged{State: device.StateUnsupported})
		return nil
	}

	dev.Handle(
		gatt.PeripheralDiscovered(a.onDiscovered),
		gatt.PeripheralConnected(a.onConnected),
		gatt.PeripheralDisconnected(a.onDisconnected),
	)

	a.mu.Lock()
	a.dev = dev
	a.mu.Unlock()

	if err := dev.Init(a.onState); err != nil {
		return wrap(err, "", "Cannot initialize gatt device")
	}
	return nil
}

func (a *Adapter) onState(_ gatt.Device, s gatt.State) {
	a.logger.WithField("state", MapState(s)).Debug("gatt state changed")
	if s != gatt.StatePoweredOn {
		a.dropLinks()
	}
	a.post(adapter.PowerStateChanged{State: MapState(s)})
}

func (a *Adapter) onDiscovered(p gatt.Peripheral, adv *gatt.Advertisement, rssi int) {
	id := p.ID()
	a.mu.Lock()
	a.peripherals[id] = p
	a.mu.Unlock()

	a.post(adapter.AdvertisementReceived{Advertisement: toAdvertisement(p, adv, rssi)})
}

func toAdvertisement(p gatt.Peripheral, adv *gatt.Advertisement, rssi int) device.Advertisement {
	result := device.Advertisement{
		DeviceID:  p.ID(),
		LocalName: p.Name(),
		RSSI:      rssi,
		Raw:       adv,
	}
	if adv == nil {
		return result
	}
	if adv.LocalName != "" {
		result.LocalName = adv.LocalName
	}
	result.Connectable = adv.Connectable
	services := make([]string, 0, len(adv.Services))
	for _, u := range adv.Services {
		services = append(services, u.String())
	}
	result.Services = device.NormalizeUUIDs(services)
	return result
}

// StartScan begins discovery with duplicates allowed so re-advertisements keep flowing.
func (a *Adapter) StartScan(services []string) error {
	a.mu.Lock()
	dev := a.dev
	a.mu.Unlock()
	if dev == nil {
		return wrap(adapter.ErrNotStarted, "", "Cannot scan")
	}

	uuids := make([]gatt.UUID, 0, len(services))
	for _, s := range services {
		u, err := gatt.ParseUUID(device.NormalizeUUID(s))
		if err != nil {
			return wrap(err, "", "Cannot parse service UUID")
		}
		uuids = append(uuids, u)
	}
	dev.Scan(uuids, true)
	return nil
}

func (a *Adapter) StopScan() error {
	a.mu.Lock()
	dev := a.dev
	a.mu.Unlock()
	if dev != nil {
		dev.StopScanning()
	}
	return nil
}

// Connect opens a link to a peripheral seen in a scan.
func (a *Adapter) Connect(id string) error {
	a.mu.Lock()
	if a.dev == nil {
		a.mu.Unlock()
		return wrap(adapter.ErrNotStarted, id, "Cannot connect")
	}
	p, ok := a.peripherals[id]
	if !ok {
		a.mu.Unlock()
		return wrap(adapter.ErrUnknownPeripheral, id, "Cannot connect")
	}
	if _, busy := a.links[id]; busy {
		a.mu.Unlock()
		return wrap(device.ErrAlreadyConnected, id, "Cannot connect")
	}

	l := &link{peripheral: p}
	if a.opts.ConnectTimeout > 0 {
		l.timer = time.AfterFunc(a.opts.ConnectTimeout, func() { a.onConnectTimeout(id, l) })
	}
	a.links[id] = l
	dev := a.dev
	a.mu.Unlock()

	// gatt may call back into the handlers from Connect
	dev.Connect(p)
	return nil
}

func (a *Adapter) onConnectTimeout(id string, l *link) {
	a.mu.Lock()
	if a.links[id] != l || l.connected {
		a.mu.Unlock()
		return
	}
	delete(a.links, id)
	closing := l.closing
	dev := a.dev
	a.mu.Unlock()

	dev.CancelConnection(l.peripheral)
	if closing {
		a.post(adapter.DisconnectionResult{DeviceID: id})
		return
	}
	a.post(adapter.ConnectionResult{DeviceID: id, Err: wrap(adapter.ErrConnectTimeout, id, "Cannot connect to device")})
}

func (a *Adapter) onConnected(p gatt.Peripheral, err error) {
	id := p.ID()
	a.mu.Lock()
	l, ok := a.links[id]
	if !ok {
		a.mu.Unlock()
		a.logger.WithField("device", id).Debug("Ignoring connection for untracked peripheral")
		return
	}
	if l.timer != nil {
		l.timer.Stop()
	}
	closing := l.closing
	if err != nil {
		delete(a.links, id)
	} else {
		l.connected = true
	}
	dev := a.dev
	a.mu.Unlock()

	switch {
	case err != nil && closing:
		a.post(adapter.DisconnectionResult{DeviceID: id})
	case err != nil:
		a.post(adapter.ConnectionResult{DeviceID: id, Err: wrap(err, id, "Cannot connect to device")})
	case closing:
		// aborted while connecting; onDisconnected reports the outcome
		dev.CancelConnection(p)
	default:
		a.post(adapter.ConnectionResult{DeviceID: id})
	}
}

func (a *Adapter) onDisconnected(p gatt.Peripheral, err error) {
	id := p.ID()
	a.mu.Lock()
	l, ok := a.links[id]
	if ok {
		delete(a.links, id)
		if l.timer != nil {
			l.timer.Stop()
		}
	}
	a.mu.Unlock()
	if !ok {
		return
	}

	if !l.connected && !l.closing {
		if err == nil {
			err = adapter.ErrLinkLost
		}
		a.post(adapter.ConnectionResult{DeviceID: id, Err: wrap(err, id, "Cannot connect to device")})
		return
	}
	if l.closing {
		a.post(adapter.DisconnectionResult{DeviceID: id})
		return
	}
	if err == nil {
		err = adapter.ErrLinkLost
	}
	a.post(adapter.DisconnectionResult{DeviceID: id, Err: wrap(err, id, "Connection dropped")})
}

// Disconnect drops a link or aborts an attempt. The outcome arrives through the gatt handlers.
func (a *Adapter) Disconnect(id string) error {
	a.mu.Lock()
	l, ok := a.links[id]
	if !ok {
		a.mu.Unlock()
		return wrap(adapter.ErrNoLink, id, "Cannot disconnect")
	}
	l.closing = true
	dev := a.dev
	a.mu.Unlock()

	dev.CancelConnection(l.peripheral)
	return nil
}

// dropLinks forgets every link after the radio went away; the session
// manager tears its own state down on the power event.
func (a *Adapter) dropLinks() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, l := range a.links {
		if l.timer != nil {
			l.timer.Stop()
		}
		delete(a.links, id)
	}
}

func (a *Adapter) post(ev adapter.Event) {
	a.mu.Lock()
	sink, closed := a.sink, a.closed
	a.mu.Unlock()
	if sink != nil && !closed {
		sink(ev)
	}
}

// Close stops scanning and drops every link. gatt has no way to release the
// HCI socket, so the device itself stays open until the process exits.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	dev := a.dev
	peripherals := make([]gatt.Peripheral, 0, len(a.links))
	for _, l := range a.links {
		if l.timer != nil {
			l.timer.Stop()
		}
		peripherals = append(peripherals, l.peripheral)
	}
	a.links = make(map[string]*link)
	a.mu.Unlock()

	if dev == nil {
		return nil
	}
	dev.StopScanning()
	for _, p := range peripherals {
		dev.CancelConnection(p)
	}
	return nil
}
