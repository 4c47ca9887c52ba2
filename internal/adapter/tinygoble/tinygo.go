// Package tinygoble is the adapter backend built on tinygo.org/x/bluetooth.
//
// The stack exposes no power-state callbacks and no service list on
// advertisements: power is reported once from Enable, and advertised
// services are resolved by probing the known catalog UUIDs.
package tinygoble

import (
	"context"
	"errors"
	"sync"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/srg/blecentral/internal/adapter"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
)

// Name is the backend name used with adapter.New.
const Name = "tinygo"

func init() {
	adapter.Register(Name, New)
}

// Peer is an established connection.
type Peer interface {
	Disconnect() error
}

// Radio is the subset of *bluetooth.Adapter the backend drives.
type Radio interface {
	Enable() error
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
	Connect(addr bluetooth.Address) (Peer, error)
	SetConnectHandler(handler func(dev bluetooth.Device, connected bool))
}

type hostRadio struct {
	*bluetooth.Adapter
}

func (r hostRadio) Connect(addr bluetooth.Address) (Peer, error) {
	dev, err := r.Adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, err
	}
	return &dev, nil
}

// RadioFactory returns the radio to drive (can be overridden in tests)
var RadioFactory = func() Radio {
	return hostRadio{Adapter: bluetooth.DefaultAdapter}
}

// Adapter drives a tinygo bluetooth adapter in the central role.
type Adapter struct {
	opts   adapter.Options
	logger *logrus.Logger
	known  []knownService

	mu        sync.Mutex
	radio     Radio
	sink      adapter.Sink
	addresses map[string]bluetooth.Address
	scanDone  <-chan struct{}
	links     map[string]*link
	closed    bool
}

type knownService struct {
	normalized string
	uuid       bluetooth.UUID
}

type link struct {
	id      string
	peer    Peer
	closing bool
	cancel  context.CancelFunc
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates the backend. opts.Services lists the UUIDs probed on every advertisement.
func New(opts adapter.Options, logger *logrus.Logger) (adapter.Adapter, error) {
	if logger == nil {
		logger = logrus.New()
	}

	known := make([]knownService, 0, len(opts.Services))
	for _, s := range opts.Services {
		u, err := bluetooth.ParseUUID(device.ExpandUUID(s))
		if err != nil {
			return nil, wrap(err, "", "Cannot parse service UUID "+s)
		}
		known = append(known, knownService{normalized: device.NormalizeUUID(s), uuid: u})
	}

	return &Adapter{
		opts:      opts,
		logger:    logger,
		known:     known,
		addresses: make(map[string]bluetooth.Address),
		links:     make(map[string]*link),
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

// Start enables the radio and reports its state.
func (a *Adapter) Start(sink adapter.Sink) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sink != nil {
		return nil
	}
	a.sink = sink

	radio := RadioFactory()
	if err := radio.Enable(); err != nil {
		state := device.StateUnsupported
		if errors.Is(device.NormalizeError(err), device.ErrNotReady) {
			state = device.StatePoweredOff
		}
		a.logger.WithError(err).WithField("state", state).Warn("Failed to enable bluetooth adapter")
		sink(adapter.PowerStateChanged{State: state})
		return nil
	}
	radio.SetConnectHandler(a.onConnectChange)
	a.radio = radio

	sink(adapter.PowerStateChanged{State: device.StatePoweredOn})
	return nil
}

// StartScan runs the blocking stack scan on its own goroutine.
func (a *Adapter) StartScan(services []string) error {
	a.mu.Lock()
	if a.radio == nil {
		a.mu.Unlock()
		return wrap(adapter.ErrNotStarted, "", "Cannot scan")
	}
	radio, done := a.takeScanLocked()
	a.mu.Unlock()

	if err := a.stopScan(radio, done); err != nil {
		return err
	}

	wanted := device.NormalizeUUIDs(services)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return wrap(adapter.ErrNotStarted, "", "Cannot scan")
	}
	a.scanDone = groutine.Go(context.Background(), "tinygo-scan", func(context.Context) {
		err := radio.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			a.onScanResult(result, wanted)
		})
		if err != nil {
			a.logger.WithError(err).Warn("Bluetooth scan aborted")
		}
	})
	return nil
}

func (a *Adapter) onScanResult(result bluetooth.ScanResult, wanted []string) {
	id := result.Address.String()
	adv := device.Advertisement{
		DeviceID:    id,
		LocalName:   result.LocalName(),
		RSSI:        int(result.RSSI),
		Connectable: true,
		Raw:         result,
	}
	for _, k := range a.known {
		if result.HasServiceUUID(k.uuid) {
			adv.Services = append(adv.Services, k.normalized)
		}
	}
	if len(wanted) > 0 && !matchesAny(adv.Services, wanted) {
		return
	}

	a.mu.Lock()
	a.addresses[id] = result.Address
	sink, closed := a.sink, a.closed
	a.mu.Unlock()
	if !closed {
		sink(adapter.AdvertisementReceived{Advertisement: adv})
	}
}

func matchesAny(have, wanted []string) bool {
	for _, h := range have {
		for _, w := range wanted {
			if h == w {
				return true
			}
		}
	}
	return false
}

func (a *Adapter) StopScan() error {
	a.mu.Lock()
	radio, done := a.takeScanLocked()
	a.mu.Unlock()
	return a.stopScan(radio, done)
}

// takeScanLocked detaches the running scan. Callers hold a.mu.
func (a *Adapter) takeScanLocked() (Radio, <-chan struct{}) {
	done := a.scanDone
	a.scanDone = nil
	return a.radio, done
}

// stopScan stops a scan detached with takeScanLocked and waits for its
// goroutine. It must be called without a.mu: the scan callback takes it.
// On failure the scan is reattached so a later stop can retry.
func (a *Adapter) stopScan(radio Radio, done <-chan struct{}) error {
	if done == nil {
		return nil
	}
	if err := radio.StopScan(); err != nil {
		a.mu.Lock()
		if a.scanDone == nil {
			a.scanDone = done
		}
		a.mu.Unlock()
		return wrap(err, "", "Cannot stop scan")
	}
	<-done
	return nil
}

// Connect dials a scanned address. The stack call cannot be cancelled, so
// an abort or timeout waits for it and drops the link if it succeeds late.
func (a *Adapter) Connect(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.radio == nil {
		return wrap(adapter.ErrNotStarted, id, "Cannot connect")
	}
	addr, ok := a.addresses[id]
	if !ok {
		return wrap(adapter.ErrUnknownPeripheral, id, "Cannot connect")
	}
	if _, busy := a.links[id]; busy {
		return wrap(device.ErrAlreadyConnected, id, "Cannot connect")
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if a.opts.ConnectTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), a.opts.ConnectTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	l := &link{id: id, cancel: cancel}
	a.links[id] = l

	type result struct {
		peer Peer
		err  error
	}
	results := make(chan result, 1)
	radio := a.radio
	groutine.Go(context.Background(), "tinygo-connect", func(context.Context) {
		peer, err := radio.Connect(addr)
		results <- result{peer, err}
	})
	groutine.Go(ctx, "tinygo-connect-wait", func(ctx context.Context) {
		select {
		case r := <-results:
			cancel()
			a.connected(l, r.peer, r.err)
		case <-ctx.Done():
			a.expired(l, errors.Is(ctx.Err(), context.DeadlineExceeded))
			r := <-results
			if r.err == nil {
				a.dropLate(l, r.peer)
			}
		}
	})
	return nil
}

func (a *Adapter) connected(l *link, peer Peer, err error) {
	a.mu.Lock()
	closing := l.closing
	if err != nil || closing {
		a.forget(l)
	} else {
		l.peer = peer
	}
	a.mu.Unlock()

	switch {
	case closing:
		if err == nil {
			a.dropLate(l, peer)
		}
		a.post(adapter.DisconnectionResult{DeviceID: l.id})
	case err != nil:
		a.post(adapter.ConnectionResult{DeviceID: l.id, Err: wrap(err, l.id, "Cannot connect to device")})
	default:
		a.post(adapter.ConnectionResult{DeviceID: l.id})
	}
}

// expired settles an attempt that was aborted or timed out before the stack answered.
func (a *Adapter) expired(l *link, timedOut bool) {
	a.mu.Lock()
	a.forget(l)
	a.mu.Unlock()

	if timedOut {
		a.post(adapter.ConnectionResult{DeviceID: l.id, Err: wrap(adapter.ErrConnectTimeout, l.id, "Cannot connect to device")})
		return
	}
	a.post(adapter.DisconnectionResult{DeviceID: l.id})
}

func (a *Adapter) dropLate(l *link, peer Peer) {
	if peer == nil {
		return
	}
	if err := peer.Disconnect(); err != nil {
		a.logger.WithError(err).WithField("device", l.id).Debug("Failed to drop late connection")
	}
}

// forget removes l from the link table. Callers hold a.mu.
func (a *Adapter) forget(l *link) {
	if a.links[l.id] == l {
		delete(a.links, l.id)
	}
}

func (a *Adapter) onConnectChange(dev bluetooth.Device, connected bool) {
	if connected {
		return
	}
	id := dev.Address.String()

	a.mu.Lock()
	l, ok := a.links[id]
	if !ok || l.peer == nil {
		a.mu.Unlock()
		return
	}
	a.forget(l)
	closing := l.closing
	a.mu.Unlock()

	if closing {
		a.post(adapter.DisconnectionResult{DeviceID: id})
		return
	}
	a.post(adapter.DisconnectionResult{DeviceID: id, Err: wrap(adapter.ErrLinkLost, id, "Connection dropped")})
}

// Disconnect drops a link or aborts an attempt.
func (a *Adapter) Disconnect(id string) error {
	a.mu.Lock()
	l, ok := a.links[id]
	if !ok {
		a.mu.Unlock()
		return wrap(adapter.ErrNoLink, id, "Cannot disconnect")
	}
	l.closing = true
	peer := l.peer
	a.mu.Unlock()

	if peer == nil {
		l.cancel()
		return nil
	}

	groutine.Go(context.Background(), "tinygo-disconnect", func(context.Context) {
		err := peer.Disconnect()
		// the connect handler may have reported the closure already
		a.mu.Lock()
		present := a.links[id] == l
		a.forget(l)
		a.mu.Unlock()
		if present {
			a.post(adapter.DisconnectionResult{DeviceID: id, Err: wrap(err, id, "Cannot disconnect from device")})
		}
	})
	return nil
}

func (a *Adapter) post(ev adapter.Event) {
	a.mu.Lock()
	sink, closed := a.sink, a.closed
	a.mu.Unlock()
	if sink != nil && !closed {
		sink(ev)
	}
}

// Close stops scanning and drops every link. The stack adapter itself has no close.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	radio, done := a.takeScanLocked()
	links := make([]*link, 0, len(a.links))
	peers := make([]Peer, 0, len(a.links))
	for _, l := range a.links {
		l.closing = true
		links = append(links, l)
		peers = append(peers, l.peer)
	}
	a.links = make(map[string]*link)
	a.mu.Unlock()

	scanErr := a.stopScan(radio, done)
	for i, l := range links {
		l.cancel()
		if peers[i] != nil {
			a.dropLate(l, peers[i])
		}
	}
	return scanErr
}
