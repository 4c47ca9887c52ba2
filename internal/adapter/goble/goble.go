// Package goble is the adapter backend built on github.com/go-ble/ble.
package goble

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/adapter"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
)

// Name is the backend name used with adapter.New.
const Name = "goble"

func init() {
	adapter.Register(Name, New)
}

// DeviceFactory creates the platform ble.Device (can be overridden in tests)
var DeviceFactory = newPlatformDevice

// Adapter drives a ble.Device in the central role.
type Adapter struct {
	opts   adapter.Options
	logger *logrus.Logger

	mu     sync.Mutex
	dev    ble.Device
	sink   adapter.Sink
	scan   *scanRun
	links  map[string]*link
	closed bool
}

type scanRun struct {
	cancel context.CancelFunc
	done   <-chan struct{}
}

// link is one connection attempt or established connection.
type link struct {
	id      string
	cancel  context.CancelFunc
	client  ble.Client
	closing bool
	once    sync.Once
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates the backend. The radio is opened in Start.
func New(opts adapter.Options, logger *logrus.Logger) (adapter.Adapter, error) {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		opts:   opts,
		logger: logger,
		links:  make(map[string]*link),
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

// Start opens the HCI device. A radio that cannot be opened is reported as a
// power state rather than an error so the session stays alive and not ready.
func (a *Adapter) Start(sink adapter.Sink) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sink != nil {
		return nil
	}
	a.sink = sink

	dev, err := DeviceFactory()
	if err != nil {
		state := device.StateUnsupported
		if errors.Is(device.NormalizeError(err), device.ErrNotReady) {
			state = device.StatePoweredOff
		}
		a.logger.WithError(err).WithField("state", state).Warn("Failed to open BLE device")
		sink(adapter.PowerStateChanged{State: state})
		return nil
	}
	a.dev = dev

	a.logger.Debug("BLE device opened")
	sink(adapter.PowerStateChanged{State: device.StatePoweredOn})
	return nil
}

// StartScan begins an active scan. go-ble cannot filter by service, so
// advertisements are filtered here before they reach the sink.
func (a *Adapter) StartScan(services []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dev == nil {
		return wrap(adapter.ErrNotStarted, "", "Cannot scan")
	}
	a.stopScanLocked()

	wanted := device.NormalizeUUIDs(services)
	dev := a.dev
	sink := a.sink

	ctx, cancel := context.WithCancel(context.Background())
	done := groutine.Go(ctx, "goble-scan", func(ctx context.Context) {
		err := dev.Scan(ctx, true, func(raw ble.Advertisement) {
			adv := toAdvertisement(raw)
			if len(wanted) > 0 && !containsAny(adv.Services, wanted) {
				return
			}
			sink(adapter.AdvertisementReceived{Advertisement: adv})
		})
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		a.logger.WithError(err).Warn("BLE scan aborted")
		if errors.Is(device.NormalizeError(err), device.ErrNotReady) {
			sink(adapter.PowerStateChanged{State: device.StatePoweredOff})
		}
	})
	a.scan = &scanRun{cancel: cancel, done: done}
	return nil
}

func (a *Adapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopScanLocked()
	return nil
}

func (a *Adapter) stopScanLocked() {
	if a.scan == nil {
		return
	}
	a.scan.cancel()
	<-a.scan.done
	a.scan = nil
}

// Connect dials id in the background. The outcome is posted as ConnectionResult.
func (a *Adapter) Connect(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dev == nil {
		return wrap(adapter.ErrNotStarted, id, "Cannot connect")
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

	dev := a.dev
	groutine.Go(ctx, "goble-dial", func(ctx context.Context) {
		client, err := dev.Dial(ctx, ble.NewAddr(id))
		a.dialed(l, client, err, ctx.Err())
	})
	return nil
}

func (a *Adapter) dialed(l *link, client ble.Client, err, ctxErr error) {
	a.mu.Lock()
	closing := l.closing
	if err == nil && !closing {
		l.client = client
	}
	a.mu.Unlock()
	l.cancel()

	log := a.logger.WithField("device", l.id)
	switch {
	case closing:
		if client != nil {
			if cerr := client.CancelConnection(); cerr != nil {
				log.WithError(cerr).Debug("Failed to drop aborted connection")
			}
		}
		a.finish(l, nil)
	case err != nil:
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			err = adapter.ErrConnectTimeout
		}
		a.release(l)
		a.post(adapter.ConnectionResult{DeviceID: l.id, Err: wrap(err, l.id, "Cannot connect to device")})
	default:
		log.Debug("BLE link established")
		a.post(adapter.ConnectionResult{DeviceID: l.id})
		groutine.Go(context.Background(), "goble-link-monitor", func(context.Context) {
			<-client.Disconnected()
			a.mu.Lock()
			requested := l.closing
			a.mu.Unlock()
			if requested {
				a.finish(l, nil)
				return
			}
			a.finish(l, wrap(adapter.ErrLinkLost, l.id, "Connection dropped"))
		})
	}
}

// Disconnect drops an established link or aborts a pending dial.
func (a *Adapter) Disconnect(id string) error {
	a.mu.Lock()
	l, ok := a.links[id]
	if !ok {
		a.mu.Unlock()
		return wrap(adapter.ErrNoLink, id, "Cannot disconnect")
	}
	l.closing = true
	client := l.client
	a.mu.Unlock()

	if client == nil {
		// the dial goroutine reports the abort
		l.cancel()
		return nil
	}

	groutine.Go(context.Background(), "goble-disconnect", func(context.Context) {
		if err := client.CancelConnection(); err != nil {
			a.finish(l, wrap(err, id, "Cannot disconnect from device"))
		}
	})
	return nil
}

// finish reports the end of a link exactly once.
func (a *Adapter) finish(l *link, err error) {
	l.once.Do(func() {
		a.release(l)
		a.post(adapter.DisconnectionResult{DeviceID: l.id, Err: err})
	})
}

func (a *Adapter) release(l *link) {
	a.mu.Lock()
	if a.links[l.id] == l {
		delete(a.links, l.id)
	}
	a.mu.Unlock()
}

func (a *Adapter) post(ev adapter.Event) {
	a.mu.Lock()
	sink, closed := a.sink, a.closed
	a.mu.Unlock()
	if sink != nil && !closed {
		sink(ev)
	}
}

// Close stops scanning, drops every link and releases the HCI device.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.stopScanLocked()
	links := make([]*link, 0, len(a.links))
	clients := make([]ble.Client, 0, len(a.links))
	for _, l := range a.links {
		l.closing = true
		links = append(links, l)
		clients = append(clients, l.client)
	}
	a.links = make(map[string]*link)
	dev := a.dev
	a.mu.Unlock()

	for i, l := range links {
		l.cancel()
		if c := clients[i]; c != nil {
			if err := c.CancelConnection(); err != nil {
				a.logger.WithError(err).WithField("device", l.id).Debug("Failed to drop link on close")
			}
		}
	}

	if dev == nil {
		return nil
	}
	if err := dev.Stop(); err != nil {
		return wrap(err, "", "Cannot stop BLE device")
	}
	return nil
}

func toAdvertisement(raw ble.Advertisement) device.Advertisement {
	services := make([]string, 0, len(raw.Services()))
	for _, u := range raw.Services() {
		services = append(services, u.String())
	}
	return device.Advertisement{
		DeviceID:    raw.Addr().String(),
		LocalName:   raw.LocalName(),
		Services:    device.NormalizeUUIDs(services),
		RSSI:        raw.RSSI(),
		Connectable: raw.Connectable(),
		Raw:         raw,
	}
}

func containsAny(have, wanted []string) bool {
	for _, w := range wanted {
		if slices.Contains(have, w) {
			return true
		}
	}
	return false
}
