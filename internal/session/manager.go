// Package session implements the BLE central session manager: adapter
// readiness, timed filtered scans, and per-device connection lifecycles,
// reported to a single observer.
//
// All adapter events and public operations are serialized under one mutex.
// Adapter events are queued and handled by the session-loop goroutine;
// observer notifications are queued and delivered by the session-dispatch
// goroutine, so an observer may call back into the Manager freely.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/adapter"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/registry"
	"github.com/srg/blecentral/pkg/config"
)

// ErrClosed is returned by Initialize after Close.
var ErrClosed = errors.New("session manager closed")

// Manager is the session handle. Create it with New and make it live with Initialize.
type Manager struct {
	adapter adapter.Adapter
	catalog *device.Catalog
	logger  *logrus.Logger

	scanTimeout      time.Duration
	reportDuplicates bool

	mu         sync.Mutex
	started    bool
	closed     bool
	state      device.AdapterState
	readyFired bool
	registry   *registry.Registry
	scan       *scanSession
	generation uint64

	pending  *hashmap.Map[string, Command]
	counters counters

	inbox    *queue[adapter.Event]
	outbox   *queue[notification]
	observer atomic.Pointer[observerRef]

	cancel       context.CancelFunc
	loopDone     <-chan struct{}
	dispatchDone <-chan struct{}
}

// New creates a manager bound to a. A nil cfg means config.DefaultConfig().
func New(a adapter.Adapter, cfg *config.Config, logger *logrus.Logger) (*Manager, error) {
	if a == nil {
		return nil, errors.New("adapter is required")
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, fmt.Errorf("invalid service catalog: %w", err)
	}

	scanTimeout := cfg.ScanTimeout
	if scanTimeout <= 0 {
		scanTimeout = config.DefaultConfig().ScanTimeout
	}

	return &Manager{
		adapter:          a,
		catalog:          catalog,
		logger:           logger,
		scanTimeout:      scanTimeout,
		reportDuplicates: cfg.ReportDuplicates,
		state:            device.StateUnknown,
		registry:         registry.New(),
		pending:          hashmap.New[string, Command](),
		counters:         newCounters(),
		inbox:            newQueue[adapter.Event](),
		outbox:           newQueue[notification](),
	}, nil
}

// Initialize registers obs and, on the first call, starts the event loop and
// powers the adapter up. Later calls only replace the observer and return the
// same handle. A nil obs detaches the current observer.
func (m *Manager) Initialize(obs Observer) (*Manager, error) {
	m.setObserver(obs)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return m, ErrClosed
	}
	if m.started {
		return m, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.loopDone = groutine.Go(ctx, "session-loop", m.run)
	m.dispatchDone = groutine.Go(ctx, "session-dispatch", m.dispatch)
	m.started = true

	if err := m.adapter.Start(m.post); err != nil {
		m.counters.adapterFailures.Inc()
		m.logger.WithError(err).Error("Failed to start BLE adapter")
		return m, device.NewAdapterError("start", "", err)
	}

	m.logger.Debug("Session manager initialized")
	return m, nil
}

// Close stops any scan, stops the event goroutines and closes the adapter.
// Notifications already queued are still delivered.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.endScan("closed", true)
	started := m.started
	m.mu.Unlock()

	m.inbox.close()
	if started {
		m.cancel()
		<-m.loopDone
		<-m.dispatchDone
	}

	if err := m.adapter.Close(); err != nil {
		return device.NewAdapterError("close", "", err)
	}
	m.logger.Debug("Session manager closed")
	return nil
}

// Ready reports whether the adapter is powered on.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready()
}

func (m *Manager) ready() bool {
	return !m.closed && m.state == device.StatePoweredOn
}

// AdapterState returns the last power state reported by the adapter.
func (m *Manager) AdapterState() device.AdapterState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Devices returns every known device in discovery order.
func (m *Manager) Devices() []device.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.List()
}

// Device returns a snapshot of one known device.
func (m *Manager) Device(id string) (device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.registry.Get(id)
	if !ok {
		return device.Device{}, device.NewSessionError(device.KindNotFound, id, "")
	}
	return d, nil
}

// AcceptedServices returns the service UUIDs a scan with filter asks the adapter for.
// Nil means every service.
func (m *Manager) AcceptedServices(filter device.ServiceFilter) []string {
	return m.catalog.UUIDs(filter)
}

// Catalog returns the service catalog in use.
func (m *Manager) Catalog() *device.Catalog {
	return m.catalog
}

// Stats returns the current counters.
func (m *Manager) Stats() Stats {
	s := m.counters.snapshot()
	m.mu.Lock()
	s.KnownDevices = m.registry.Len()
	m.mu.Unlock()
	return s
}

func (m *Manager) setObserver(obs Observer) {
	if obs == nil {
		m.observer.Store(nil)
		return
	}
	m.observer.Store(&observerRef{obs: obs})
}

// post is the adapter sink.
func (m *Manager) post(ev adapter.Event) {
	if ev == nil {
		return
	}
	if !m.inbox.push(ev) {
		m.logger.WithField("event", ev.EventName()).Debug("Dropping adapter event after close")
	}
}

// emit queues a notification. Callers hold m.mu so notifications follow state order.
func (m *Manager) emit(n notification) {
	m.outbox.push(n)
}

func (m *Manager) run(ctx context.Context) {
	log := m.logger.WithField("goroutine", groutine.GetName(ctx))
	log.Debug("Event loop started")
	defer log.Debug("Event loop stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.inbox.ready():
			for _, ev := range m.inbox.drain() {
				m.handle(ev)
			}
		}
	}
}

func (m *Manager) dispatch(ctx context.Context) {
	log := m.logger.WithField("goroutine", groutine.GetName(ctx))
	for {
		select {
		case <-ctx.Done():
			// the loop has stopped producing; flush what is left
			for _, n := range m.outbox.drain() {
				m.deliver(log, n)
			}
			m.outbox.close()
			return
		case <-m.outbox.ready():
			for _, n := range m.outbox.drain() {
				m.deliver(log, n)
			}
		}
	}
}

func (m *Manager) deliver(log *logrus.Entry, n notification) {
	ref := m.observer.Load()
	if ref == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{
				"notification": n.name(),
				"panic":        r,
			}).Error("Observer handler panicked")
		}
	}()
	n.deliver(ref.obs)
}

func (m *Manager) handle(ev adapter.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	switch e := ev.(type) {
	case adapter.PowerStateChanged:
		m.handlePowerState(e.State)
	case adapter.AdvertisementReceived:
		m.handleAdvertisement(e.Advertisement)
	case adapter.ConnectionResult:
		m.handleConnectionResult(e.DeviceID, e.Err)
	case adapter.DisconnectionResult:
		m.handleDisconnectionResult(e.DeviceID, e.Err)
	case scanTimeout:
		m.handleScanTimeout(e.generation)
	default:
		m.logger.WithField("event", ev.EventName()).Warn("Ignoring unknown adapter event")
	}
}

func (m *Manager) handlePowerState(state device.AdapterState) {
	prev := m.state
	m.state = state
	if prev != state {
		m.logger.WithFields(logrus.Fields{
			"from": prev,
			"to":   state,
		}).Info("Adapter state changed")
	}

	if state == device.StatePoweredOn {
		if !m.readyFired {
			m.readyFired = true
			m.emit(readyNote{})
		}
		return
	}

	m.endScan("adapter "+state.String(), false)
	m.resetLinks(&device.AdapterError{Op: "power", Err: device.ErrPoweredOff})
}
