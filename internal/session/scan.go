package session

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/device"
)

// scanSession is the state of one active discovery run.
type scanSession struct {
	filter     device.ServiceFilter
	started    time.Time
	timeout    time.Duration
	generation uint64
	timer      *time.Timer
	// reported holds identifiers already reported in this session.
	reported map[string]struct{}
}

// scanTimeout is posted by the session timer into the event loop.
type scanTimeout struct {
	generation uint64
}

func (scanTimeout) EventName() string { return "scan_timeout" }

// StartScan begins a discovery session reporting devices that advertise a
// service in filter. A non-positive timeout uses the configured default.
// An active session is completed first.
func (m *Manager) StartScan(timeout time.Duration, filter device.ServiceFilter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ready() {
		return device.ErrNotReady
	}
	if filter == device.ServiceNone {
		return device.NewSessionError(device.KindInvalidFilter, "", "filter %s matches nothing", filter)
	}
	if timeout <= 0 {
		timeout = m.scanTimeout
	}

	if filter != device.ServiceAll && filter&m.catalog.Registered() == 0 {
		m.logger.WithField("filter", filter).Warn("Scan filter selects no registered service; no device will be reported")
	}

	m.endScan("superseded", true)

	if err := m.adapter.StartScan(m.catalog.UUIDs(filter)); err != nil {
		m.counters.adapterFailures.Inc()
		m.logger.WithError(err).WithField("filter", filter).Error("Adapter rejected scan")
		return device.NewAdapterError("scan", "", err)
	}

	m.generation++
	gen := m.generation
	m.scan = &scanSession{
		filter:     filter,
		started:    time.Now(),
		timeout:    timeout,
		generation: gen,
		reported:   make(map[string]struct{}),
		timer: time.AfterFunc(timeout, func() {
			m.post(scanTimeout{generation: gen})
		}),
	}
	m.counters.scansStarted.Inc()

	m.logger.WithFields(logrus.Fields{
		"filter":     filter,
		"timeout":    timeout,
		"generation": gen,
	}).Info("BLE scan started")
	return nil
}

// StopScan completes the active session. Without one it does nothing.
func (m *Manager) StopScan() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.endScan("stopped", true)
	return nil
}

// Scanning reports whether a discovery session is active.
func (m *Manager) Scanning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scan != nil
}

// endScan tears the active session down and queues its single completion.
// The adapter stop command is skipped when the radio already went away.
func (m *Manager) endScan(reason string, stopAdapter bool) {
	s := m.scan
	if s == nil {
		return
	}
	m.scan = nil
	s.timer.Stop()

	if stopAdapter {
		if err := m.adapter.StopScan(); err != nil {
			m.counters.adapterFailures.Inc()
			m.logger.WithError(err).WithField("generation", s.generation).Warn("Failed to stop adapter scan")
		}
	}

	m.counters.scansCompleted.Inc()
	m.emit(scanCompleteNote{})

	m.logger.WithFields(logrus.Fields{
		"reason":     reason,
		"generation": s.generation,
		"elapsed":    time.Since(s.started).Round(time.Millisecond),
		"reported":   len(s.reported),
	}).Info("BLE scan completed")
}

func (m *Manager) handleScanTimeout(generation uint64) {
	if m.scan == nil || m.scan.generation != generation {
		m.logger.WithField("generation", generation).Debug("Ignoring stale scan timeout")
		return
	}
	m.endScan("timeout", true)
}

func (m *Manager) handleAdvertisement(adv device.Advertisement) {
	m.counters.advertisements.Inc()
	s := m.scan
	if s == nil {
		m.logger.WithField("device", adv.DeviceID).Debug("Dropping advertisement outside a scan session")
		return
	}
	if adv.DeviceID == "" {
		return
	}

	mask := m.catalog.Resolve(adv.Services)
	if !s.filter.Matches(mask) {
		m.logger.WithFields(logrus.Fields{
			"device":   adv.DeviceID,
			"services": adv.Services,
			"filter":   s.filter,
		}).Debug("Advertisement does not match filter")
		return
	}

	res := m.registry.Upsert(adv, mask, time.Now())
	_, seen := s.reported[adv.DeviceID]
	if !m.reportDuplicates && seen && !res.ServicesChanged {
		return
	}
	s.reported[adv.DeviceID] = struct{}{}

	m.counters.devicesReported.Inc()
	m.emit(deviceFoundNote{dev: res.Device})

	entry := m.logger.WithFields(logrus.Fields{
		"device": res.Device.ID,
		"name":   res.Device.Name,
		"rssi":   res.Device.RSSI,
	})
	if res.Created {
		entry.Info("Discovered BLE device")
	} else {
		entry.Debug("Device re-advertised")
	}
}
