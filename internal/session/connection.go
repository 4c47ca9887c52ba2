package session

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/device"
)

// Command is an adapter command awaiting its outcome.
type Command string

const (
	CommandConnect    Command = "connect"
	CommandDisconnect Command = "disconnect"
)

// Connect asks the adapter to open a link to a known device. The outcome is
// reported through OnConnected.
func (m *Manager) Connect(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ready() {
		return device.ErrNotReady
	}
	state, ok := m.registry.State(id)
	if !ok {
		return device.NewSessionError(device.KindNotFound, id, "")
	}
	switch state {
	case device.Connecting, device.Disconnecting:
		return device.NewSessionError(device.KindAlreadyInProgress, id, "state %s", state)
	case device.Connected:
		return device.NewSessionError(device.KindAlreadyConnected, id, "")
	}

	m.registry.SetState(id, device.Connecting)
	m.pending.Set(id, CommandConnect)

	if err := m.adapter.Connect(id); err != nil {
		m.registry.SetState(id, state)
		m.pending.Del(id)
		m.counters.adapterFailures.Inc()
		m.logger.WithError(err).WithField("device", id).Error("Adapter rejected connect")
		return device.NewAdapterError("connect", id, err)
	}

	m.counters.connectsIssued.Inc()
	m.logger.WithField("device", id).Info("Connecting to BLE device...")
	return nil
}

// Disconnect closes a link, or aborts one still being established. The
// outcome is reported through OnDisconnected.
func (m *Manager) Disconnect(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnect(id)
}

// DisconnectAll disconnects every connected or connecting device, in
// discovery order. Individual failures do not stop the sweep.
func (m *Manager) DisconnectAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ready() {
		return device.ErrNotReady
	}

	var errs []error
	for _, id := range m.registry.IDsInState(device.Connected, device.Connecting) {
		if err := m.disconnect(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) disconnect(id string) error {
	if !m.ready() {
		return device.ErrNotReady
	}
	state, ok := m.registry.State(id)
	if !ok {
		return device.NewSessionError(device.KindNotFound, id, "")
	}
	if state != device.Connected && state != device.Connecting {
		return device.NewSessionError(device.KindNotConnected, id, "state %s", state)
	}

	m.registry.SetState(id, device.Disconnecting)
	prevCmd, _ := m.pending.Get(id)
	m.pending.Set(id, CommandDisconnect)

	if err := m.adapter.Disconnect(id); err != nil {
		m.registry.SetState(id, state)
		if prevCmd != "" {
			m.pending.Set(id, prevCmd)
		} else {
			m.pending.Del(id)
		}
		m.counters.adapterFailures.Inc()
		m.logger.WithError(err).WithField("device", id).Error("Adapter rejected disconnect")
		return device.NewAdapterError("disconnect", id, err)
	}

	m.counters.disconnectsIssued.Inc()
	m.logger.WithFields(logrus.Fields{
		"device": id,
		"from":   state,
	}).Info("Disconnecting BLE device...")
	return nil
}

// Pending returns the command awaiting an adapter outcome for id, if any.
func (m *Manager) Pending(id string) (Command, bool) {
	return m.pending.Get(id)
}

func (m *Manager) handleConnectionResult(id string, err error) {
	state, ok := m.registry.State(id)
	if !ok {
		m.logger.WithField("device", id).Debug("Ignoring connection result for unknown device")
		return
	}
	if state != device.Connecting {
		m.logger.WithFields(logrus.Fields{
			"device": id,
			"state":  state,
		}).Debug("Ignoring connection result outside connecting state")
		return
	}

	m.pending.Del(id)
	if err != nil {
		m.registry.SetState(id, device.Disconnected)
		m.counters.adapterFailures.Inc()
		dev, _ := m.registry.Get(id)
		m.emit(connectedNote{dev: dev, err: device.NewAdapterError("connect", id, err)})
		m.logger.WithError(err).WithField("device", id).Warn("BLE connection failed")
		return
	}

	m.registry.SetState(id, device.Connected)
	dev, _ := m.registry.Get(id)
	m.emit(connectedNote{dev: dev})
	m.logger.WithField("device", id).Info("BLE device connected")
}

func (m *Manager) handleDisconnectionResult(id string, err error) {
	prev, ok := m.registry.SetState(id, device.Disconnected)
	if !ok {
		m.logger.WithField("device", id).Debug("Ignoring disconnection result for unknown device")
		return
	}
	m.pending.Del(id)
	if prev == device.Disconnected {
		return
	}

	dev, _ := m.registry.Get(id)
	m.emit(disconnectedNote{dev: dev, err: device.NewAdapterError("disconnect", id, err)})

	entry := m.logger.WithFields(logrus.Fields{
		"device": id,
		"from":   prev,
	})
	if err != nil {
		entry.WithError(err).Warn("BLE device disconnected with error")
	} else {
		entry.Info("BLE device disconnected")
	}
}

// resetLinks drops every live or pending link after a power loss.
func (m *Manager) resetLinks(cause *device.AdapterError) {
	for _, id := range m.registry.IDsInState(device.Connected, device.Connecting, device.Disconnecting) {
		m.registry.SetState(id, device.Disconnected)
		m.pending.Del(id)

		dev, _ := m.registry.Get(id)
		m.emit(disconnectedNote{dev: dev, err: &device.AdapterError{Op: cause.Op, DeviceID: id, Err: cause.Err}})
		m.logger.WithField("device", id).Warn("BLE link lost with adapter power")
	}
}
