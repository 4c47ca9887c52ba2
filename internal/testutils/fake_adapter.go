package testutils

import (
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/srg/blecentral/internal/adapter"
	"github.com/srg/blecentral/internal/device"
)

// FakeAdapter is a scriptable adapter.Adapter. Every command is recorded on the
// embedded mock, so tests assert with AssertCalled / AssertNumberOfCalls, and
// returns the error set with Fail (nil otherwise).
type FakeAdapter struct {
	mock.Mock

	mu       sync.Mutex
	sink     adapter.Sink
	failures map[string]error
	commands []string
}

var _ adapter.Adapter = (*FakeAdapter)(nil)

// NewFakeAdapter creates an adapter accepting every command.
func NewFakeAdapter() *FakeAdapter {
	f := &FakeAdapter{failures: make(map[string]error)}
	f.On("Start").Return(nil).Maybe()
	f.On("StartScan", mock.Anything).Return(nil).Maybe()
	f.On("StopScan").Return(nil).Maybe()
	f.On("Connect", mock.Anything).Return(nil).Maybe()
	f.On("Disconnect", mock.Anything).Return(nil).Maybe()
	f.On("Close").Return(nil).Maybe()
	return f
}

// Fail makes method return err synchronously until cleared with Fail(method, nil).
func (f *FakeAdapter) Fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, method)
		return
	}
	f.failures[method] = err
}

func (f *FakeAdapter) record(method, arg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if arg != "" {
		method += " " + arg
	}
	f.commands = append(f.commands, method)
}

func (f *FakeAdapter) failure(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures[method]
}

func (f *FakeAdapter) Start(sink adapter.Sink) error {
	f.Called()
	f.mu.Lock()
	f.sink = sink
	f.mu.Unlock()
	f.record("Start", "")
	return f.failure("Start")
}

func (f *FakeAdapter) StartScan(services []string) error {
	f.Called(services)
	f.record("StartScan", "")
	return f.failure("StartScan")
}

func (f *FakeAdapter) StopScan() error {
	f.Called()
	f.record("StopScan", "")
	return f.failure("StopScan")
}

func (f *FakeAdapter) Connect(id string) error {
	f.Called(id)
	f.record("Connect", id)
	return f.failure("Connect")
}

func (f *FakeAdapter) Disconnect(id string) error {
	f.Called(id)
	f.record("Disconnect", id)
	return f.failure("Disconnect")
}

func (f *FakeAdapter) Close() error {
	f.Called()
	f.record("Close", "")
	return f.failure("Close")
}

// Commands returns every command received so far, in order, as "Method [id]".
func (f *FakeAdapter) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// Emit posts ev to the sink handed over in Start. It panics before Start.
func (f *FakeAdapter) Emit(ev adapter.Event) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	if sink == nil {
		panic("FakeAdapter: Emit before Start")
	}
	sink(ev)
}

func (f *FakeAdapter) SetPowerState(state device.AdapterState) {
	f.Emit(adapter.PowerStateChanged{State: state})
}

func (f *FakeAdapter) PowerOn() {
	f.SetPowerState(device.StatePoweredOn)
}

func (f *FakeAdapter) Advertise(advs ...device.Advertisement) {
	for _, adv := range advs {
		f.Emit(adapter.AdvertisementReceived{Advertisement: adv})
	}
}

func (f *FakeAdapter) ConnectResult(id string, err error) {
	f.Emit(adapter.ConnectionResult{DeviceID: id, Err: err})
}

func (f *FakeAdapter) DisconnectResult(id string, err error) {
	f.Emit(adapter.DisconnectionResult{DeviceID: id, Err: err})
}
