package testutils

import (
	"sync"
	"time"

	"github.com/srg/blecentral/internal/device"
)

// Notification kinds recorded by RecordingObserver.
const (
	KindDeviceFound  = "device_found"
	KindScanComplete = "scan_complete"
	KindConnected    = "connected"
	KindDisconnected = "disconnected"
	KindReady        = "ready"
)

// Recorded is one observed notification.
type Recorded struct {
	Kind   string
	Device device.Device
	Err    error
	At     time.Time
}

// RecordingObserver implements every session handler and keeps what it saw, in order.
type RecordingObserver struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []Recorded
}

func NewRecordingObserver() *RecordingObserver {
	o := &RecordingObserver{}
	o.cond = sync.NewCond(&o.mu)
	return o
}

func (o *RecordingObserver) add(r Recorded) {
	r.At = time.Now()
	o.mu.Lock()
	o.events = append(o.events, r)
	o.mu.Unlock()
	o.cond.Broadcast()
}

func (o *RecordingObserver) OnDeviceFound(dev device.Device) {
	o.add(Recorded{Kind: KindDeviceFound, Device: dev})
}

func (o *RecordingObserver) OnScanComplete() {
	o.add(Recorded{Kind: KindScanComplete})
}

func (o *RecordingObserver) OnConnected(dev device.Device, err error) {
	o.add(Recorded{Kind: KindConnected, Device: dev, Err: err})
}

func (o *RecordingObserver) OnDisconnected(dev device.Device, err error) {
	o.add(Recorded{Kind: KindDisconnected, Device: dev, Err: err})
}

func (o *RecordingObserver) OnReady() {
	o.add(Recorded{Kind: KindReady})
}

// Events returns a copy of everything recorded.
func (o *RecordingObserver) Events() []Recorded {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Recorded(nil), o.events...)
}

// Of returns the recorded notifications of one kind.
func (o *RecordingObserver) Of(kind string) []Recorded {
	var result []Recorded
	for _, e := range o.Events() {
		if e.Kind == kind {
			result = append(result, e)
		}
	}
	return result
}

func (o *RecordingObserver) Count(kind string) int {
	return len(o.Of(kind))
}

// Trace renders the notification sequence as "kind" or "kind:id" entries.
func (o *RecordingObserver) Trace() []string {
	events := o.Events()
	trace := make([]string, 0, len(events))
	for _, e := range events {
		if e.Device.ID != "" {
			trace = append(trace, e.Kind+":"+e.Device.ID)
		} else {
			trace = append(trace, e.Kind)
		}
	}
	return trace
}

// WaitFor blocks until at least n notifications of kind were recorded or
// timeout elapses. Reports whether the count was reached.
func (o *RecordingObserver) WaitFor(kind string, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, o.cond.Broadcast)
	defer timer.Stop()

	o.mu.Lock()
	defer o.mu.Unlock()
	for {
		count := 0
		for _, e := range o.events {
			if e.Kind == kind {
				count++
			}
		}
		if count >= n {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		o.cond.Wait()
	}
}

// Reset forgets everything recorded so far.
func (o *RecordingObserver) Reset() {
	o.mu.Lock()
	o.events = nil
	o.mu.Unlock()
}
