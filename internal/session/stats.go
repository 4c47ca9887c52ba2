package session

import "github.com/puzpuzpuz/xsync/v3"

// Stats is a point-in-time copy of the manager counters.
type Stats struct {
	ScansStarted      int64 `json:"scans_started"`
	ScansCompleted    int64 `json:"scans_completed"`
	Advertisements    int64 `json:"advertisements"`
	DevicesReported   int64 `json:"devices_reported"`
	ConnectsIssued    int64 `json:"connects_issued"`
	DisconnectsIssued int64 `json:"disconnects_issued"`
	AdapterFailures   int64 `json:"adapter_failures"`
	KnownDevices      int   `json:"known_devices"`
}

type counters struct {
	scansStarted      *xsync.Counter
	scansCompleted    *xsync.Counter
	advertisements    *xsync.Counter
	devicesReported   *xsync.Counter
	connectsIssued    *xsync.Counter
	disconnectsIssued *xsync.Counter
	adapterFailures   *xsync.Counter
}

func newCounters() counters {
	return counters{
		scansStarted:      xsync.NewCounter(),
		scansCompleted:    xsync.NewCounter(),
		advertisements:    xsync.NewCounter(),
		devicesReported:   xsync.NewCounter(),
		connectsIssued:    xsync.NewCounter(),
		disconnectsIssued: xsync.NewCounter(),
		adapterFailures:   xsync.NewCounter(),
	}
}

func (c counters) snapshot() Stats {
	return Stats{
		ScansStarted:      c.scansStarted.Value(),
		ScansCompleted:    c.scansCompleted.Value(),
		Advertisements:    c.advertisements.Value(),
		DevicesReported:   c.devicesReported.Value(),
		ConnectsIssued:    c.connectsIssued.Value(),
		DisconnectsIssued: c.disconnectsIssued.Value(),
		AdapterFailures:   c.adapterFailures.Value(),
	}
}
