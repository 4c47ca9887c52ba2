package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/session"
	"github.com/srg/blecentral/pkg/config"
)

// SessionSuite provides a live session.Manager wired to a FakeAdapter and a
// RecordingObserver.
//
// Basic usage:
//
//	type ScanSuite struct {
//	    testutils.SessionSuite
//	}
//
//	func (s *ScanSuite) SetupTest() {
//	    s.Config = config.DefaultConfig()
//	    s.Config.ReportDuplicates = false // customize first
//
//	    s.SessionSuite.SetupTest() // Call parent last to apply configuration
//	    s.PowerOn()
//	}
type SessionSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	// Config is used by the next SetupTest; nil means defaults.
	Config *config.Config
	// Timeout bounds every wait on asynchronous notifications.
	Timeout time.Duration

	Adapter  *FakeAdapter
	Observer *RecordingObserver
	Manager  *session.Manager
}

// SetupSuite is called once before all tests in the suite.
func (s *SessionSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.Timeout = 2 * time.Second
}

// SetupTest creates a fresh adapter, observer and initialized manager.
func (s *SessionSuite) SetupTest() {
	cfg := s.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	s.Adapter = NewFakeAdapter()
	s.Observer = NewRecordingObserver()

	m, err := session.New(s.Adapter, cfg, s.Logger)
	s.Require().NoError(err, "manager MUST be created")

	s.Manager, err = m.Initialize(s.Observer)
	s.Require().NoError(err, "manager MUST initialize")
	s.Require().Same(m, s.Manager, "initialize MUST return the same handle")
}

// TearDownTest closes the manager and resets per-test configuration.
func (s *SessionSuite) TearDownTest() {
	if s.Manager != nil {
		s.NoError(s.Manager.Close())
	}
	s.Config = nil
}

// PowerOn reports PoweredOn and waits until the manager is ready.
func (s *SessionSuite) PowerOn() {
	s.Adapter.PowerOn()
	s.Require().Eventually(s.Manager.Ready, s.Timeout, time.Millisecond, "manager MUST become ready")
}

// WaitFor waits until the observer has seen n notifications of kind.
func (s *SessionSuite) WaitFor(kind string, n int) {
	s.Require().True(s.Observer.WaitFor(kind, n, s.Timeout),
		"observer MUST receive %d %s notification(s), got trace %v", n, kind, s.Observer.Trace())
}

// Discover starts a scan with filter, advertises advs and waits until each is reported.
func (s *SessionSuite) Discover(filter device.ServiceFilter, advs ...device.Advertisement) {
	s.Require().NoError(s.Manager.StartScan(time.Minute, filter))
	before := s.Observer.Count(KindDeviceFound)
	s.Adapter.Advertise(advs...)
	s.WaitFor(KindDeviceFound, before+len(advs))
}

// WaitAdvertisements waits until the event loop has handled n advertisements,
// matching or not.
func (s *SessionSuite) WaitAdvertisements(n int64) {
	s.Require().Eventually(func() bool {
		return s.Manager.Stats().Advertisements >= n
	}, s.Timeout, time.Millisecond, "event loop MUST handle %d advertisement(s)", n)
}

// RequireState asserts the connection state of a known device, waiting for
// asynchronous transitions.
func (s *SessionSuite) RequireState(id string, want device.ConnectionState) {
	s.Require().Eventually(func() bool {
		d, err := s.Manager.Device(id)
		return err == nil && d.State == want
	}, s.Timeout, time.Millisecond, "device %s MUST reach state %s", id, want)
}
