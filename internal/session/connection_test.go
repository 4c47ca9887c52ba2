package session_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/session"
	"github.com/srg/blecentral/internal/testutils"
)

var errRadio = errors.New("radio busy")

type ConnectionTestSuite struct {
	testutils.SessionSuite
}

func (s *ConnectionTestSuite) SetupTest() {
	s.SessionSuite.SetupTest()
	s.PowerOn()
	s.Discover(device.ServiceAll,
		testutils.CreateMockAdvertisement("A", "Alpha"),
		testutils.CreateMockAdvertisement("B", "Bravo"),
		testutils.CreateMockAdvertisement("C", "Charlie"),
	)
	s.Require().NoError(s.Manager.StopScan())
	s.WaitFor(testutils.KindScanComplete, 1)
	s.Observer.Reset()
}

// connect drives id to Connected and waits for the notification.
func (s *ConnectionTestSuite) connect(id string) {
	before := s.Observer.Count(testutils.KindConnected)
	s.Require().NoError(s.Manager.Connect(id))
	s.Adapter.ConnectResult(id, nil)
	s.WaitFor(testutils.KindConnected, before+1)
	s.RequireState(id, device.Connected)
}

// GOAL: Verify a successful connect and the duplicate connect that follows
//
// TEST SCENARIO: connect(A) → adapter success → OnConnected(A, nil) → connect(A) again → AlreadyConnected
func (s *ConnectionTestSuite) TestConnectSuccess() {
	s.Require().NoError(s.Manager.Connect("A"))

	dev, err := s.Manager.Device("A")
	s.Require().NoError(err)
	s.Equal(device.Connecting, dev.State, "connect MUST move the device to connecting")
	cmd, ok := s.Manager.Pending("A")
	s.True(ok)
	s.Equal(session.CommandConnect, cmd)

	s.Adapter.ConnectResult("A", nil)
	s.WaitFor(testutils.KindConnected, 1)

	rec := s.Observer.Of(testutils.KindConnected)[0]
	s.Equal("A", rec.Device.ID)
	s.Equal(device.Connected, rec.Device.State, "notification MUST carry the post-transition state")
	s.NoError(rec.Err)
	s.RequireState("A", device.Connected)

	_, ok = s.Manager.Pending("A")
	s.False(ok, "a completed command MUST leave the pending table")

	s.ErrorIs(s.Manager.Connect("A"), device.ErrAlreadyConnected)
	s.Adapter.AssertNumberOfCalls(s.T(), "Connect", 1)
}

// GOAL: Verify a connect request is rejected while a connection attempt is in flight
//
// TEST SCENARIO: connect(A) twice before any result → AlreadyInProgress, single adapter command
func (s *ConnectionTestSuite) TestConnectWhileConnecting() {
	s.Require().NoError(s.Manager.Connect("A"))

	err := s.Manager.Connect("A")

	s.ErrorIs(err, device.ErrAlreadyInProgress)
	var serr *device.SessionError
	s.Require().ErrorAs(err, &serr)
	s.Equal("A", serr.DeviceID)
	s.Adapter.AssertNumberOfCalls(s.T(), "Connect", 1)
	s.RequireState("A", device.Connecting)
}

func (s *ConnectionTestSuite) TestConnectWhileDisconnecting() {
	s.connect("A")
	s.Require().NoError(s.Manager.Disconnect("A"))

	s.ErrorIs(s.Manager.Connect("A"), device.ErrAlreadyInProgress)
	s.Adapter.AssertNumberOfCalls(s.T(), "Connect", 1)
}

func (s *ConnectionTestSuite) TestConnectUnknownDevice() {
	s.ErrorIs(s.Manager.Connect("Z"), device.ErrNotFound)
	s.ErrorIs(s.Manager.Disconnect("Z"), device.ErrNotFound)
	s.Adapter.AssertNotCalled(s.T(), "Connect", "Z")
}

// GOAL: Verify a failed connection attempt returns the device to disconnected and allows a retry
//
// TEST SCENARIO: connect(A) → adapter reports failure → OnConnected(A, err) and Disconnected → connect again succeeds
func (s *ConnectionTestSuite) TestConnectFailure() {
	s.Require().NoError(s.Manager.Connect("A"))
	s.Adapter.ConnectResult("A", errRadio)
	s.WaitFor(testutils.KindConnected, 1)

	rec := s.Observer.Of(testutils.KindConnected)[0]
	s.ErrorIs(rec.Err, errRadio, "the adapter cause MUST be preserved")
	var aerr *device.AdapterError
	s.Require().ErrorAs(rec.Err, &aerr)
	s.Equal("connect", aerr.Op)
	s.Equal("A", aerr.DeviceID)
	s.Equal(device.Disconnected, rec.Device.State)
	s.RequireState("A", device.Disconnected)

	s.NoError(s.Manager.Connect("A"), "a failed attempt MUST allow a retry")
}

// GOAL: Verify a synchronous adapter rejection leaves no trace of the attempt
//
// TEST SCENARIO: adapter fails Connect → AdapterError returned, state back to disconnected, no notification
func (s *ConnectionTestSuite) TestConnectRejectedByAdapter() {
	s.Adapter.Fail("Connect", errRadio)

	err := s.Manager.Connect("A")

	var aerr *device.AdapterError
	s.Require().ErrorAs(err, &aerr)
	s.Equal("connect", aerr.Op)
	s.ErrorIs(err, errRadio)

	dev, _ := s.Manager.Device("A")
	s.Equal(device.Disconnected, dev.State, "rejected connect MUST restore the previous state")
	_, ok := s.Manager.Pending("A")
	s.False(ok)

	s.Adapter.Fail("Connect", nil)
	s.NoError(s.Manager.Connect("A"))
	s.Equal(0, s.Observer.Count(testutils.KindConnected))
}

// GOAL: Verify every disconnection result lands the device in disconnected
//
// TEST SCENARIO: disconnect result with and without an error → Disconnected and OnDisconnected each time
func (s *ConnectionTestSuite) TestDisconnectResultAlwaysDisconnects() {
	tests := []struct {
		name string
		id   string
		err  error
	}{
		{name: "clean", id: "A"},
		{name: "with error", id: "B", err: errRadio},
	}

	for i, tt := range tests {
		s.Run(tt.name, func() {
			s.connect(tt.id)
			s.Require().NoError(s.Manager.Disconnect(tt.id))
			s.RequireState(tt.id, device.Disconnecting)
			cmd, _ := s.Manager.Pending(tt.id)
			s.Equal(session.CommandDisconnect, cmd)

			s.Adapter.DisconnectResult(tt.id, tt.err)
			s.WaitFor(testutils.KindDisconnected, i+1)
			s.RequireState(tt.id, device.Disconnected)

			rec := s.Observer.Of(testutils.KindDisconnected)[i]
			s.Equal(tt.id, rec.Device.ID)
			if tt.err == nil {
				s.NoError(rec.Err)
			} else {
				s.ErrorIs(rec.Err, tt.err)
			}
			_, ok := s.Manager.Pending(tt.id)
			s.False(ok)
		})
	}
}

// GOAL: Verify a link dropped by the peer is reported without a request
//
// TEST SCENARIO: A connected → adapter reports unsolicited loss → OnDisconnected(A, err)
func (s *ConnectionTestSuite) TestUnsolicitedLinkLoss() {
	s.connect("A")

	s.Adapter.DisconnectResult("A", errRadio)
	s.WaitFor(testutils.KindDisconnected, 1)

	s.RequireState("A", device.Disconnected)
	s.Adapter.AssertNumberOfCalls(s.T(), "Disconnect", 0)
}

func (s *ConnectionTestSuite) TestRepeatedDisconnectResultIgnored() {
	s.connect("A")
	s.Adapter.DisconnectResult("A", nil)
	s.Adapter.DisconnectResult("A", nil)
	s.Adapter.DisconnectResult("C", nil)
	s.WaitFor(testutils.KindDisconnected, 1)

	time.Sleep(50 * time.Millisecond)
	s.Equal(1, s.Observer.Count(testutils.KindDisconnected), "an already disconnected device MUST NOT be reported again")
}

// GOAL: Verify disconnect during an attempt aborts it
//
// TEST SCENARIO: connect(A) → disconnect(A) → late success ignored → disconnect result → Disconnected
func (s *ConnectionTestSuite) TestDisconnectAbortsConnectingDevice() {
	s.Require().NoError(s.Manager.Connect("A"))
	s.Require().NoError(s.Manager.Disconnect("A"))
	s.RequireState("A", device.Disconnecting)

	s.Adapter.ConnectResult("A", nil)
	s.Adapter.DisconnectResult("A", nil)
	s.WaitFor(testutils.KindDisconnected, 1)

	s.RequireState("A", device.Disconnected)
	s.Equal(0, s.Observer.Count(testutils.KindConnected), "a result for an aborted attempt MUST be ignored")
}

func (s *ConnectionTestSuite) TestDisconnectNotConnected() {
	s.Run("disconnected device", func() {
		s.ErrorIs(s.Manager.Disconnect("A"), device.ErrNotConnected)
	})

	s.Run("device already disconnecting", func() {
		s.connect("B")
		s.Require().NoError(s.Manager.Disconnect("B"))
		s.ErrorIs(s.Manager.Disconnect("B"), device.ErrNotConnected)
		s.Adapter.AssertNumberOfCalls(s.T(), "Disconnect", 1)
	})
}

func (s *ConnectionTestSuite) TestDisconnectRejectedByAdapter() {
	s.Require().NoError(s.Manager.Connect("A"))
	s.Adapter.Fail("Disconnect", errRadio)

	err := s.Manager.Disconnect("A")

	s.ErrorIs(err, errRadio)
	s.RequireState("A", device.Connecting)
	cmd, ok := s.Manager.Pending("A")
	s.True(ok)
	s.Equal(session.CommandConnect, cmd, "rejected disconnect MUST restore the pending connect")
}

// GOAL: Verify DisconnectAll targets only live or in-flight links
//
// TEST SCENARIO: A connected, B connecting, C disconnected → disconnect commands for A and B only
func (s *ConnectionTestSuite) TestDisconnectAll() {
	s.connect("A")
	s.Require().NoError(s.Manager.Connect("B"))

	s.Require().NoError(s.Manager.DisconnectAll())

	s.Adapter.AssertCalled(s.T(), "Disconnect", "A")
	s.Adapter.AssertCalled(s.T(), "Disconnect", "B")
	s.Adapter.AssertNotCalled(s.T(), "Disconnect", "C")
	s.RequireState("A", device.Disconnecting)
	s.RequireState("B", device.Disconnecting)
	s.RequireState("C", device.Disconnected)

	s.Run("collects individual failures", func() {
		s.Adapter.DisconnectResult("A", nil)
		s.Adapter.DisconnectResult("B", nil)
		s.RequireState("B", device.Disconnected)
		s.connect("A")
		s.connect("B")
		s.Adapter.Fail("Disconnect", errRadio)

		err := s.Manager.DisconnectAll()

		s.ErrorIs(err, errRadio)
		s.RequireState("A", device.Connected)
		s.RequireState("B", device.Connected)
	})
}

// GOAL: Verify commands are refused while the adapter is not powered on
//
// TEST SCENARIO: adapter PoweredOff → connect(A) → NotReady, no adapter command, no notification
func (s *ConnectionTestSuite) TestConnectWhilePoweredOff() {
	s.Adapter.SetPowerState(device.StatePoweredOff)
	s.Require().Eventually(func() bool {
		return s.Manager.AdapterState() == device.StatePoweredOff
	}, s.Timeout, time.Millisecond)

	s.ErrorIs(s.Manager.Connect("A"), device.ErrNotReady)
	s.ErrorIs(s.Manager.Disconnect("A"), device.ErrNotReady)
	s.ErrorIs(s.Manager.DisconnectAll(), device.ErrNotReady)

	s.Adapter.AssertNumberOfCalls(s.T(), "Connect", 0)
	time.Sleep(50 * time.Millisecond)
	s.Empty(s.Observer.Events(), "a refused command MUST NOT notify")
}

// GOAL: Verify losing adapter power tears down the scan and every link
//
// TEST SCENARIO: A connected, B connecting, scan active → PoweredOff → one completion and two disconnections
func (s *ConnectionTestSuite) TestPowerLossTearsDown() {
	s.connect("A")
	s.Require().NoError(s.Manager.Connect("B"))
	s.Require().NoError(s.Manager.StartScan(time.Minute, device.ServiceAll))
	stopsBefore := len(s.Adapter.Commands())

	s.Adapter.SetPowerState(device.StatePoweredOff)
	s.WaitFor(testutils.KindDisconnected, 2)
	s.WaitFor(testutils.KindScanComplete, 1)

	s.False(s.Manager.Scanning())
	s.RequireState("A", device.Disconnected)
	s.RequireState("B", device.Disconnected)
	s.Len(s.Adapter.Commands(), stopsBefore, "no adapter command MUST follow a power loss")

	for _, rec := range s.Observer.Of(testutils.KindDisconnected) {
		s.ErrorIs(rec.Err, device.ErrPoweredOff)
		var aerr *device.AdapterError
		s.Require().ErrorAs(rec.Err, &aerr)
		s.Equal(rec.Device.ID, aerr.DeviceID)
	}

	s.Run("power back does not repeat ready", func() {
		s.PowerOn()
		time.Sleep(50 * time.Millisecond)
		s.Equal(0, s.Observer.Count(testutils.KindReady), "ready MUST fire once per manager")
	})
}

func TestConnectionTestSuite(t *testing.T) {
	suite.Run(t, new(ConnectionTestSuite))
}
