package main

import (
	"bytes"
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blecentral/internal/adapter"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/testutils"
)

// Test device addresses for consistent fake peripheral identification
const (
	TestDeviceAddress1 = "AA:01"
	TestDeviceAddress2 = "AA:02"
)

// scriptedAdapter answers every command synchronously: it powers on in
// Start, advertises its peripherals on StartScan and settles links at once.
type scriptedAdapter struct {
	*testutils.FakeAdapter

	state            device.AdapterState
	advs             []device.Advertisement
	connectErr       error
	dropAfterConnect bool
	// pendingConnect leaves the attempt unanswered and runs onConnect instead
	pendingConnect bool
	onConnect      func()
}

func (a *scriptedAdapter) Start(sink adapter.Sink) error {
	if err := a.FakeAdapter.Start(sink); err != nil {
		return err
	}
	a.SetPowerState(a.state)
	return nil
}

func (a *scriptedAdapter) StartScan(services []string) error {
	if err := a.FakeAdapter.StartScan(services); err != nil {
		return err
	}
	a.Advertise(a.advs...)
	return nil
}

func (a *scriptedAdapter) Connect(id string) error {
	if err := a.FakeAdapter.Connect(id); err != nil {
		return err
	}
	if a.pendingConnect {
		if a.onConnect != nil {
			a.onConnect()
		}
		return nil
	}
	a.ConnectResult(id, a.connectErr)
	if a.connectErr == nil && a.dropAfterConnect {
		a.DisconnectResult(id, adapter.ErrLinkLost)
	}
	return nil
}

func (a *scriptedAdapter) Disconnect(id string) error {
	if err := a.FakeAdapter.Disconnect(id); err != nil {
		return err
	}
	a.DisconnectResult(id, nil)
	return nil
}

// CommandTestSuite runs commands against a scriptedAdapter injected through adapter.New.
type CommandTestSuite struct {
	suite.Suite

	Helper  *testutils.TestHelper
	Adapter *scriptedAdapter
	Opts    adapter.Options
	Backend string

	originalNew func(string, adapter.Options, *logrus.Logger) (adapter.Adapter, error)
}

func (s *CommandTestSuite) SetupSuite() {
	s.Helper = testutils.NewTestHelper(s.T())
	s.originalNew = adapter.New
}

func (s *CommandTestSuite) TearDownSuite() {
	adapter.New = s.originalNew
}

func (s *CommandTestSuite) SetupTest() {
	s.Adapter = &scriptedAdapter{
		FakeAdapter: testutils.NewFakeAdapter(),
		state:       device.StatePoweredOn,
		advs: []device.Advertisement{
			testutils.CreateMockAdvertisement(TestDeviceAddress1, "Serial", device.SerialPortServiceUUID),
			testutils.CreateMockAdvertisement(TestDeviceAddress2, "Thermo", "180D"),
		},
	}
	adapter.New = func(name string, opts adapter.Options, _ *logrus.Logger) (adapter.Adapter, error) {
		s.Backend = name
		s.Opts = opts
		return s.Adapter, nil
	}
	resetFlags(rootCmd)
}

// resetFlags restores every flag of cmd and its subcommands to its default.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// ExecuteCommand runs the root command with args and returns stdout, stderr and the error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	return s.ExecuteCommandContext(context.Background(), args...)
}

// ExecuteCommandContext is ExecuteCommand with a caller-controlled context, standing in for Ctrl+C.
func (s *CommandTestSuite) ExecuteCommandContext(ctx context.Context, args ...string) (string, string, error) {
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}
