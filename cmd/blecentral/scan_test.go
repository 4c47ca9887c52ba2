package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/testutils"
)

type ScanCommandTestSuite struct {
	CommandTestSuite
}

// TestTableOutput verifies the default table lists devices in discovery order
// GOAL: Ensure both advertised peripherals appear with truncated service columns
//
// TEST SCENARIO: Scan with filter "all" → two rows rendered → long UUID truncated to 30 chars
func (s *ScanCommandTestSuite) TestTableOutput() {
	stdout, _, err := s.ExecuteCommand("scan", "--duration", "50ms", "--filter", "all")
	s.Require().NoError(err)

	s.text().Assert(stdout, `
NAME    ADDRESS  RSSI     SERVICES                        STATE
Serial  AA:01    -60 dBm  da2b84f1627948debdc0afbea02...  disconnected
Thermo  AA:02    -60 dBm  180d                            disconnected
`)
	s.Equal("goble", s.Backend, "default backend MUST be goble")
	s.Equal([]string{"Start", "StartScan", "StopScan", "Close"}, s.Adapter.Commands(),
		"timed scan MUST stop the adapter scan when the window closes")
}

// TestServiceFilter verifies named filters drop non-matching advertisements
// GOAL: Ensure only serial port peripherals are listed with --filter serial
//
// TEST SCENARIO: Scan with filter "serial" → only the serial device is shown
func (s *ScanCommandTestSuite) TestServiceFilter() {
	stdout, _, err := s.ExecuteCommand("scan", "-d", "50ms", "--filter", "serial")
	s.Require().NoError(err)

	s.text().Assert(stdout, `
NAME    ADDRESS  RSSI     SERVICES                        STATE
Serial  AA:01    -60 dBm  da2b84f1627948debdc0afbea02...  disconnected
`)
}

// TestJSONOutput verifies --format json renders the registry snapshot
// GOAL: Ensure JSON output carries identifiers, names, normalized services and states
//
// TEST SCENARIO: Scan with --format json → array with all three devices in discovery order
func (s *ScanCommandTestSuite) TestJSONOutput() {
	s.Adapter.advs = append(s.Adapter.advs,
		testutils.NewAdvertisementBuilder().WithAddress("AA:03").WithRSSI(-91).WithConnectable(false).Build())

	stdout, _, err := s.ExecuteCommand("scan", "-d", "50ms", "--format", "json")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(stdout, `[
		{"id": "AA:01", "name": "Serial", "rssi": -60, "services": ["da2b84f1627948debdc0afbea0226079"], "connectable": true, "state": "disconnected"},
		{"id": "AA:02", "name": "Thermo", "rssi": -60, "services": ["180d"], "connectable": true, "state": "disconnected"},
		{"id": "AA:03", "rssi": -91, "connectable": false, "state": "disconnected"}
	]`)
}

// TestConfigFile verifies catalog extensions and output format come from the config file
// GOAL: Ensure a service registered in YAML can be selected by name and is handed to the backend
//
// TEST SCENARIO: Config with heart-rate at bit 1 and json output → filter heart-rate → only Thermo listed
func (s *ScanCommandTestSuite) TestConfigFile() {
	path := filepath.Join(s.T().TempDir(), "blecentral.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(`
output_format: json
backend: tinygo
services:
  - name: heart-rate
    bit: 1
    uuid: "180D"
`), 0o600))

	stdout, _, err := s.ExecuteCommand("scan", "--config", path, "-d", "50ms", "--filter", "heart-rate")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(stdout, `[{"id": "AA:02", "name": "Thermo", "services": ["180d"]}]`)
	s.Equal("tinygo", s.Backend, "backend MUST come from the config file")
	s.Equal([]string{"da2b84f1627948debdc0afbea0226079", "180d"}, s.Opts.Services,
		"backend MUST receive every catalog service UUID")
}

// TestBackendFlagOverridesConfig verifies --backend wins over the config file
func (s *ScanCommandTestSuite) TestBackendFlagOverridesConfig() {
	path := filepath.Join(s.T().TempDir(), "blecentral.yaml")
	s.Require().NoError(os.WriteFile(path, []byte("backend: tinygo\n"), 0o600))

	_, _, err := s.ExecuteCommand("scan", "--config", path, "--backend", "gatt", "-d", "50ms")
	s.Require().NoError(err)
	s.Equal("gatt", s.Backend)
}

// TestNoDevices verifies the empty registry message
func (s *ScanCommandTestSuite) TestNoDevices() {
	s.Adapter.advs = nil

	stdout, _, err := s.ExecuteCommand("scan", "-d", "50ms")
	s.Require().NoError(err)
	s.Equal("No devices discovered\n", stdout)
}

// TestInvalidArguments verifies bad flags are rejected before the adapter is touched
// GOAL: Ensure format and filter validation happen up front
//
// TEST SCENARIO: Unknown format → error, no adapter; unknown filter name → error, adapter closed without scanning
func (s *ScanCommandTestSuite) TestInvalidArguments() {
	_, _, err := s.ExecuteCommand("scan", "--format", "xml")
	s.ErrorContains(err, "invalid format 'xml'")
	s.Empty(s.Adapter.Commands(), "invalid format MUST fail before the adapter is created")

	resetFlags(rootCmd)
	_, _, err = s.ExecuteCommand("scan", "--filter", "bogus")
	s.ErrorContains(err, `unknown service "bogus"`)
	s.Equal([]string{"Close"}, s.Adapter.Commands(), "invalid filter MUST NOT start the adapter")
}

// TestAdapterNotReady verifies an unusable radio fails fast
// GOAL: Ensure a powered-off adapter aborts the scan with a not-ready error
//
// TEST SCENARIO: Adapter reports powered_off → scan fails with ErrNotReady → user message hints at power
func (s *ScanCommandTestSuite) TestAdapterNotReady() {
	s.Adapter.state = device.StatePoweredOff

	_, _, err := s.ExecuteCommand("scan", "-d", "50ms")
	s.Require().Error(err)
	s.ErrorIs(err, device.ErrNotReady)
	s.Contains(err.Error(), "powered_off")
	s.Equal("Bluetooth is not ready: make sure the adapter is present and powered on", FormatUserError(err))
	s.NotContains(s.Adapter.Commands(), "StartScan", "scan MUST NOT start on an unready adapter")
}

func (s *ScanCommandTestSuite) text() *testutils.TextAsserter {
	return testutils.NewTextAsserter(s.T()).WithOptions(testutils.WithTrimSpace(true))
}

func TestScanCommandTestSuite(t *testing.T) {
	suite.Run(t, new(ScanCommandTestSuite))
}
