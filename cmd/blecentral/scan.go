package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/serde"
	"github.com/srg/blecentral/internal/session"
	"github.com/srg/blecentral/pkg/config"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Run one timed discovery session and list the devices that advertised a
service accepted by the filter.

The filter is "all", a numeric mask, or a comma-separated list of catalog
service names ("serial" is built in; more come from the config file).
Press Ctrl+C to end the scan early and still print what was found.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration     time.Duration
	scanFilter       string
	scanFormat       string
	scanNoDuplicates bool
	scanVerbose      bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (0 uses scan_timeout from the config)")
	scanCmd.Flags().StringVar(&scanFilter, "filter", "all", "Service filter (all, a mask, or service names)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format (table, json); defaults to output_format from the config")
	scanCmd.Flags().BoolVar(&scanNoDuplicates, "no-duplicates", false, "Report each device once per scan")
	scanCmd.Flags().BoolVar(&scanVerbose, "verbose", false, "Enable debug logging")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "" && scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	a, err := newApp(cmd, func(cfg *config.Config) {
		if scanFormat != "" {
			cfg.OutputFormat = scanFormat
		}
		if scanNoDuplicates {
			cfg.ReportDuplicates = false
		}
	})
	if err != nil {
		return err
	}
	defer a.close()

	filter, err := a.manager.Catalog().ParseFilter(scanFilter)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	completed := make(chan struct{})
	var once sync.Once
	obs := session.ObserverFuncs{
		DeviceFound: func(dev device.Device) {
			a.logger.WithField("device", dev.ID).WithField("rssi", dev.RSSI).Debug("Device found")
		},
		ScanComplete: func() { once.Do(func() { close(completed) }) },
	}
	if err := a.start(obs); err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	if err := a.waitReady(ctx); err != nil {
		return err
	}

	duration := scanDuration
	if duration <= 0 {
		duration = a.cfg.ScanTimeout
	}

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Scanning for BLE devices", duration)
	if err := a.manager.StartScan(duration, filter); err != nil {
		return err
	}
	progress.Start()

	select {
	case <-completed:
	case <-ctx.Done():
		progress.Stop()
		fmt.Fprintln(cmd.ErrOrStderr(), "\nCtrl+C pressed, stopping scan...")
		if err := a.manager.StopScan(); err != nil {
			return err
		}
		<-completed
	}
	progress.Stop()

	return displayDevices(cmd.OutOrStdout(), a.manager.Devices(), a.cfg.OutputFormat)
}

func displayDevices(w io.Writer, devices []device.Device, format string) error {
	switch format {
	case "json":
		return displayDevicesJSON(w, devices)
	default:
		return displayDevicesTable(w, devices)
	}
}

func displayDevicesTable(out io.Writer, devices []device.Device) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(out, "No devices discovered")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES\tSTATE")

	for _, dev := range devices {
		name := dev.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		services := strings.Join(dev.Services, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}

		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s\n", name, dev.ID, dev.RSSI, services, dev.State)
	}

	return w.Flush()
}

func displayDevicesJSON(w io.Writer, devices []device.Device) error {
	if devices == nil {
		devices = []device.Device{}
	}
	data, err := serde.MarshalJSON(devices)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// signalContext is signal.NotifyContext for commands that run until interrupted.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
