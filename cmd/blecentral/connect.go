package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/session"
)

const disconnectWait = 5 * time.Second

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect <device-id>",
	Short: "Connect to a BLE device and hold the link",
	Long: `Scan until the device advertises, connect to it, and keep the link open
until --hold elapses, Ctrl+C is pressed, or the peripheral drops the link.
The link is closed cleanly before exiting.`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

var (
	connectDuration time.Duration
	connectFilter   string
	connectHold     time.Duration
	connectVerbose  bool
)

func init() {
	connectCmd.Flags().DurationVarP(&connectDuration, "duration", "d", 0, "How long to scan for the device (0 uses scan_timeout from the config)")
	connectCmd.Flags().StringVar(&connectFilter, "filter", "all", "Service filter for the scan")
	connectCmd.Flags().DurationVar(&connectHold, "hold", 0, "Disconnect after this long (0 holds until Ctrl+C)")
	connectCmd.Flags().BoolVar(&connectVerbose, "verbose", false, "Enable debug logging")
}

// linkEvents funnels the notifications of one device into channels.
type linkEvents struct {
	id           string
	found        chan struct{}
	scanDone     chan struct{}
	connected    chan error
	disconnected chan error
}

func newLinkEvents(id string) *linkEvents {
	return &linkEvents{
		id:           id,
		found:        make(chan struct{}, 1),
		scanDone:     make(chan struct{}, 1),
		connected:    make(chan error, 1),
		disconnected: make(chan error, 1),
	}
}

func notify[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func (l *linkEvents) observer() session.ObserverFuncs {
	return session.ObserverFuncs{
		DeviceFound: func(dev device.Device) {
			if dev.ID == l.id {
				notify(l.found, struct{}{})
			}
		},
		ScanComplete: func() { notify(l.scanDone, struct{}{}) },
		Connected: func(dev device.Device, err error) {
			if dev.ID == l.id {
				notify(l.connected, err)
			}
		},
		Disconnected: func(dev device.Device, err error) {
			if dev.ID == l.id {
				notify(l.disconnected, err)
			}
		},
	}
}

func runConnect(cmd *cobra.Command, args []string) error {
	id := args[0]

	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	defer a.close()

	filter, err := a.manager.Catalog().ParseFilter(connectFilter)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	events := newLinkEvents(id)
	if err := a.start(events.observer()); err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	if err := a.waitReady(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	duration := connectDuration
	if duration <= 0 {
		duration = a.cfg.ScanTimeout
	}
	fmt.Fprintf(out, "Scanning for %s...\n", id)
	if err := a.manager.StartScan(duration, filter); err != nil {
		return err
	}
	select {
	case <-events.found:
		if err := a.manager.StopScan(); err != nil {
			return err
		}
	case <-events.scanDone:
		return fmt.Errorf("%w: %s did not advertise within %s", ErrDeviceNotFound, id, duration)
	case <-ctx.Done():
		return ctx.Err()
	}

	dev, err := a.manager.Device(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Connecting to %s (%s)...\n", dev.DisplayName(), id)
	if err := a.manager.Connect(id); err != nil {
		return err
	}

	select {
	case err := <-events.connected:
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", id, err)
		}
	case <-ctx.Done():
		if err := disconnect(a, events, id); err != nil {
			a.logger.WithError(err).WithField("device", id).Warn("Failed to abort connection")
		}
		return ctx.Err()
	}
	fmt.Fprintf(out, "Connected to %s\n", id)

	var holdC <-chan time.Time
	if connectHold > 0 {
		timer := time.NewTimer(connectHold)
		defer timer.Stop()
		holdC = timer.C
	}

	select {
	case err := <-events.disconnected:
		return fmt.Errorf("%w: %s: %v", ErrConnectionLost, id, err)
	case <-holdC:
	case <-ctx.Done():
	}

	if err := disconnect(a, events, id); err != nil {
		return err
	}
	fmt.Fprintf(out, "Disconnected from %s\n", id)
	return nil
}

// disconnect closes the link and waits for the outcome.
func disconnect(a *app, events *linkEvents, id string) error {
	if err := a.manager.Disconnect(id); err != nil {
		return err
	}
	select {
	case err := <-events.disconnected:
		if err != nil {
			return fmt.Errorf("failed to disconnect from %s: %w", id, err)
		}
		return nil
	case <-time.After(disconnectWait):
		return fmt.Errorf("no disconnection reported for %s within %s", id, disconnectWait)
	}
}
