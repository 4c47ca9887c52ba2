package testutils

import (
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/serde"
)

// DeviceToJSON renders a device snapshot the way the CLI and websocket do.
func DeviceToJSON(d device.Device) string {
	return MustJSON(d)
}

// DevicesToJSON renders a list of snapshots.
func DevicesToJSON(devices []device.Device) string {
	if devices == nil {
		devices = []device.Device{}
	}
	return MustJSON(devices)
}

// MustJSON encodes v or panics.
func MustJSON(v any) string {
	data, err := serde.MarshalJSON(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
