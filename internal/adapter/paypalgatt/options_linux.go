//go:build linux

package paypalgatt

import "github.com/paypal/gatt"

// platformOptions selects the first available HCI device.
var platformOptions = []gatt.Option{
	gatt.LnxDeviceID(-1, true),
}
