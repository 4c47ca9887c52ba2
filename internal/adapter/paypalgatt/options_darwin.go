//go:build darwin

package paypalgatt

import "github.com/paypal/gatt"

var platformOptions = []gatt.Option{
	gatt.MacDeviceRole(gatt.CentralManager),
}
