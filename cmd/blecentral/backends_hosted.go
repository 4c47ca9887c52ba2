//go:build linux || darwin

package main

import (
	_ "github.com/srg/blecentral/internal/adapter/paypalgatt"
	_ "github.com/srg/blecentral/internal/adapter/tinygoble"
)
