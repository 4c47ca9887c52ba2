// Package registry holds every peripheral discovered during the process lifetime.
//
// Entries are keyed by device identifier, kept in discovery order and never
// removed. The registry is not safe for concurrent use; the session manager
// serializes all access under its own lock.
package registry

import (
	"slices"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blecentral/internal/device"
)

// Registry is the discovery-ordered device table.
type Registry struct {
	devices *orderedmap.OrderedMap[string, *device.Device]
}

// UpsertResult describes what a sighting did to the table.
type UpsertResult struct {
	Device device.Device
	// Created is true on the first sighting of the identifier.
	Created bool
	// ServicesChanged is true when the advertised service set differs from the stored one.
	ServicesChanged bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		devices: orderedmap.New[string, *device.Device](),
	}
}

// Upsert records a sighting. The stored service set is replaced by the latest
// advertised one; the connection state is left untouched.
func (r *Registry) Upsert(adv device.Advertisement, mask device.ServiceFilter, now time.Time) UpsertResult {
	services := device.NormalizeUUIDs(adv.Services)
	slices.Sort(services)
	services = slices.Compact(services)

	d, ok := r.devices.Get(adv.DeviceID)
	if !ok {
		d = &device.Device{
			ID:          adv.DeviceID,
			Name:        adv.LocalName,
			RSSI:        adv.RSSI,
			Services:    services,
			ServiceMask: mask,
			Connectable: adv.Connectable,
			State:       device.Disconnected,
			FirstSeen:   now,
			LastSeen:    now,
		}
		r.devices.Set(adv.DeviceID, d)
		return UpsertResult{Device: d.Clone(), Created: true, ServicesChanged: true}
	}

	changed := !slices.Equal(d.Services, services)
	if adv.LocalName != "" {
		d.Name = adv.LocalName
	}
	d.RSSI = adv.RSSI
	d.Services = services
	d.ServiceMask = mask
	d.Connectable = adv.Connectable
	d.LastSeen = now

	return UpsertResult{Device: d.Clone(), ServicesChanged: changed}
}

// Get returns a snapshot of the device.
func (r *Registry) Get(id string) (device.Device, bool) {
	d, ok := r.devices.Get(id)
	if !ok {
		return device.Device{}, false
	}
	return d.Clone(), true
}

// State returns the connection state of a known device.
func (r *Registry) State(id string) (device.ConnectionState, bool) {
	d, ok := r.devices.Get(id)
	if !ok {
		return device.Disconnected, false
	}
	return d.State, true
}

// SetState changes the connection state and returns the previous one.
// Unknown identifiers report ok=false and change nothing.
func (r *Registry) SetState(id string, state device.ConnectionState) (prev device.ConnectionState, ok bool) {
	d, ok := r.devices.Get(id)
	if !ok {
		return device.Disconnected, false
	}
	prev = d.State
	d.State = state
	return prev, true
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	return r.devices.Len()
}

// List returns snapshots of all devices in discovery order.
func (r *Registry) List() []device.Device {
	result := make([]device.Device, 0, r.devices.Len())
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Value.Clone())
	}
	return result
}

// IDsInState returns, in discovery order, the identifiers whose state is one of states.
func (r *Registry) IDsInState(states ...device.ConnectionState) []string {
	var ids []string
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		if slices.Contains(states, pair.Value.State) {
			ids = append(ids, pair.Key)
		}
	}
	return ids
}
