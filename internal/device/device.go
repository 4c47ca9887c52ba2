package device

import (
	"slices"
	"time"
)

// Advertisement is one sighting of a peripheral as reported by a backend.
type Advertisement struct {
	DeviceID    string
	LocalName   string
	Services    []string
	RSSI        int
	Connectable bool

	// Raw is the backend's own handle for the sighting. The session never reads it.
	Raw any `json:"-"`
}

// Device is a snapshot of one registry entry.
type Device struct {
	ID          string          `json:"id"`
	Name        string          `json:"name,omitempty"`
	RSSI        int             `json:"rssi"`
	Services    []string        `json:"services"`
	ServiceMask ServiceFilter   `json:"service_mask"`
	Connectable bool            `json:"connectable"`
	State       ConnectionState `json:"state"`
	FirstSeen   time.Time       `json:"first_seen"`
	LastSeen    time.Time       `json:"last_seen"`
}

// DisplayName returns the advertised name, falling back to the identifier.
func (d Device) DisplayName() string {
	if d.Name == "" {
		return d.ID
	}
	return d.Name
}

// Clone returns a copy that shares no slices with d.
func (d Device) Clone() Device {
	d.Services = slices.Clone(d.Services)
	return d
}
