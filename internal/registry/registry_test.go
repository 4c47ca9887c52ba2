package registry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blecentral/internal/device"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func adv(id, name string, services ...string) device.Advertisement {
	return device.Advertisement{DeviceID: id, LocalName: name, Services: services, RSSI: -50, Connectable: true}
}

func TestRegistry_Upsert(t *testing.T) {
	t.Run("first sighting creates a disconnected entry", func(t *testing.T) {
		r := New()
		res := r.Upsert(adv("A", "Alpha", "180D"), device.ServiceNone, t0)

		assert.True(t, res.Created, "first sighting MUST create the entry")
		assert.True(t, res.ServicesChanged)
		assert.Equal(t, device.Disconnected, res.Device.State)
		assert.Equal(t, []string{"180d"}, res.Device.Services, "services MUST be normalized")
		assert.Equal(t, t0, res.Device.FirstSeen)
		assert.Equal(t, 1, r.Len())
	})

	// GOAL: Verify the registry keeps exactly one entry per identifier holding the latest service set
	//
	// TEST SCENARIO: Same identifier advertised repeatedly with changing services → one entry with the last set
	t.Run("re-sighting replaces the service set", func(t *testing.T) {
		r := New()
		sets := [][]string{{"180D"}, {"180D", "180F"}, {device.SerialPortServiceUUID}, {}}
		for i, s := range sets {
			r.Upsert(adv("A", "", s...), device.ServiceNone, t0.Add(time.Duration(i)*time.Second))
		}

		require.Equal(t, 1, r.Len(), "registry MUST hold exactly one entry per identifier")
		d, ok := r.Get("A")
		require.True(t, ok)
		assert.Empty(t, d.Services, "stored service set MUST equal the most recent one")
		assert.Equal(t, t0, d.FirstSeen, "first seen MUST be preserved")
		assert.Equal(t, t0.Add(3*time.Second), d.LastSeen)
	})

	t.Run("reports service set changes only when they happen", func(t *testing.T) {
		r := New()
		r.Upsert(adv("A", "", "180D", "180F"), device.ServiceNone, t0)

		res := r.Upsert(adv("A", "", "0x180F", "180d"), device.ServiceNone, t0)
		assert.False(t, res.Created)
		assert.False(t, res.ServicesChanged, "same set in different order MUST NOT count as a change")

		res = r.Upsert(adv("A", "", "180D"), device.ServiceNone, t0)
		assert.True(t, res.ServicesChanged)
	})

	t.Run("keeps the last known name when the advertisement has none", func(t *testing.T) {
		r := New()
		r.Upsert(adv("A", "Alpha"), device.ServiceNone, t0)
		res := r.Upsert(adv("A", ""), device.ServiceNone, t0)
		assert.Equal(t, "Alpha", res.Device.Name)
	})

	t.Run("preserves connection state", func(t *testing.T) {
		r := New()
		r.Upsert(adv("A", ""), device.ServiceNone, t0)
		_, ok := r.SetState("A", device.Connected)
		require.True(t, ok)

		res := r.Upsert(adv("A", "", "180D"), device.ServiceNone, t0)
		assert.Equal(t, device.Connected, res.Device.State, "upsert MUST NOT touch the connection state")
	})
}

func TestRegistry_SnapshotsAreDetached(t *testing.T) {
	r := New()
	r.Upsert(adv("A", "", "180D"), device.ServiceNone, t0)

	d, _ := r.Get("A")
	d.Services[0] = "ffff"
	d.State = device.Connected

	again, _ := r.Get("A")
	assert.Equal(t, []string{"180d"}, again.Services, "mutating a snapshot MUST NOT change the registry")
	assert.Equal(t, device.Disconnected, again.State)
}

func TestRegistry_Order(t *testing.T) {
	r := New()
	for i := 5; i > 0; i-- {
		r.Upsert(adv(fmt.Sprintf("D%d", i), ""), device.ServiceNone, t0)
	}
	r.Upsert(adv("D3", "again"), device.ServiceNone, t0)

	var ids []string
	for _, d := range r.List() {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"D5", "D4", "D3", "D2", "D1"}, ids, "list MUST follow discovery order")
}

func TestRegistry_State(t *testing.T) {
	r := New()
	r.Upsert(adv("A", ""), device.ServiceNone, t0)
	r.Upsert(adv("B", ""), device.ServiceNone, t0)
	r.Upsert(adv("C", ""), device.ServiceNone, t0)

	_, ok := r.SetState("missing", device.Connected)
	assert.False(t, ok, "unknown identifiers MUST be rejected")

	prev, ok := r.SetState("A", device.Connected)
	require.True(t, ok)
	assert.Equal(t, device.Disconnected, prev)
	r.SetState("B", device.Connecting)

	st, ok := r.State("A")
	require.True(t, ok)
	assert.Equal(t, device.Connected, st)

	assert.Equal(t, []string{"A", "B"}, r.IDsInState(device.Connected, device.Connecting))
	assert.Equal(t, []string{"C"}, r.IDsInState(device.Disconnected))
	assert.Empty(t, r.IDsInState(device.Disconnecting))
}
