package testutils

import (
	"fmt"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/serde"
)

// AdvertisementBuilder builds advertisements for feeding a FakeAdapter.
type AdvertisementBuilder struct {
	adv device.Advertisement
}

// advertisementJSON is the fixture form accepted by FromJSON.
type advertisementJSON struct {
	Address     string   `json:"address"`
	Name        string   `json:"name"`
	RSSI        int      `json:"rssi"`
	Services    []string `json:"services"`
	Connectable *bool    `json:"connectable"`
}

// NewAdvertisementBuilder starts a connectable advertisement at -60 dBm.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: device.Advertisement{RSSI: -60, Connectable: true}}
}

func (b *AdvertisementBuilder) WithAddress(id string) *AdvertisementBuilder {
	b.adv.DeviceID = id
	return b
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.LocalName = name
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.RSSI = rssi
	return b
}

// WithServices appends advertised service UUIDs in any accepted notation.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.adv.Services = append(b.adv.Services, uuids...)
	return b
}

func (b *AdvertisementBuilder) WithConnectable(connectable bool) *AdvertisementBuilder {
	b.adv.Connectable = connectable
	return b
}

// FromJSON fills the builder from a fixture such as
// {"address": "AA:BB", "name": "Sensor", "services": ["180D"]}.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...any) *AdvertisementBuilder {
	var fixture advertisementJSON
	if err := serde.UnmarshalJSON([]byte(fmt.Sprintf(jsonStrFmt, args...)), &fixture); err != nil {
		panic(fmt.Sprintf("invalid advertisement fixture: %v", err))
	}

	b.adv.DeviceID = fixture.Address
	b.adv.LocalName = fixture.Name
	if fixture.RSSI != 0 {
		b.adv.RSSI = fixture.RSSI
	}
	b.adv.Services = append(b.adv.Services, fixture.Services...)
	if fixture.Connectable != nil {
		b.adv.Connectable = *fixture.Connectable
	}
	return b
}

// Build returns the advertisement.
func (b *AdvertisementBuilder) Build() device.Advertisement {
	adv := b.adv
	adv.Services = append([]string(nil), b.adv.Services...)
	return adv
}

// CreateMockAdvertisement is a shorthand for the common fields.
func CreateMockAdvertisement(id, name string, services ...string) device.Advertisement {
	return NewAdvertisementBuilder().WithAddress(id).WithName(name).WithServices(services...).Build()
}
