package device

import (
	"fmt"
	"math/bits"
	"sort"
	"strconv"
	"strings"
)

// ServiceFilter selects which advertised services qualify a device for discovery.
// Each bit names one catalog service.
type ServiceFilter uint32

const (
	// ServiceNone matches nothing and is never a valid scan filter.
	ServiceNone ServiceFilter = 0
	// ServiceSerialPort is the BlueRadios serial port service.
	ServiceSerialPort ServiceFilter = 1
	// ServiceAll matches every advertisement, including ones without a known service.
	ServiceAll ServiceFilter = 0xFFFFFFFF
)

// SerialPortServiceUUID is the advertised UUID of ServiceSerialPort.
const SerialPortServiceUUID = "da2b84f1-6279-48de-bdc0-afbea0226079"

// Matches reports whether a device advertising the services in set passes f.
func (f ServiceFilter) Matches(set ServiceFilter) bool {
	switch f {
	case ServiceNone:
		return false
	case ServiceAll:
		return true
	default:
		return f&set != 0
	}
}

func (f ServiceFilter) String() string {
	switch f {
	case ServiceNone:
		return "none"
	case ServiceAll:
		return "all"
	default:
		return fmt.Sprintf("0x%08x", uint32(f))
	}
}

type catalogEntry struct {
	bit  ServiceFilter
	name string
	uuid string
}

// Catalog maps filter bits to service UUIDs. It is populated at start-up and
// read-only afterwards.
type Catalog struct {
	entries []catalogEntry
}

// NewCatalog returns a catalog holding the built-in serial port service.
func NewCatalog() *Catalog {
	c := &Catalog{}
	if err := c.Register(ServiceSerialPort, "serial", SerialPortServiceUUID); err != nil {
		panic(err)
	}
	return c
}

// Register binds a single-bit filter value to a named service UUID.
func (c *Catalog) Register(bit ServiceFilter, name, serviceUUID string) error {
	if bits.OnesCount32(uint32(bit)) != 1 {
		return fmt.Errorf("service %q: filter bit 0x%x must have exactly one bit set", name, uint32(bit))
	}
	normalized, err := ValidateUUID(serviceUUID)
	if err != nil {
		return fmt.Errorf("service %q: invalid UUID %q: %w", name, serviceUUID, err)
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "all" || name == "none" {
		return fmt.Errorf("service name %q is reserved or empty", name)
	}
	for _, e := range c.entries {
		if e.bit == bit || e.name == name {
			return fmt.Errorf("service %q (bit 0x%x) already registered as %q", name, uint32(bit), e.name)
		}
	}

	c.entries = append(c.entries, catalogEntry{bit: bit, name: name, uuid: normalized[0]})
	sort.Slice(c.entries, func(i, j int) bool { return c.entries[i].bit < c.entries[j].bit })
	return nil
}

// Resolve returns the filter bits of every catalog service present in services.
func (c *Catalog) Resolve(services []string) ServiceFilter {
	var set ServiceFilter
	for _, s := range services {
		n := NormalizeUUID(s)
		for _, e := range c.entries {
			if e.uuid == n {
				set |= e.bit
			}
		}
	}
	return set
}

// UUIDs returns the accepted service UUIDs for f. ServiceAll yields nil,
// meaning an unfiltered scan.
func (c *Catalog) UUIDs(f ServiceFilter) []string {
	if f == ServiceAll {
		return nil
	}
	result := make([]string, 0, bits.OnesCount32(uint32(f)))
	for _, e := range c.entries {
		if f&e.bit != 0 {
			result = append(result, e.uuid)
		}
	}
	return result
}

// Registered returns the union of every registered bit.
func (c *Catalog) Registered() ServiceFilter {
	var f ServiceFilter
	for _, e := range c.entries {
		f |= e.bit
	}
	return f
}

// ServiceUUIDs returns every registered service UUID in bit order.
func (c *Catalog) ServiceUUIDs() []string {
	result := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		result = append(result, e.uuid)
	}
	return result
}

// Name returns the registered name for a single bit.
func (c *Catalog) Name(bit ServiceFilter) (string, bool) {
	for _, e := range c.entries {
		if e.bit == bit {
			return e.name, true
		}
	}
	return "", false
}

// ParseFilter accepts "all", "none", a numeric mask ("0x3", "5") or a
// comma-separated list of registered service names.
func (c *Catalog) ParseFilter(expr string) (ServiceFilter, error) {
	expr = strings.ToLower(strings.TrimSpace(expr))
	switch expr {
	case "", "none":
		return ServiceNone, nil
	case "all":
		return ServiceAll, nil
	}

	if v, err := strconv.ParseUint(expr, 0, 32); err == nil {
		f := ServiceFilter(v)
		if f != ServiceNone && f != ServiceAll && f&c.Registered() == 0 {
			return ServiceNone, fmt.Errorf("filter %s selects no registered service", expr)
		}
		return f, nil
	}

	var f ServiceFilter
	for _, name := range strings.Split(expr, ",") {
		name = strings.TrimSpace(name)
		found := false
		for _, e := range c.entries {
			if e.name == name {
				f |= e.bit
				found = true
				break
			}
		}
		if !found {
			return ServiceNone, fmt.Errorf("unknown service %q", name)
		}
	}
	return f, nil
}
