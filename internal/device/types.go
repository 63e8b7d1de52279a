package device

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/domotic-core/internal/infrastructure/config"
)

// ID identifies one outlet. The set of valid IDs is closed and defined by
// the Catalog.
type ID string

// Default outlet IDs of the original installation.
const (
	LED1 ID = "LED1"
	LED2 ID = "LED2"
)

// Wire tokens carried on device topics, for both commands and echoes.
const (
	PayloadOn  = "LED_ON"
	PayloadOff = "LED_OFF"
)

// Payload returns the wire token for the requested state.
func Payload(on bool) []byte {
	if on {
		return []byte(PayloadOn)
	}
	return []byte(PayloadOff)
}

// ParsePayload decodes a state echo. Anything other than the two exact
// tokens is rejected.
func ParsePayload(payload []byte) (bool, error) {
	switch string(payload) {
	case PayloadOn:
		return true, nil
	case PayloadOff:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidPayload, payload)
	}
}

// Source tells observers where the current value came from.
type Source string

const (
	// SourceStored is a value restored from durable storage at start-up.
	SourceStored Source = "stored"

	// SourceOptimistic is written by a command issuer before the device echoes.
	SourceOptimistic Source = "optimistic"

	// SourceConfirmed is written from a state echo received from the device.
	SourceConfirmed Source = "confirmed"
)

// Device is a catalog entry.
type Device struct {
	ID    ID     `json:"id"`
	Name  string `json:"name"`
	Topic string `json:"topic"`
}

// State is the live on/off state of one device.
type State struct {
	On        bool      `json:"on"`
	Source    Source    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pending reports whether the value still awaits a device echo.
func (s State) Pending() bool {
	return s.Source == SourceOptimistic
}

// Status pairs a device with its current state.
type Status struct {
	Device
	State
}

// Change describes one registry mutation. Every write produces a Change,
// even when the value is unchanged.
type Change struct {
	Device   Device
	On       bool
	Previous bool
	Source   Source
	At       time.Time
}

// Changed reports whether the value actually flipped.
func (c Change) Changed() bool {
	return c.On != c.Previous
}

// Catalog is the ordered, closed set of devices.
type Catalog struct {
	devices []Device
	byID    map[ID]int
	byTopic map[string]int
}

// NewCatalog builds a catalog, rejecting empty, duplicate or reserved entries.
func NewCatalog(devices []Device) (*Catalog, error) {
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no devices", ErrInvalidCatalog)
	}

	c := &Catalog{
		devices: make([]Device, 0, len(devices)),
		byID:    make(map[ID]int, len(devices)),
		byTopic: make(map[string]int, len(devices)),
	}
	for _, d := range devices {
		switch {
		case d.ID == "" || d.Topic == "":
			return nil, fmt.Errorf("%w: device needs an id and a topic", ErrInvalidCatalog)
		case strings.EqualFold(string(d.ID), config.ReservedDeviceID):
			return nil, fmt.Errorf("%w: %q is reserved", ErrInvalidCatalog, d.ID)
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidCatalog, d.ID)
		}
		if _, dup := c.byTopic[d.Topic]; dup {
			return nil, fmt.Errorf("%w: duplicate topic %q", ErrInvalidCatalog, d.Topic)
		}
		if d.Name == "" {
			d.Name = string(d.ID)
		}
		c.byID[d.ID] = len(c.devices)
		c.byTopic[d.Topic] = len(c.devices)
		c.devices = append(c.devices, d)
	}
	return c, nil
}

// CatalogFromConfig builds the catalog from the devices section.
func CatalogFromConfig(devices []config.DeviceConfig) (*Catalog, error) {
	list := make([]Device, 0, len(devices))
	for _, d := range devices {
		list = append(list, Device{ID: ID(d.ID), Name: d.Name, Topic: d.Topic})
	}
	return NewCatalog(list)
}

// Devices returns the catalog in configuration order.
func (c *Catalog) Devices() []Device {
	return append([]Device(nil), c.devices...)
}

// IDs returns every device ID in configuration order.
func (c *Catalog) IDs() []ID {
	ids := make([]ID, len(c.devices))
	for i, d := range c.devices {
		ids[i] = d.ID
	}
	return ids
}

// Get returns the catalog entry for id.
func (c *Catalog) Get(id ID) (Device, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Device{}, false
	}
	return c.devices[i], true
}

// ByTopic returns the device whose command/state topic is topic.
func (c *Catalog) ByTopic(topic string) (Device, bool) {
	i, ok := c.byTopic[topic]
	if !ok {
		return Device{}, false
	}
	return c.devices[i], true
}

// Len returns the number of devices.
func (c *Catalog) Len() int {
	return len(c.devices)
}
