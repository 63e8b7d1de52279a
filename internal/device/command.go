package device

import (
	"context"
	"errors"
	"fmt"
)

// Publisher sends a payload to a broker topic without blocking.
// *mqtt.Session satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Commander turns on/off requests into broker commands.
//
// After a successful hand-off to the broker it writes the expected state
// optimistically, so observers see the change before the device echoes it.
// An echo that beats the optimistic write is kept.
type Commander struct {
	registry   *Registry
	publisher  Publisher
	optimistic bool
}

// NewCommander creates a commander. With optimistic set to false the
// registry only changes when the device echoes its state.
func NewCommander(registry *Registry, publisher Publisher, optimistic bool) *Commander {
	return &Commander{
		registry:   registry,
		publisher:  publisher,
		optimistic: optimistic,
	}
}

// SetState commands one device.
func (c *Commander) SetState(ctx context.Context, id ID, on bool) error {
	dev, ok := c.registry.Catalog().Get(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, id)
	}

	rev := c.registry.EchoRevision(id)
	if err := c.publisher.Publish(dev.Topic, Payload(on)); err != nil {
		return fmt.Errorf("commanding %s: %w", id, err)
	}

	if !c.optimistic {
		return nil
	}
	return c.registry.ApplyOptimisticSince(ctx, id, on, rev)
}

// SetAll commands every device in catalog order. It keeps going after a
// failure and returns the joined errors.
func (c *Commander) SetAll(ctx context.Context, on bool) error {
	var errs []error
	for _, id := range c.registry.Catalog().IDs() {
		if err := c.SetState(ctx, id, on); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
