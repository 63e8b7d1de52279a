package automation

import (
	"fmt"

	"github.com/nerrad567/domotic-core/internal/device"
)

const maxIDLength = 64

// ValidateSchedule checks a schedule against the device catalog.
// Returns an error describing the first validation failure found.
// An empty window (Start == End) is valid; it simply never fires.
func ValidateSchedule(s Schedule, catalog *device.Catalog) error {
	if len(s.ID) > maxIDLength {
		return fmt.Errorf("%w: id exceeds %d characters", ErrInvalidSchedule, maxIDLength)
	}
	if s.Target == "" {
		return fmt.Errorf("%w: target is required", ErrInvalidSchedule)
	}
	if _, err := s.Target.Devices(catalog); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}
	if !s.Start.Valid() {
		return fmt.Errorf("%w: start: %w", ErrInvalidSchedule, ErrInvalidTime)
	}
	if !s.End.Valid() {
		return fmt.Errorf("%w: end: %w", ErrInvalidSchedule, ErrInvalidTime)
	}
	if !s.Action.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidSchedule, ErrInvalidAction, s.Action)
	}
	return nil
}
