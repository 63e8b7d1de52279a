package device

import "errors"

// Domain errors for the device package. Check them with errors.Is.
var (
	// ErrUnknownDevice is returned for an ID outside the device catalog.
	ErrUnknownDevice = errors.New("device: unknown device")

	// ErrInvalidPayload is returned when a state payload is not LED_ON or LED_OFF.
	ErrInvalidPayload = errors.New("device: invalid state payload")

	// ErrInvalidCatalog is returned when the configured device list is unusable.
	ErrInvalidCatalog = errors.New("device: invalid catalog")
)
