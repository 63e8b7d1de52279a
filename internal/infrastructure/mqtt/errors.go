package mqtt

import "errors"

// Sentinel errors for session operations. Use errors.Is to check them.
var (
	// ErrNotConnected is returned when a publish is attempted outside the
	// Connected state. The message is dropped, never queued.
	ErrNotConnected = errors.New("mqtt: session not connected")

	// ErrConnectionFailed reports a rejected or failed connection attempt.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed reports a publish the transport could not deliver.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed reports a rejected subscription.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidTopic is returned for empty topics, and for wildcard topics on publish.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrInvalidQoS is returned when the configured QoS is not 0, 1 or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrFixedTopic is returned when unsubscribing from a session-lifetime topic.
	ErrFixedTopic = errors.New("mqtt: topic is part of the fixed subscription set")

	// ErrPayloadTooLarge is returned for payloads above maxPayloadSize.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")
)
