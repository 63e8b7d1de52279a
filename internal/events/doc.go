// Package events turns broker traffic into observations.
//
// The Router classifies each inbound message by topic:
//
//   - device topics carry LED_ON / LED_OFF echoes, applied to the device
//     registry as confirmed writes and reported as device.state_changed
//   - the telemetry topic carries a decimal temperature, recorded as the
//     last reading and reported as telemetry.reading
//   - the alert topic carries alert codes; temperature_high is reported
//     as alert.raised
//
// Malformed payloads are reported as message.parse_failed and never mutate
// state. Events are fanned out by a Bus to the API hub, the logger and the
// history writer.
package events
