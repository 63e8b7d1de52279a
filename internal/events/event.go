package events

import (
	"time"
)

// Kind classifies an observation.
type Kind string

const (
	KindDeviceStateChanged    Kind = "device.state_changed"
	KindTelemetryReading      Kind = "telemetry.reading"
	KindAlertRaised           Kind = "alert.raised"
	KindParseFailed           Kind = "message.parse_failed"
	KindConnectionChanged     Kind = "connection.state_changed"
	KindScheduleFired         Kind = "schedule.fired"
	KindScheduleEnded         Kind = "schedule.ended"
	KindScheduleResumed       Kind = "schedule.resumed"
	KindScheduleCommandFailed Kind = "schedule.command_failed"
)

// AlertCode is a recognised alert payload.
type AlertCode string

// AlertTemperatureHigh is published by the sensor when its threshold is crossed.
const AlertTemperatureHigh AlertCode = "temperature_high"

// Event is one observation emitted by the core. Title and Body are
// human-readable and ready for a notification; Data carries the
// machine-readable details.
type Event struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Title     string         `json:"title,omitempty"`
	Body      string         `json:"body,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}
