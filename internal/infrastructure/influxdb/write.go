package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementTelemetry   = "telemetry"
	measurementDeviceState = "device_state"
	measurementEvent       = "events"
)

// WriteTelemetry records one sensor reading received on topic.
// The write is non-blocking; data is batched and sent asynchronously.
//
//	client.WriteTelemetry("sae301/temperature", 21.5, time.Now())
func (c *Client) WriteTelemetry(topic string, value float64, at time.Time) {
	c.writePoint(write.NewPoint(
		measurementTelemetry,
		map[string]string{"topic": topic},
		map[string]interface{}{"value": value},
		at,
	))
}

// WriteDeviceState records an outlet state. source tells optimistic
// writes from confirmed echoes.
func (c *Client) WriteDeviceState(deviceID string, on bool, source string, at time.Time) {
	c.writePoint(write.NewPoint(
		measurementDeviceState,
		map[string]string{
			"device_id": deviceID,
			"source":    source,
		},
		map[string]interface{}{"on": on},
		at,
	))
}

// WriteEvent records an occurrence such as an alert or a schedule firing.
func (c *Client) WriteEvent(kind string, at time.Time) {
	c.writePoint(write.NewPoint(
		measurementEvent,
		map[string]string{"kind": kind},
		map[string]interface{}{"count": 1},
		at,
	))
}
