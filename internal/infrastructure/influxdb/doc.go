// Package influxdb provides InfluxDB connectivity for Domotic Core.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, history writing and health monitoring. It is optional: when
// influxdb.enabled is false, Connect returns ErrDisabled and nothing is
// recorded.
//
// # Measurements
//
//   - telemetry: temperature readings, tagged by topic
//   - device_state: outlet on/off changes, tagged by device and source
//   - events: alerts and schedule transitions, tagged by kind
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, influxdb.WithSiteTag(cfg.Site.ID))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteTelemetry("sae301/temperature", 21.5, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Writes are non-blocking and batched according to batch_size and
// flush_interval; batch errors are delivered to the SetOnError callback.
package influxdb
