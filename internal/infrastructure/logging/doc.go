// Package logging configures the service-wide slog logger.
//
// Output is JSON or text on stdout or stderr, and every record carries the
// service name and build version. The level lives in a shared slog.LevelVar,
// so SetLevel on any derived logger (With) changes all of them; the
// --log-level flag relies on this.
//
//	log := logging.New(cfg.Logging, version)
//	log.Info("broker connected", "host", cfg.MQTT.Broker.Host)
//
// Broker passwords and InfluxDB tokens must never be passed as attributes.
package logging
