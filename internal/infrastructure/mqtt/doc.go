// Package mqtt is the broker session of Domotic Core.
//
// A Session owns the one long-lived connection to the MQTT broker:
//   - observable ConnectionState (disconnected, connecting, connected)
//   - automatic reconnection through paho, with the fixed topic set
//     (device topics, telemetry, alert) re-subscribed on every connect
//   - non-blocking Publish; messages issued while not connected are
//     dropped with ErrNotConnected, never queued
//   - one MessageHandler receiving inbound messages in broker order
//
// Transport errors never escape as panics or fatal errors; they are
// reported through the state-change observer and the logger.
//
// Usage:
//
//	session, err := mqtt.NewSession(cfg.MQTT, mqtt.FixedTopics(cfg), router.Route,
//	    mqtt.WithLogger(logger.With("component", "mqtt")))
//	if err != nil {
//	    return err
//	}
//	session.SetOnStateChange(func(s mqtt.ConnectionState, err error) { ... })
//	_ = session.Connect()
//	defer session.Disconnect()
//
//	err = session.Publish("sae301/led", []byte("LED_ON"))
package mqtt
