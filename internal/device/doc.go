// Package device provides the Device Registry for Domotic Core.
//
// The registry is the single owner of each outlet's on/off state. It is
// written optimistically by the Commander when a command is sent, and
// authoritatively by the event router when the device echoes LED_ON or
// LED_OFF on its topic. Every mutation is mirrored to durable storage as
// one JSON record ("device_states") and reported to observers as a Change.
//
// The device set is closed: a Catalog built from configuration lists the
// outlets (LED1 on "sae301/led" and LED2 on "sae301_2/led" by default).
//
// Usage:
//
//	catalog, err := device.CatalogFromConfig(cfg.Devices)
//	registry := device.NewRegistry(catalog, device.NewKVRepository(kv))
//	if err := registry.Load(ctx); err != nil { ... }
//
//	commander := device.NewCommander(registry, session, true)
//	err = commander.SetState(ctx, device.LED1, true)
package device
