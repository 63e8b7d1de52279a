// Package config loads the YAML configuration file, applies DOMOTIC_*
// environment overrides and validates the result, including the outlet
// catalog and its topics.
//
// Without a devices section the catalog describes the two-outlet setup
// the service was built for: LED1 on "sae301/led" and LED2 on
// "sae301_2/led", with readings on "sae301/temperature" and alerts on
// "sae301/alert".
//
// Keep broker credentials out of the file where possible and supply them
// through DOMOTIC_MQTT_USERNAME and DOMOTIC_MQTT_PASSWORD.
package config
