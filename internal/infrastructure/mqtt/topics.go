package mqtt

import (
	"fmt"
	"strings"

	"github.com/nerrad567/domotic-core/internal/infrastructure/config"
)

// FixedTopics returns the session-lifetime subscription set: every device
// topic in catalog order, then the telemetry and alert topics. Duplicates
// are dropped.
func FixedTopics(cfg *config.Config) []string {
	seen := make(map[string]bool, len(cfg.Devices)+2)
	topics := make([]string, 0, len(cfg.Devices)+2)

	add := func(t string) {
		if t == "" || seen[t] {
			return
		}
		seen[t] = true
		topics = append(topics, t)
	}

	for _, d := range cfg.Devices {
		add(d.Topic)
	}
	add(cfg.MQTT.Topics.Telemetry)
	add(cfg.MQTT.Topics.Alert)

	return topics
}

// validateTopic checks a publish topic: non-empty and wildcard-free.
func validateTopic(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcards not allowed in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}

// validateFilter checks a subscription filter.
func validateFilter(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	return nil
}
