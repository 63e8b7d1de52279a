package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps a single message (1MB).
const maxPayloadSize = 1 << 20

// Publish hands payload to the transport and returns without waiting for
// the broker. Delivery failures are logged by a token watcher.
//
// Messages are never retained and never queued: outside the Connected
// state Publish drops the message and returns ErrNotConnected.
func (s *Session) Publish(topic string, payload []byte) error {
	if err := validateTopic(topic); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}

	s.mu.RLock()
	state, client, logger := s.state, s.client, s.logger
	s.mu.RUnlock()

	if state != StateConnected || client == nil {
		logger.Debug("dropping MQTT publish while not connected", "topic", topic, "state", state)
		return ErrNotConnected
	}

	token := client.Publish(topic, s.qos, false, payload)
	go s.watchToken(token, "publish", topic)

	return nil
}

// watchToken logs the failure of an asynchronous transport operation.
func (s *Session) watchToken(token pahomqtt.Token, op, topic string) {
	timer := time.NewTimer(defaultPublishTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			s.log().Warn("MQTT "+op+" failed", "topic", topic, "error", err)
		}
	case <-timer.C:
		s.log().Warn("MQTT "+op+" not acknowledged", "topic", topic, "timeout", defaultPublishTimeout)
	}
}
