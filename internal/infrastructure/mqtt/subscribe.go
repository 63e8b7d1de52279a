package mqtt

import (
	"sort"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Subscribe adds topic to the subscriptions re-issued on every connect and
// subscribes immediately when Connected. Fixed topics are already covered.
func (s *Session) Subscribe(topic string) error {
	if err := validateFilter(topic); err != nil {
		return err
	}

	s.mu.Lock()
	if s.isFixedLocked(topic) {
		s.mu.Unlock()
		return nil
	}
	s.extra[topic] = struct{}{}
	client := s.client
	connected := s.state == StateConnected
	s.mu.Unlock()

	if connected && client != nil {
		s.subscribe(client, topic)
	}
	return nil
}

// Unsubscribe removes a topic added with Subscribe.
// The fixed topics live as long as the session and return ErrFixedTopic.
func (s *Session) Unsubscribe(topic string) error {
	if err := validateFilter(topic); err != nil {
		return err
	}

	s.mu.Lock()
	if s.isFixedLocked(topic) {
		s.mu.Unlock()
		return ErrFixedTopic
	}
	delete(s.extra, topic)
	client := s.client
	connected := s.state == StateConnected
	s.mu.Unlock()

	if connected && client != nil {
		token := client.Unsubscribe(topic)
		go s.watchToken(token, "unsubscribe", topic)
	}
	return nil
}

// Subscriptions lists the fixed topics followed by the extra ones, sorted.
func (s *Session) Subscriptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscriptionsLocked()
}

func (s *Session) subscriptionsLocked() []string {
	topics := append([]string(nil), s.fixed...)
	extra := make([]string, 0, len(s.extra))
	for t := range s.extra {
		extra = append(extra, t)
	}
	sort.Strings(extra)
	return append(topics, extra...)
}

func (s *Session) isFixedLocked(topic string) bool {
	for _, t := range s.fixed {
		if t == topic {
			return true
		}
	}
	return false
}

func (s *Session) subscribe(client pahomqtt.Client, topic string) {
	token := client.Subscribe(topic, s.qos, s.wrapHandler())
	go s.watchToken(token, "subscribe", topic)
}
