package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/domotic-core/internal/infrastructure/config"
)

// Logger is the logging surface the session needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler receives every inbound message, in broker order.
// It runs on the transport's delivery goroutine and must not block.
type MessageHandler func(topic string, payload []byte)

// ClientFactory builds the transport client. Tests replace it with a fake.
type ClientFactory func(opts *pahomqtt.ClientOptions) pahomqtt.Client

// Option configures a Session.
type Option func(*Session)

// WithClientFactory overrides how the paho client is created.
func WithClientFactory(f ClientFactory) Option {
	return func(s *Session) { s.newClient = f }
}

// WithLogger sets the session logger.
func WithLogger(l Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// Session is the single long-lived connection to the broker.
//
// It owns the connection state, keeps a fixed set of subscriptions alive
// across reconnects, and publishes without blocking the caller. Every
// inbound message is handed to one MessageHandler.
//
// Each Connect starts a new generation; callbacks from the transport of an
// older generation (for example after Disconnect) are ignored.
//
// All methods are safe for concurrent use.
type Session struct {
	cfg       config.MQTTConfig
	clientID  string
	qos       byte
	newClient ClientFactory
	logger    Logger

	handler MessageHandler

	mu         sync.RWMutex
	client     pahomqtt.Client
	state      ConnectionState
	generation uint64
	fixed      []string
	extra      map[string]struct{}

	callbackMu    sync.RWMutex
	onStateChange StateChangeFunc
}

// NewSession creates a disconnected session that will subscribe to
// fixedTopics on every connect and pass inbound messages to handler.
//
// Parameters:
//   - cfg: MQTT configuration from config.yaml
//   - fixedTopics: Filters subscribed on every connect (validated here)
//   - handler: Receives every inbound message; nil discards them
//   - opts: Optional overrides such as WithClientFactory and WithLogger
//
// Returns:
//   - *Session: Disconnected session; call Connect to start
//   - error: ErrInvalidQoS or a topic validation error
func NewSession(cfg config.MQTTConfig, fixedTopics []string, handler MessageHandler, opts ...Option) (*Session, error) {
	if cfg.QoS < 0 || cfg.QoS > maxQoS {
		return nil, ErrInvalidQoS
	}
	for _, t := range fixedTopics {
		if err := validateFilter(t); err != nil {
			return nil, err
		}
	}
	if handler == nil {
		handler = func(string, []byte) {}
	}

	s := &Session{
		cfg:       cfg,
		clientID:  clientID(cfg),
		qos:       byte(cfg.QoS),
		newClient: pahomqtt.NewClient,
		logger:    noopLogger{},
		handler:   handler,
		state:     StateDisconnected,
		fixed:     append([]string(nil), fixedTopics...),
		extra:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ClientID returns the identifier presented to the broker.
func (s *Session) ClientID() string {
	return s.clientID
}

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetOnStateChange registers the observer for state transitions.
func (s *Session) SetOnStateChange(fn StateChangeFunc) {
	s.callbackMu.Lock()
	s.onStateChange = fn
	s.callbackMu.Unlock()
}

// SetLogger replaces the session logger.
func (s *Session) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	s.mu.Lock()
	s.logger = l
	s.mu.Unlock()
}

func (s *Session) log() Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

// Connect starts connecting to the broker and returns immediately.
//
// Calling Connect while Connecting or Connected is a no-op. The outcome is
// reported through the state-change observer: Connected on acknowledgement,
// Disconnected with the error on rejection.
func (s *Session) Connect() error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return nil
	}

	s.generation++
	gen := s.generation

	opts := buildClientOptions(s.cfg, s.clientID)
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		s.handleConnect(gen, c)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.handleConnectionLost(gen, err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		s.handleReconnecting(gen)
	})

	client := s.newClient(opts)
	s.client = client
	s.state = StateConnecting
	logger := s.logger
	s.mu.Unlock()

	logger.Info("connecting to MQTT broker", "broker", brokerURL(s.cfg), "client_id", s.clientID)
	s.notify(StateConnecting, nil)

	token := client.Connect()
	go s.watchConnect(gen, token)

	return nil
}

// Disconnect closes the connection and cancels automatic reconnection.
// Later transport callbacks for this connection are ignored.
func (s *Session) Disconnect() {
	s.mu.Lock()
	client := s.client
	wasDisconnected := s.state == StateDisconnected
	s.generation++
	s.client = nil
	s.state = StateDisconnected
	logger := s.logger
	s.mu.Unlock()

	if client != nil {
		// paho waits up to the quiesce period; keep the caller unblocked.
		go client.Disconnect(defaultDisconnectQuiesce)
	}
	if wasDisconnected {
		return
	}

	logger.Info("disconnected from MQTT broker")
	s.notify(StateDisconnected, nil)
}

// HealthCheck reports ErrNotConnected unless the session is Connected.
func (s *Session) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if s.State() != StateConnected {
		return ErrNotConnected
	}
	return nil
}

// watchConnect waits for the initial connect token of generation gen.
func (s *Session) watchConnect(gen uint64, token pahomqtt.Token) {
	<-token.Done()
	err := token.Error()
	if err == nil {
		// Success is handled by the OnConnect handler.
		return
	}

	s.mu.Lock()
	if s.generation != gen || s.state == StateConnected {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.client = nil
	logger := s.logger
	s.mu.Unlock()

	logger.Warn("MQTT connection attempt failed", "broker", brokerURL(s.cfg), "error", err)
	s.notify(StateDisconnected, fmt.Errorf("%w: %w", ErrConnectionFailed, err))
}

// handleConnect runs on every successful connect, including auto-reconnects.
func (s *Session) handleConnect(gen uint64, client pahomqtt.Client) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.state = StateConnected
	topics := s.subscriptionsLocked()
	logger := s.logger
	s.mu.Unlock()

	logger.Info("connected to MQTT broker", "broker", brokerURL(s.cfg), "subscriptions", len(topics))

	for _, topic := range topics {
		s.subscribe(client, topic)
	}

	s.notify(StateConnected, nil)
}

func (s *Session) handleConnectionLost(gen uint64, err error) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	logger := s.logger
	s.mu.Unlock()

	logger.Warn("MQTT connection lost", "error", err)
	s.notify(StateDisconnected, err)
}

func (s *Session) handleReconnecting(gen uint64) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.state = StateConnecting
	logger := s.logger
	s.mu.Unlock()

	logger.Info("reconnecting to MQTT broker")
	s.notify(StateConnecting, nil)
}

func (s *Session) notify(state ConnectionState, err error) {
	s.callbackMu.RLock()
	fn := s.onStateChange
	s.callbackMu.RUnlock()
	if fn != nil {
		fn(state, err)
	}
}

// wrapHandler adapts the session handler to paho and recovers panics so a
// bad message cannot kill the delivery goroutine.
func (s *Session) wrapHandler() pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				s.log().Error("MQTT handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()

		s.handler(msg.Topic(), msg.Payload())
	}
}
