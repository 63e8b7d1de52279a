package mqtt

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/domotic-core/internal/infrastructure/config"
)

var testFixedTopics = []string{"sae301/led", "sae301_2/led", "sae301/temperature", "sae301/alert"}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "domotic-test",
		},
		QoS:       1,
		KeepAlive: 60,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

type inbound struct {
	topic   string
	payload string
}

type harness struct {
	session  *Session
	factory  *factory
	recorder *stateRecorder
	logger   *recordingLogger

	mu       sync.Mutex
	received []inbound
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		factory:  &factory{},
		recorder: &stateRecorder{},
		logger:   &recordingLogger{},
	}

	s, err := NewSession(testConfig(), testFixedTopics, func(topic string, payload []byte) {
		h.mu.Lock()
		h.received = append(h.received, inbound{topic, string(payload)})
		h.mu.Unlock()
	}, WithClientFactory(h.factory.New), WithLogger(h.logger))
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	s.SetOnStateChange(h.recorder.record)
	h.session = s
	return h
}

func (h *harness) connect(t *testing.T) *fakeClient {
	t.Helper()
	if err := h.session.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	c := h.factory.last()
	c.ackConnect()
	if got := h.session.State(); got != StateConnected {
		t.Fatalf("State() = %v, want connected", got)
	}
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewSession_Validation(t *testing.T) {
	cfg := testConfig()
	cfg.QoS = 3
	if _, err := NewSession(cfg, nil, nil); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("NewSession(qos=3) error = %v, want ErrInvalidQoS", err)
	}

	if _, err := NewSession(testConfig(), []string{""}, nil); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("NewSession(empty topic) error = %v, want ErrInvalidTopic", err)
	}
}

func TestNewSession_GeneratesClientID(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = ""

	a, err := NewSession(cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	b, _ := NewSession(cfg, nil, nil)

	if !strings.HasPrefix(a.ClientID(), clientIDPrefix) {
		t.Errorf("ClientID() = %q, want prefix %q", a.ClientID(), clientIDPrefix)
	}
	if a.ClientID() == b.ClientID() {
		t.Error("generated client IDs should differ")
	}
}

func TestSession_ConnectLifecycle(t *testing.T) {
	h := newHarness(t)

	if got := h.session.State(); got != StateDisconnected {
		t.Fatalf("initial State() = %v, want disconnected", got)
	}

	if err := h.session.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := h.session.State(); got != StateConnecting {
		t.Errorf("State() after Connect = %v, want connecting", got)
	}

	// A second Connect while connecting is a no-op.
	if err := h.session.Connect(); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if h.factory.count() != 1 {
		t.Errorf("clients created = %d, want 1", h.factory.count())
	}

	h.factory.last().ackConnect()

	want := []ConnectionState{StateConnecting, StateConnected}
	if got := h.recorder.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
	if err := h.session.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestSession_ConnectFailure(t *testing.T) {
	h := newHarness(t)

	if err := h.session.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	h.factory.last().failConnect(errBrokerDown)

	waitFor(t, "disconnected notification", func() bool {
		return len(h.recorder.snapshot()) == 2
	})
	if got := h.session.State(); got != StateDisconnected {
		t.Fatalf("State() = %v, want disconnected", got)
	}

	if err := h.recorder.lastErr(); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("reported error = %v, want ErrConnectionFailed", err)
	}

	// The session can be connected again afterwards.
	h.connect(t)
	if h.factory.count() != 2 {
		t.Errorf("clients created = %d, want 2", h.factory.count())
	}
}

func TestSession_ResubscribesOnEveryConnect(t *testing.T) {
	h := newHarness(t)
	client := h.connect(t)

	if got := client.subscribedTopics(); !reflect.DeepEqual(got, testFixedTopics) {
		t.Fatalf("subscriptions after first connect = %v, want %v", got, testFixedTopics)
	}

	client.loseConnection(errBrokerDown)
	if got := h.session.State(); got != StateDisconnected {
		t.Fatalf("State() after loss = %v, want disconnected", got)
	}
	if err := h.session.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}

	client.reconnecting()
	if got := h.session.State(); got != StateConnecting {
		t.Fatalf("State() while reconnecting = %v, want connecting", got)
	}

	client.ackConnect()

	got := client.subscribedTopics()
	if len(got) != 2*len(testFixedTopics) {
		t.Fatalf("subscribe calls = %d, want %d", len(got), 2*len(testFixedTopics))
	}
	if !reflect.DeepEqual(got[len(testFixedTopics):], testFixedTopics) {
		t.Errorf("re-issued subscriptions = %v, want %v", got[len(testFixedTopics):], testFixedTopics)
	}

	want := []ConnectionState{StateConnecting, StateConnected, StateDisconnected, StateConnecting, StateConnected}
	if states := h.recorder.snapshot(); !reflect.DeepEqual(states, want) {
		t.Errorf("states = %v, want %v", states, want)
	}
}

func TestSession_ExtraSubscriptions(t *testing.T) {
	h := newHarness(t)

	// Added while disconnected: remembered for the next connect.
	if err := h.session.Subscribe("sae301/feedback"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	client := h.connect(t)

	got := client.subscribedTopics()
	if got[len(got)-1] != "sae301/feedback" {
		t.Errorf("subscriptions = %v, want feedback topic last", got)
	}

	// Subscribing to a fixed topic does not duplicate it.
	if err := h.session.Subscribe("sae301/led"); err != nil {
		t.Fatalf("Subscribe(fixed) error = %v", err)
	}
	if n := len(client.subscribedTopics()); n != len(testFixedTopics)+1 {
		t.Errorf("subscribe calls = %d, want %d", n, len(testFixedTopics)+1)
	}

	if err := h.session.Unsubscribe("sae301/led"); !errors.Is(err, ErrFixedTopic) {
		t.Errorf("Unsubscribe(fixed) error = %v, want ErrFixedTopic", err)
	}
	if err := h.session.Unsubscribe("sae301/feedback"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if got := client.unsubscribedTopics(); !reflect.DeepEqual(got, []string{"sae301/feedback"}) {
		t.Errorf("unsubscribed = %v", got)
	}
	if got := h.session.Subscriptions(); !reflect.DeepEqual(got, testFixedTopics) {
		t.Errorf("Subscriptions() = %v, want fixed set only", got)
	}
}

func TestSession_PublishDropsWhenNotConnected(t *testing.T) {
	h := newHarness(t)

	if err := h.session.Publish("sae301/led", []byte("LED_ON")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Publish() while disconnected error = %v, want ErrNotConnected", err)
	}

	client := h.connect(t)
	client.loseConnection(errBrokerDown)

	if err := h.session.Publish("sae301/led", []byte("LED_ON")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Publish() after loss error = %v, want ErrNotConnected", err)
	}

	// Nothing was queued for later.
	client.ackConnect()
	if got := client.publishedMessages(); len(got) != 0 {
		t.Errorf("published = %v, want none", got)
	}
}

func TestSession_Publish(t *testing.T) {
	h := newHarness(t)
	client := h.connect(t)

	if err := h.session.Publish("sae301_2/led", []byte("LED_OFF")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got := client.publishedMessages()
	if len(got) != 1 {
		t.Fatalf("published %d messages, want 1", len(got))
	}
	if got[0].topic != "sae301_2/led" || string(got[0].payload) != "LED_OFF" {
		t.Errorf("published %+v", got[0])
	}
	if got[0].retained {
		t.Error("commands must not be retained")
	}
	if got[0].qos != 1 {
		t.Errorf("qos = %d, want 1", got[0].qos)
	}
}

func TestSession_PublishValidation(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	tests := []struct {
		name    string
		topic   string
		payload []byte
		want    error
	}{
		{"empty topic", "", []byte("x"), ErrInvalidTopic},
		{"wildcard", "sae301/+", []byte("x"), ErrInvalidTopic},
		{"too large", "sae301/led", make([]byte, maxPayloadSize+1), ErrPayloadTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := h.session.Publish(tt.topic, tt.payload); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSession_InboundMessages(t *testing.T) {
	h := newHarness(t)
	client := h.connect(t)

	client.deliver("sae301/led", []byte("LED_ON"))
	client.deliver("sae301/temperature", []byte("21.5"))

	h.mu.Lock()
	defer h.mu.Unlock()
	want := []inbound{{"sae301/led", "LED_ON"}, {"sae301/temperature", "21.5"}}
	if !reflect.DeepEqual(h.received, want) {
		t.Errorf("received = %v, want %v", h.received, want)
	}
}

func TestSession_HandlerPanicRecovered(t *testing.T) {
	factory := &factory{}
	logger := &recordingLogger{}
	s, err := NewSession(testConfig(), testFixedTopics, func(string, []byte) {
		panic("boom")
	}, WithClientFactory(factory.New), WithLogger(logger))
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	if err := s.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client := factory.last()
	client.ackConnect()

	client.deliver("sae301/led", []byte("LED_ON"))

	if logger.errorCount() != 1 {
		t.Errorf("logged errors = %d, want 1", logger.errorCount())
	}
}

func TestSession_DisconnectIgnoresLateCallbacks(t *testing.T) {
	h := newHarness(t)
	client := h.connect(t)

	h.session.Disconnect()

	select {
	case <-client.disconnected:
	case <-time.After(time.Second):
		t.Fatal("transport was not disconnected")
	}

	if got := h.session.State(); got != StateDisconnected {
		t.Fatalf("State() = %v, want disconnected", got)
	}

	// Callbacks from the old transport must not resurrect the session.
	client.reconnecting()
	client.ackConnect()
	client.loseConnection(errBrokerDown)

	if got := h.session.State(); got != StateDisconnected {
		t.Errorf("State() after stale callbacks = %v, want disconnected", got)
	}
	want := []ConnectionState{StateConnecting, StateConnected, StateDisconnected}
	if got := h.recorder.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}

	// Disconnect when already disconnected does not notify again.
	h.session.Disconnect()
	if got := len(h.recorder.snapshot()); got != len(want) {
		t.Errorf("notifications = %d, want %d", got, len(want))
	}
}

func TestSession_HealthCheckCancelled(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.session.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestConnectionState_String(t *testing.T) {
	tests := map[ConnectionState]string{
		StateDisconnected:   "disconnected",
		StateConnecting:     "connecting",
		StateConnected:      "connected",
		ConnectionState(42): "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(state), got, want)
		}
		text, _ := state.MarshalText()
		if string(text) != want {
			t.Errorf("MarshalText() = %q, want %q", text, want)
		}
	}
}

func TestFixedTopics(t *testing.T) {
	cfg := &config.Config{
		MQTT: config.MQTTConfig{Topics: config.MQTTTopicsConfig{
			Telemetry: "sae301/temperature",
			Alert:     "sae301/alert",
		}},
		Devices: []config.DeviceConfig{
			{ID: "LED1", Topic: "sae301/led"},
			{ID: "LED2", Topic: "sae301_2/led"},
		},
	}

	if got := FixedTopics(cfg); !reflect.DeepEqual(got, testFixedTopics) {
		t.Errorf("FixedTopics() = %v, want %v", got, testFixedTopics)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.InsecureSkipVerify = true
	cfg.Auth.Username = "serveur-rpi"
	cfg.KeepAlive = 30

	opts := buildClientOptions(cfg, "domotic-abc")

	if opts.ClientID != "domotic-abc" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.Username != "serveur-rpi" {
		t.Errorf("Username = %q", opts.Username)
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if opts.KeepAlive != 30 {
		t.Errorf("KeepAlive = %d, want 30", opts.KeepAlive)
	}
	if opts.TLSConfig == nil || !opts.TLSConfig.InsecureSkipVerify {
		t.Error("TLSConfig should skip verification when configured")
	}
}
