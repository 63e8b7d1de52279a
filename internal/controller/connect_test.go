package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/domotic-core/internal/automation"
	"github.com/nerrad567/domotic-core/internal/device"
	"github.com/nerrad567/domotic-core/internal/infrastructure/config"
	"github.com/nerrad567/domotic-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/domotic-core/internal/telemetry"
)

type pahoToken struct {
	done chan struct{}
	once sync.Once
}

func newPahoToken() *pahoToken { return &pahoToken{done: make(chan struct{})} }

func (t *pahoToken) complete() { t.once.Do(func() { close(t.done) }) }

func (t *pahoToken) Wait() bool {
	<-t.done
	return true
}

func (t *pahoToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *pahoToken) Done() <-chan struct{} { return t.done }
func (t *pahoToken) Error() error          { return nil }

// pahoClient stands in for the transport under a real mqtt.Session.
type pahoClient struct {
	pahomqtt.Client

	opts    *pahomqtt.ClientOptions
	connect *pahoToken

	mu        sync.Mutex
	published map[string][]string
}

func (c *pahoClient) Connect() pahomqtt.Token { return c.connect }
func (c *pahoClient) Disconnect(uint)         {}
func (c *pahoClient) IsConnected() bool       { return true }

func (c *pahoClient) Publish(topic string, _ byte, _ bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	c.published[topic] = append(c.published[topic], string(payload.([]byte)))
	c.mu.Unlock()
	t := newPahoToken()
	t.complete()
	return t
}

func (c *pahoClient) Subscribe(string, byte, pahomqtt.MessageHandler) pahomqtt.Token {
	t := newPahoToken()
	t.complete()
	return t
}

func (c *pahoClient) ack() {
	c.connect.complete()
	c.opts.OnConnect(c)
}

func (c *pahoClient) sent(topic string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.published[topic]...)
}

// stillClock never fires, so only connection events drive the evaluator.
type stillClock struct{ now time.Time }

func (c stillClock) Now() time.Time                     { return c.now }
func (stillClock) After(time.Duration) <-chan time.Time { return nil }

func TestController_ResumesOpenWindowOnFirstConnect(t *testing.T) {
	ctx := context.Background()
	catalog, err := device.NewCatalog([]device.Device{
		{ID: device.LED1, Name: "Prise 1", Topic: "sae301/led"},
		{ID: device.LED2, Name: "Prise 2", Topic: "sae301_2/led"},
	})
	require.NoError(t, err)

	store := automation.NewStore(memScheduleRepo{}, catalog)
	_, err = store.Create(ctx, automation.Schedule{
		Target:  automation.TargetDevice(device.LED1),
		Start:   automation.MustMinuteOfDay(8, 0),
		End:     automation.MustMinuteOfDay(9, 0),
		Action:  automation.ActionOn,
		Enabled: true,
	})
	require.NoError(t, err)

	var client *pahoClient
	session, err := mqtt.NewSession(config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: "127.0.0.1", Port: 1883, ClientID: "domotic-test"},
		QoS:    1,
	}, nil, nil, mqtt.WithClientFactory(func(opts *pahomqtt.ClientOptions) pahomqtt.Client {
		client = &pahoClient{opts: opts, connect: newPahoToken(), published: map[string][]string{}}
		return client
	}))
	require.NoError(t, err)

	registry := device.NewRegistry(catalog, memDeviceRepo{})
	commander := device.NewCommander(registry, session, true)
	rec := &recorder{}
	eval := automation.NewEvaluator(store, catalog, commander, rec,
		automation.WithLocation(time.UTC),
		automation.WithReapplyOnResume(true),
		automation.WithClock(stillClock{now: time.Date(2026, 10, 17, 8, 30, 0, 0, time.UTC)}),
	)

	ctrl, err := New(Deps{
		Registry:  registry,
		Commander: commander,
		Schedules: store,
		Evaluator: eval,
		Readings:  telemetry.NewTracker(),
		Session:   session,
		Emitter:   rec,
		Audit:     &memAudit{},
	})
	require.NoError(t, err)
	ctrl.ObserveConnection(session)

	require.NoError(t, eval.Start(ctx))
	t.Cleanup(eval.Stop)

	require.NoError(t, ctrl.Connect())
	require.NotNil(t, client)
	assert.Equal(t, mqtt.StateConnecting, session.State())
	assert.Empty(t, client.sent("sae301/led"), "nothing is sent before the broker acknowledges")
	assert.Empty(t, eval.Active(store.List()[0].ID))

	client.ack()

	assert.Equal(t, mqtt.StateConnected, session.State())
	assert.Equal(t, []string{"LED_ON"}, client.sent("sae301/led"))
	assert.Empty(t, client.sent("sae301_2/led"))
	assert.Equal(t, []device.ID{device.LED1}, eval.Active(store.List()[0].ID))

	st, err := ctrl.Device(device.LED1)
	require.NoError(t, err)
	assert.True(t, st.On)

	// A reconnect does not reapply the window a second time.
	client.ack()
	assert.Equal(t, []string{"LED_ON"}, client.sent("sae301/led"))
}
