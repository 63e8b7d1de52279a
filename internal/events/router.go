package events

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/nerrad567/domotic-core/internal/device"
)

// Logger defines the logging interface used by the router and bus.
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

// StateWriter receives confirmed device states. *device.Registry satisfies it.
type StateWriter interface {
	ApplyConfirmed(ctx context.Context, id device.ID, on bool) error
}

// ReadingRecorder keeps the last telemetry value. *telemetry.Tracker satisfies it.
type ReadingRecorder interface {
	Record(value float64, at time.Time)
}

// TelemetrySink stores telemetry history, for example in InfluxDB.
type TelemetrySink interface {
	WriteTelemetry(topic string, value float64, at time.Time)
}

// Topics names the shared topics the router classifies.
type Topics struct {
	Telemetry string
	Alert     string
}

// persistTimeout bounds the registry write triggered by one message.
const persistTimeout = 5 * time.Second

// Router classifies inbound broker messages by topic and turns them into
// registry writes, telemetry updates and events.
//
// Route is called on the transport's ordered delivery goroutine, so
// messages are processed one at a time in arrival order.
type Router struct {
	catalog  *device.Catalog
	states   StateWriter
	readings ReadingRecorder
	sink     TelemetrySink
	emitter  Emitter
	topics   Topics
	logger   Logger
	now      func() time.Time
}

// NewRouter creates a router. sink may be nil.
func NewRouter(catalog *device.Catalog, states StateWriter, readings ReadingRecorder, emitter Emitter, topics Topics) *Router {
	return &Router{
		catalog:  catalog,
		states:   states,
		readings: readings,
		emitter:  emitter,
		topics:   topics,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the router logger.
func (r *Router) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	r.logger = l
}

// SetTelemetrySink attaches a history sink for readings.
func (r *Router) SetTelemetrySink(s TelemetrySink) {
	r.sink = s
}

// Route handles one inbound message. Messages on unknown topics are ignored.
func (r *Router) Route(topic string, payload []byte) {
	if dev, ok := r.catalog.ByTopic(topic); ok {
		r.routeDeviceState(dev, topic, payload)
		return
	}

	switch topic {
	case r.topics.Telemetry:
		r.routeTelemetry(topic, payload)
	case r.topics.Alert:
		r.routeAlert(topic, payload)
	default:
		r.logger.Debug("ignoring message on unknown topic", "topic", topic)
	}
}

// routeDeviceState applies a LED_ON/LED_OFF echo. Every valid message
// produces one event, even if the value did not change.
func (r *Router) routeDeviceState(dev device.Device, topic string, payload []byte) {
	on, err := device.ParsePayload(payload)
	if err != nil {
		r.parseFailed(topic, payload, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := r.states.ApplyConfirmed(ctx, dev.ID, on); err != nil {
		// The registry keeps the value in memory; observers still need to know.
		r.logger.Warn("confirmed device state not persisted", "device_id", dev.ID, "error", err)
	}

	r.emitter.Emit(Event{
		Kind:      KindDeviceStateChanged,
		Timestamp: r.now(),
		Title:     dev.Name,
		Body:      stateSentence(dev.Name, on),
		Data: map[string]any{
			"device_id": string(dev.ID),
			"on":        on,
			"source":    string(device.SourceConfirmed),
		},
	})
}

func (r *Router) routeTelemetry(topic string, payload []byte) {
	value, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err == nil && (math.IsNaN(value) || math.IsInf(value, 0)) {
		err = strconv.ErrSyntax
	}
	if err != nil {
		r.parseFailed(topic, payload, err)
		return
	}

	at := r.now()
	r.readings.Record(value, at)
	if r.sink != nil {
		r.sink.WriteTelemetry(topic, value, at)
	}

	r.emitter.Emit(Event{
		Kind:      KindTelemetryReading,
		Timestamp: at,
		Data: map[string]any{
			"topic": topic,
			"value": value,
		},
	})
}

// routeAlert raises an event for every recognised alert message, without
// debouncing. Unknown codes are dropped.
func (r *Router) routeAlert(topic string, payload []byte) {
	code := AlertCode(payload)
	if code != AlertTemperatureHigh {
		r.logger.Debug("ignoring unrecognised alert", "topic", topic, "code", string(payload))
		return
	}

	r.emitter.Emit(Event{
		Kind:      KindAlertRaised,
		Timestamp: r.now(),
		Title:     "Alerte de Température !",
		Body:      "La température dépasse le seuil défini.",
		Data: map[string]any{
			"code": string(code),
		},
	})
}

func (r *Router) parseFailed(topic string, payload []byte, err error) {
	r.logger.Warn("malformed payload", "topic", topic, "payload", string(payload), "error", err)
	r.emitter.Emit(Event{
		Kind:      KindParseFailed,
		Timestamp: r.now(),
		Data: map[string]any{
			"topic":   topic,
			"payload": string(payload),
			"error":   err.Error(),
		},
	})
}

// stateSentence renders "La prise 1 est allumée." from the device name.
func stateSentence(name string, on bool) string {
	verb := "éteinte"
	if on {
		verb = "allumée"
	}
	return "La " + lowerFirst(name) + " est " + verb + "."
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
