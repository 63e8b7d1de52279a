package automation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/domotic-core/internal/device"
	"github.com/nerrad567/domotic-core/internal/events"
)

func testCatalog(t *testing.T) *device.Catalog {
	t.Helper()
	catalog, err := device.NewCatalog([]device.Device{
		{ID: device.LED1, Name: "Prise 1", Topic: "sae301/led"},
		{ID: device.LED2, Name: "Prise 2", Topic: "sae301_2/led"},
	})
	require.NoError(t, err)
	return catalog
}

// memRepo is an in-memory Repository.
type memRepo struct {
	mu      sync.Mutex
	saved   []Schedule
	saves   int
	saveErr error
}

func (m *memRepo) Load(context.Context) ([]Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Schedule(nil), m.saved...), nil
}

func (m *memRepo) Save(_ context.Context, s []Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append([]Schedule(nil), s...)
	return nil
}

// staticSource serves a fixed schedule list.
type staticSource []Schedule

func (s staticSource) List() []Schedule { return append([]Schedule(nil), s...) }

type command struct {
	At     string
	Device device.ID
	On     bool
}

// fakeCommander records commands and fails for selected devices.
type fakeCommander struct {
	mu       sync.Mutex
	at       string
	commands []command
	failFor  map[device.ID]bool
}

var errPublish = errors.New("not connected")

func (c *fakeCommander) SetState(_ context.Context, id device.ID, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failFor[id] {
		return errPublish
	}
	c.commands = append(c.commands, command{At: c.at, Device: id, On: on})
	return nil
}

func (c *fakeCommander) setMinute(s string) {
	c.mu.Lock()
	c.at = s
	c.mu.Unlock()
}

func (c *fakeCommander) recorded() []command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]command(nil), c.commands...)
}

func (c *fakeCommander) reset() {
	c.mu.Lock()
	c.commands = nil
	c.mu.Unlock()
}

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Emit(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) ofKind(k events.Kind) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// fakeClock reports requested waits and fires when the test says so.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits chan time.Duration
	fire  chan time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{
		now:   now,
		waits: make(chan time.Duration, 16),
		fire:  make(chan time.Time),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.waits <- d
	return c.fire
}

func day(hour, minute int) time.Time {
	return time.Date(2026, 10, 17, hour, minute, 0, 0, time.UTC)
}

func window(id string, target Target, start, end string, action Action) Schedule {
	s, err := ParseMinuteOfDay(start)
	if err != nil {
		panic(err)
	}
	e, err := ParseMinuteOfDay(end)
	if err != nil {
		panic(err)
	}
	return Schedule{ID: id, Target: target, Start: s, End: e, Action: action, Enabled: true}
}
