package events

import (
	"slices"
	"sync"
	"time"

	"github.com/btittelbach/pubsub"
	"github.com/google/uuid"
)

// Handler receives emitted events. Each subscription runs its handler on
// its own goroutine, in emission order.
type Handler func(Event)

// Emitter is what producers depend on. *Bus satisfies it.
type Emitter interface {
	Emit(Event)
}

// TopicAll is the pubsub topic every event is also published on.
const TopicAll = "*"

// busCapacity is the per-subscriber buffer. A subscriber that falls this
// far behind holds up Emit.
const busCapacity = 64

// Bus fans events out over a pubsub.PubSub with one topic per Kind plus
// TopicAll. Safe for concurrent use.
type Bus struct {
	ps     *pubsub.PubSub[Event]
	now    func() time.Time
	logger Logger

	// mu guards closed; Emit and unsubscribe hold it shared so that Close
	// never shuts the pubsub down under them.
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		ps:     pubsub.New[Event](busCapacity),
		now:    time.Now,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger used to report handler panics.
func (b *Bus) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	b.logger = l
}

// Subscribe delivers every event to h and returns a function that removes
// it. The returned function waits for h to finish the events already
// queued, so it must not be called from h itself.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	return b.subscribe(h, []string{TopicAll})
}

// SubscribeKinds delivers only events of the given kinds to h. With no
// kinds it behaves like Subscribe.
func (b *Bus) SubscribeKinds(h Handler, kinds ...Kind) (unsubscribe func()) {
	if len(kinds) == 0 {
		return b.Subscribe(h)
	}
	topics := make([]string, 0, len(kinds))
	for _, k := range kinds {
		if !slices.Contains(topics, string(k)) {
			topics = append(topics, string(k))
		}
	}
	return b.subscribe(h, topics)
}

func (b *Bus) subscribe(h Handler, topics []string) func() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return func() {}
	}

	ch := b.ps.Sub(topics...)
	done := make(chan struct{})
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(done)
		for e := range ch {
			b.dispatch(h, e)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.RLock()
			if !b.closed {
				b.ps.Unsub(ch, topics...)
			}
			b.mu.RUnlock()
			<-done
		})
	}
}

// Emit stamps the event with an ID and timestamp when missing and
// publishes it on its kind's topic and on TopicAll. After Close it does
// nothing.
func (b *Bus) Emit(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.ps.Pub(e, string(e.Kind), TopicAll)
}

// Close shuts the pubsub down and waits until every handler has drained
// the events queued before it.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.ps.Shutdown()
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Bus) dispatch(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic recovered", "kind", e.Kind, "panic", r)
		}
	}()
	h(e)
}
