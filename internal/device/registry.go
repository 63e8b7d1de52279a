package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
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

// ChangeFunc observes registry mutations. It is called after the registry
// lock is released, in mutation order per caller.
type ChangeFunc func(Change)

// Registry holds the live on/off state of every catalog device and mirrors
// it to durable storage on every mutation.
//
// Two writers share it: command issuers write optimistically before the
// device answers, and the event router writes confirmed values from state
// echoes. The last write wins; State.Source tells the two apart.
//
// All public methods are thread-safe. Every state mutation goes through mu.
type Registry struct {
	catalog *Catalog
	repo    Repository
	logger  Logger
	now     func() time.Time

	mu     sync.RWMutex
	states map[ID]State
	echoes map[ID]Revision

	observerMu sync.RWMutex
	observers  []ChangeFunc
}

// NewRegistry creates a registry with every device off.
// Call Load to restore the stored states.
//
// Parameters:
//   - catalog: The fixed device set; its order is the listing order
//   - repo: Where states are loaded from and saved to
//
// Returns:
//   - *Registry: Registry with one Off entry per catalog device
func NewRegistry(catalog *Catalog, repo Repository) *Registry {
	r := &Registry{
		catalog: catalog,
		repo:    repo,
		logger:  noopLogger{},
		now:     time.Now,
		states:  make(map[ID]State, catalog.Len()),
		echoes:  make(map[ID]Revision, catalog.Len()),
	}
	for _, id := range catalog.IDs() {
		r.states[id] = State{On: false, Source: SourceStored}
	}
	return r
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// OnChange registers an observer for every mutation.
func (r *Registry) OnChange(fn ChangeFunc) {
	r.observerMu.Lock()
	r.observers = append(r.observers, fn)
	r.observerMu.Unlock()
}

// Catalog returns the device catalog.
func (r *Registry) Catalog() *Catalog {
	return r.catalog
}

// Load restores states from the repository. Stored entries for devices no
// longer in the catalog are ignored; catalog devices missing from storage
// stay off.
func (r *Registry) Load(ctx context.Context) error {
	stored, err := r.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading device states: %w", err)
	}

	at := r.now()

	r.mu.Lock()
	for id, on := range stored {
		if _, ok := r.catalog.Get(id); !ok {
			r.logger.Warn("ignoring stored state for unknown device", "device_id", id)
			continue
		}
		r.states[id] = State{On: on, Source: SourceStored, UpdatedAt: at}
	}
	r.mu.Unlock()

	r.logger.Info("device states restored", "count", len(stored))
	return nil
}

// Get returns the current state of one device.
func (r *Registry) Get(id ID) (State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.states[id]
	if !ok {
		return State{}, fmt.Errorf("%w: %q", ErrUnknownDevice, id)
	}
	return s, nil
}

// List returns every device with its state, in catalog order.
func (r *Registry) List() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, 0, r.catalog.Len())
	for _, d := range r.catalog.Devices() {
		out = append(out, Status{Device: d, State: r.states[d.ID]})
	}
	return out
}

// Revision counts the state echoes received from one device.
type Revision uint64

// EchoRevision returns the number of echoes applied to id so far. A
// command reads it before publishing and hands it to ApplyOptimisticSince.
func (r *Registry) EchoRevision(id ID) Revision {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.echoes[id]
}

// ApplyOptimistic records the state a command is expected to produce.
func (r *Registry) ApplyOptimistic(ctx context.Context, id ID, on bool) error {
	return r.apply(ctx, id, on, SourceOptimistic, nil)
}

// ApplyOptimisticSince is ApplyOptimistic for a command published after
// EchoRevision returned rev. If the device has echoed since, the echo
// already holds the real state and nothing is written.
func (r *Registry) ApplyOptimisticSince(ctx context.Context, id ID, on bool, rev Revision) error {
	return r.apply(ctx, id, on, SourceOptimistic, &rev)
}

// ApplyConfirmed records a state echoed by the device itself.
func (r *Registry) ApplyConfirmed(ctx context.Context, id ID, on bool) error {
	return r.apply(ctx, id, on, SourceConfirmed, nil)
}

// apply mutates one device and persists the whole map. A persistence
// failure is returned but the in-memory value is kept. A non-nil since
// drops the write when an echo arrived after that revision.
func (r *Registry) apply(ctx context.Context, id ID, on bool, source Source, since *Revision) error {
	dev, ok := r.catalog.Get(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, id)
	}

	at := r.now()

	r.mu.Lock()
	if since != nil && r.echoes[id] != *since {
		r.mu.Unlock()
		r.logger.Debug("optimistic state superseded by echo", "device_id", id, "on", on)
		return nil
	}
	if source == SourceConfirmed {
		r.echoes[id]++
	}
	previous := r.states[id].On
	r.states[id] = State{On: on, Source: source, UpdatedAt: at}
	snapshot := r.snapshotLocked()
	// Saving under the lock keeps the durable copy in mutation order.
	saveErr := r.repo.Save(ctx, snapshot)
	r.mu.Unlock()

	if saveErr != nil {
		r.logger.Error("persisting device states failed", "device_id", id, "error", saveErr)
	}

	r.logger.Debug("device state applied", "device_id", id, "on", on, "source", source)
	r.notify(Change{Device: dev, On: on, Previous: previous, Source: source, At: at})

	if saveErr != nil {
		return fmt.Errorf("persisting state of %s: %w", id, saveErr)
	}
	return nil
}

func (r *Registry) snapshotLocked() map[ID]bool {
	out := make(map[ID]bool, len(r.states))
	for id, s := range r.states {
		out[id] = s.On
	}
	return out
}

func (r *Registry) notify(c Change) {
	r.observerMu.RLock()
	observers := append([]ChangeFunc(nil), r.observers...)
	r.observerMu.RUnlock()

	for _, fn := range observers {
		fn(c)
	}
}
