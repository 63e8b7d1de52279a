package automation

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/domotic-core/internal/device"
)

// Logger defines the logging interface used by the Store and Evaluator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Store is the ordered, durable list of schedules.
//
// The in-memory list is authoritative. Every mutation rewrites the whole
// list through the Repository; if that fails the change is kept in memory
// and the error is returned to the caller.
//
// All public methods are thread-safe.
type Store struct {
	repo    Repository
	catalog *device.Catalog
	logger  Logger
	newID   func() string

	mu        sync.RWMutex
	schedules []Schedule
}

// NewStore creates an empty store. Call Load to restore the stored list.
func NewStore(repo Repository, catalog *device.Catalog) *Store {
	return &Store{
		repo:    repo,
		catalog: catalog,
		logger:  noopLogger{},
		newID:   uuid.NewString,
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// Load replaces the in-memory list with the stored one. Stored schedules
// that fail validation are kept so they can be fixed or deleted; the
// evaluator skips them.
func (s *Store) Load(ctx context.Context) error {
	schedules, err := s.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading schedules: %w", err)
	}

	for _, sc := range schedules {
		if err := ValidateSchedule(sc, s.catalog); err != nil {
			s.logger.Warn("stored schedule is invalid", "schedule_id", sc.ID, "error", err)
		}
	}

	s.mu.Lock()
	s.schedules = schedules
	s.mu.Unlock()

	s.logger.Info("schedules restored", "count", len(schedules))
	return nil
}

// List returns a copy of every schedule, in order.
func (s *Store) List() []Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Schedule(nil), s.schedules...)
}

// Get returns one schedule by ID.
func (s *Store) Get(id string) (Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexLocked(id)
	if i < 0 {
		return Schedule{}, fmt.Errorf("%w: %q", ErrScheduleNotFound, id)
	}
	return s.schedules[i], nil
}

// Create validates sc and appends it. An empty ID is replaced by a UUID.
func (s *Store) Create(ctx context.Context, sc Schedule) (Schedule, error) {
	if sc.ID == "" {
		sc.ID = s.newID()
	}
	if err := ValidateSchedule(sc, s.catalog); err != nil {
		return Schedule{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(sc.ID) >= 0 {
		return Schedule{}, fmt.Errorf("%w: %q", ErrScheduleExists, sc.ID)
	}
	s.schedules = append(s.schedules, sc)

	s.logger.Info("schedule created", "schedule_id", sc.ID, "target", sc.Target, "window", sc.Window())
	return sc, s.persistLocked(ctx)
}

// Update replaces the schedule with the same ID, keeping its position.
func (s *Store) Update(ctx context.Context, sc Schedule) (Schedule, error) {
	if err := ValidateSchedule(sc, s.catalog); err != nil {
		return Schedule{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(sc.ID)
	if i < 0 {
		return Schedule{}, fmt.Errorf("%w: %q", ErrScheduleNotFound, sc.ID)
	}
	s.schedules[i] = sc

	s.logger.Info("schedule updated", "schedule_id", sc.ID)
	return sc, s.persistLocked(ctx)
}

// Delete removes a schedule.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrScheduleNotFound, id)
	}
	s.schedules = append(s.schedules[:i:i], s.schedules[i+1:]...)

	s.logger.Info("schedule deleted", "schedule_id", id)
	return s.persistLocked(ctx)
}

// SetEnabled toggles a schedule without touching its other fields.
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) (Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return Schedule{}, fmt.Errorf("%w: %q", ErrScheduleNotFound, id)
	}
	s.schedules[i].Enabled = enabled

	s.logger.Info("schedule enabled changed", "schedule_id", id, "enabled", enabled)
	return s.schedules[i], s.persistLocked(ctx)
}

func (s *Store) indexLocked(id string) int {
	for i := range s.schedules {
		if s.schedules[i].ID == id {
			return i
		}
	}
	return -1
}

// persistLocked writes the list while the lock is held so stored order
// matches mutation order.
func (s *Store) persistLocked(ctx context.Context) error {
	if err := s.repo.Save(ctx, append([]Schedule(nil), s.schedules...)); err != nil {
		s.logger.Error("persisting schedules failed", "error", err)
		return fmt.Errorf("%w: %w", ErrNotPersisted, err)
	}
	return nil
}
