package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/domotic-core/internal/infrastructure/kvstore"
)

// SchedulesKey is the durable record holding the ordered schedule list.
const SchedulesKey = "schedules"

// Repository persists the schedule list as one record.
type Repository interface {
	// Load returns the stored schedules in order. A missing record yields
	// an empty list.
	Load(ctx context.Context) ([]Schedule, error)

	// Save replaces the stored list.
	Save(ctx context.Context, schedules []Schedule) error
}

// KVRepository stores the schedule list as a JSON array in the key-value store.
//
// Entries that no longer decode (for example a time of "25:00") are
// skipped on Load and logged; the rest of the list is still returned.
type KVRepository struct {
	store  *kvstore.Store
	logger Logger
}

// NewKVRepository creates a repository over store.
func NewKVRepository(store *kvstore.Store) *KVRepository {
	return &KVRepository{store: store, logger: noopLogger{}}
}

// SetLogger sets the logger used to report skipped entries.
func (r *KVRepository) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// Load implements Repository.
func (r *KVRepository) Load(ctx context.Context) ([]Schedule, error) {
	var raw []json.RawMessage
	err := r.store.GetJSON(ctx, SchedulesKey, &raw)
	if errors.Is(err, kvstore.ErrNotFound) {
		return []Schedule{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading schedules: %w", err)
	}

	schedules := make([]Schedule, 0, len(raw))
	for i, entry := range raw {
		var s Schedule
		if err := json.Unmarshal(entry, &s); err != nil {
			r.logger.Warn("skipping undecodable stored schedule", "index", i, "error", err)
			continue
		}
		schedules = append(schedules, s)
	}
	return schedules, nil
}

// Save implements Repository.
func (r *KVRepository) Save(ctx context.Context, schedules []Schedule) error {
	if schedules == nil {
		schedules = []Schedule{}
	}
	if err := r.store.PutJSON(ctx, SchedulesKey, schedules); err != nil {
		return fmt.Errorf("saving schedules: %w", err)
	}
	return nil
}
