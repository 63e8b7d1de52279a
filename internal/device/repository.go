package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/domotic-core/internal/infrastructure/kvstore"
)

// StatesKey is the durable record holding every device's last known state.
const StatesKey = "device_states"

// Repository persists the device state map as one record.
type Repository interface {
	// Load returns the stored states. A missing record yields an empty map.
	Load(ctx context.Context) (map[ID]bool, error)

	// Save replaces the stored states.
	Save(ctx context.Context, states map[ID]bool) error
}

// KVRepository stores device states as a JSON object in the key-value store,
// for example {"LED1":true,"LED2":false}.
type KVRepository struct {
	store *kvstore.Store
}

// NewKVRepository creates a repository over store.
func NewKVRepository(store *kvstore.Store) *KVRepository {
	return &KVRepository{store: store}
}

// Load implements Repository.
func (r *KVRepository) Load(ctx context.Context) (map[ID]bool, error) {
	states := make(map[ID]bool)
	err := r.store.GetJSON(ctx, StatesKey, &states)
	if errors.Is(err, kvstore.ErrNotFound) {
		return map[ID]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading device states: %w", err)
	}
	return states, nil
}

// Save implements Repository.
func (r *KVRepository) Save(ctx context.Context, states map[ID]bool) error {
	if err := r.store.PutJSON(ctx, StatesKey, states); err != nil {
		return fmt.Errorf("saving device states: %w", err)
	}
	return nil
}
