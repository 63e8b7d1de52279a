package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/domotic-core/internal/infrastructure/config"
	"github.com/nerrad567/domotic-core/internal/infrastructure/database"
	"github.com/nerrad567/domotic-core/migrations"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	require.NoError(t, db.Migrate(context.Background(), migrations.FS))
	return New(db)
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_PutOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", "one"))
	require.NoError(t, s.Put(ctx, "k", "two"))

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "two", v)
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", "v"))
	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_JSON(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := map[string]bool{"LED1": true, "LED2": false}
	require.NoError(t, s.PutJSON(ctx, "device_states", in))

	var out map[string]bool
	require.NoError(t, s.GetJSON(ctx, "device_states", &out))
	assert.Equal(t, in, out)

	require.NoError(t, s.Put(ctx, "broken", "{not json"))
	err := s.GetJSON(ctx, "broken", &out)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
