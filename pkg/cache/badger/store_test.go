package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(DefaultConfig(), WithInMemory())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Set(ctx, "snapshot", []byte("payload")))

	value, ok, err := s.Get(ctx, "snapshot")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "payload", string(value))

	require.NoError(t, s.Delete(ctx, "snapshot"))
	_, ok, err = s.Get(ctx, "snapshot")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)

	value, ok, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, value)
}

func TestStore_KeyPrefixIsolation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	other := &Store{db: s.db, keyPrefix: "other:", gcStop: make(chan struct{})}
	require.NoError(t, s.Set(ctx, "k", []byte("mine")))

	_, ok, err := other.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "a different prefix must not see the key")
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := New(DefaultConfig(), WithDir(dir), WithGCInterval(0))
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "k", []byte("durable")))
	require.NoError(t, s.Close())

	reopened, err := New(DefaultConfig(), WithDir(dir), WithGCInterval(0))
	require.NoError(t, err)
	defer reopened.Close()

	value, ok, err := reopened.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "durable", string(value))
}

func TestNew_RequiresDir(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrOpenFailed)
}

func TestStore_CanceledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Set(ctx, "k", nil), context.Canceled)
}
