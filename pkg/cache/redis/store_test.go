package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromClient(t *testing.T) {
	s := NewFromClient(nil, "test:")
	require.NotNil(t, s)
	assert.Equal(t, "test:", s.keyPrefix)
	assert.NoError(t, s.Close(), "closing a store without client is a no-op")
}

func TestPrefixKey(t *testing.T) {
	tests := []struct {
		prefix string
		key    string
		want   string
	}{
		{"", "snapshot", "cache:snapshot"},
		{"facegate:", "snapshot", "facegate:cache:snapshot"},
		{"a:b:", "x/y", "a:b:cache:x/y"},
	}
	for _, tt := range tests {
		s := NewFromClient(nil, tt.prefix)
		assert.Equal(t, tt.want, s.prefixKey(tt.key))
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "localhost:6379", cfg.Address)
	assert.Equal(t, "facegate:", cfg.KeyPrefix)
	assert.Positive(t, cfg.DialTimeout)
}

func TestNew_Unreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Address = "127.0.0.1:1"
	cfg.DialTimeout = 200 * time.Millisecond

	_, err := New(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestStore_ErrorsWrapped(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	s := NewFromClient(client, "t:")
	defer s.Close()

	_, ok, err := s.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.ErrorContains(t, err, "cache get")
	assert.ErrorContains(t, s.Set(context.Background(), "k", []byte("v")), "cache put")
}
