package kv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	values  map[string]string
	ttls    map[string]time.Duration
	failing error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.failing != nil {
		return redis.NewStringResult("", f.failing)
	}
	value, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	if f.failing != nil {
		return redis.NewStatusResult("", f.failing)
	}
	f.values[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisStoreMapsNilToNotFound(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	store := newRedis(fake, WithKeyPrefix("storefront:"), WithTTL(time.Hour))

	_, err := store.Get(ctx, "session/1/guest_cart")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "session/1/guest_cart", []byte("[]")))
	require.Equal(t, "[]", fake.values["storefront:session/1/guest_cart"])
	require.Equal(t, time.Hour, fake.ttls["storefront:session/1/guest_cart"])

	got, err := store.Get(ctx, "session/1/guest_cart")
	require.NoError(t, err)
	require.Equal(t, []byte("[]"), got)

	require.NoError(t, store.Delete(ctx, "session/1/guest_cart"))
	require.Empty(t, fake.values)
	require.NoError(t, store.Close())
}

func TestRedisStoreWrapsTransportErrors(t *testing.T) {
	fake := newFakeRedis()
	fake.failing = errors.New("connection refused")
	store := newRedis(fake)

	_, err := store.Get(context.Background(), "k")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
	require.ErrorContains(t, store.Set(context.Background(), "k", []byte("v")), "connection refused")
}
