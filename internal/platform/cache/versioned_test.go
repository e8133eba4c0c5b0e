package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Value int `json:"value"`
}

func TestVersionedFetchAndBump(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewVersioned(client, "settings", time.Minute)
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return payload{Value: calls}, nil
	}

	key, err := c.BuildKey(ctx, "all")
	require.NoError(t, err)
	assert.Equal(t, "settings:all:1", key)

	var got payload
	require.NoError(t, c.FetchJSON(ctx, key, &got, loader))
	require.NoError(t, c.FetchJSON(ctx, key, &got, loader))
	assert.Equal(t, 1, got.Value)
	assert.Equal(t, 1, calls)

	require.NoError(t, c.Bump(ctx))
	key, err = c.BuildKey(ctx, "all")
	require.NoError(t, err)
	assert.Equal(t, "settings:all:2", key)
	require.NoError(t, c.FetchJSON(ctx, key, &got, loader))
	assert.Equal(t, 2, got.Value)
}

func TestVersionedWithoutRedis(t *testing.T) {
	c := NewVersioned(nil, "reports", time.Minute)
	ctx := context.Background()

	key, err := c.BuildKey(ctx, "overview", "8")
	require.NoError(t, err)
	assert.Equal(t, "reports:overview:8", key)
	require.NoError(t, c.Bump(ctx))

	var got payload
	require.NoError(t, c.FetchJSON(ctx, key, &got, func(context.Context) (any, error) {
		return payload{Value: 7}, nil
	}))
	assert.Equal(t, 7, got.Value)

	boom := errors.New("boom")
	err = c.FetchJSON(ctx, key, &got, func(context.Context) (any, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Error(t, c.FetchJSON(ctx, key, &got, nil))
}
