package scoped

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baxromumarov/scoped/v2/internal/thread"
)

func TestCachePutLookup(t *testing.T) {
	th := thread.New()
	k := NewKey[int]()

	_, ok := cacheLookup(th, &k.key)
	assert.False(t, ok)

	cachePut(th, &k.key, 42)
	v, ok := cacheLookup(th, &k.key)
	require.True(t, ok)
	assert.Equal(t, 42, v)
	assert.Len(t, th.Cache(), CacheSize())
}

func TestCachePutRefreshesBothSlots(t *testing.T) {
	th := thread.New()
	k := NewKey[int]()
	c := make([]thread.Slot, CacheSize())
	c[k.primary] = thread.Slot{Key: &k.key, Value: 1}
	c[k.secondary] = thread.Slot{Key: &k.key, Value: 1}
	th.SetCache(c)

	cachePut(th, &k.key, 2)
	assert.Equal(t, 2, c[k.primary].Value)
	assert.Equal(t, 2, c[k.secondary].Value)
}

func TestCacheInvalidate(t *testing.T) {
	th := thread.New()
	a := NewKey[int]()
	cachePut(th, &a.key, 1)

	cacheInvalidate(th, a.bitmask)
	_, ok := cacheLookup(th, &a.key)
	assert.False(t, ok)

	for _, s := range th.Cache() {
		assert.Nil(t, s.Key)
	}
}

func TestCacheInvalidateNoCache(t *testing.T) {
	th := thread.New()
	cacheInvalidate(th, 0xffff_ffff)
	assert.Nil(t, th.Cache())
}

func TestVictimRatio(t *testing.T) {
	th := thread.New()
	const n = 160_000
	primary := 0
	for range n {
		if choosePrimary(th) {
			primary++
		}
	}
	assert.InDelta(t, 11.0/16.0, float64(primary)/n, 0.02)
}

func TestClearCacheKeepsValues(t *testing.T) {
	keys := make([]*Key[int], 40)
	var c *Carrier
	for i := range keys {
		keys[i] = NewKey[int]()
		c = And(c, keys[i], i)
	}

	err := c.Run(context.Background(), func(ctx context.Context) {
		for round := range 3 {
			for i, k := range keys {
				v, err := k.Get(ctx)
				require.NoError(t, err)
				assert.Equal(t, i, v, "round %d", round)
			}
			if round == 1 {
				ClearCache(ctx)
			}
		}
	})
	require.NoError(t, err)
}

func TestShadowedValueNotServedFromCache(t *testing.T) {
	k := NewKey[string]()
	ctx := context.Background()

	require.NoError(t, RunWhere(ctx, k, "outer", func(ctx context.Context) {
		v, _ := k.Get(ctx)
		require.Equal(t, "outer", v)

		require.NoError(t, RunWhere(ctx, k, "inner", func(ctx context.Context) {
			v, _ := k.Get(ctx)
			assert.Equal(t, "inner", v)
		}))

		v, _ = k.Get(ctx)
		assert.Equal(t, "outer", v)
	}))
}
