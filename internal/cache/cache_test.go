package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledCacheDegradesToNoops(t *testing.T) {
	c, err := NewCache(Config{Enabled: false})
	require.NoError(t, err)
	assert.False(t, c.IsEnabled())

	assert.NoError(t, c.Set(context.Background(), "k", "v", 0))
	assert.NoError(t, c.Delete(context.Background(), "k"))
	assert.Error(t, c.Get(context.Background(), "k", new(string)))
}

func TestRateLimitStoreErrorsWhenCacheDisabled(t *testing.T) {
	c, err := NewCache(Config{Enabled: false})
	require.NoError(t, err)
	store := NewRateLimitStore(c)

	_, _, err = store.Allow(context.Background(), "ip:1.2.3.4", 10, 60)
	assert.Error(t, err)
}
