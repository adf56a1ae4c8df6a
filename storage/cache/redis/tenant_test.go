package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-live/core/tenant"
	"github.com/trezcool/masomo-live/testutil"
)

func TestConnect(t *testing.T) {
	conf := testutil.NewConfig()

	conf.Redis.Addr = "redis://:secret@cache.internal:6380/2"
	client, err := Connect(conf)
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", client.Options().Addr)
	assert.Equal(t, "secret", client.Options().Password)
	assert.Equal(t, 2, client.Options().DB)

	conf.Redis.Addr = "localhost:6379"
	conf.Redis.DB = 3
	client, err = Connect(conf)
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", client.Options().Addr)
	assert.Equal(t, 3, client.Options().DB)

	conf.Redis.Addr = "redis://cache.internal:6380/not-a-db"
	_, err = Connect(conf)
	assert.Error(t, err)
}

func TestTenantKey(t *testing.T) {
	assert.Equal(t, "masomo:tenant:devices:school-1", tenantKey("school-1"))
}

// With no server reachable, every call reports an error, which the tenant service treats as a miss.
func TestTenantCache_Unreachable(t *testing.T) {
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer func() { _ = client.Close() }()
	cache := NewTenantCache(client, time.Minute)

	_, ok, err := cache.GetDeviceConfig(ctx, "school-1")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Error(t, cache.SetDeviceConfig(ctx, tenant.DeviceConfig{SchoolID: "school-1"}))
	assert.Error(t, cache.DeleteDeviceConfig(ctx, "school-1"))
}
