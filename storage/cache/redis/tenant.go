package rediscache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/tenant"
)

const tenantKeyPrefix = "masomo:tenant:devices:"

// Connect returns a client for a `redis://` URL or a host:port address.
func Connect(conf *core.Config) (*redis.Client, error) {
	if strings.HasPrefix(conf.Redis.Addr, "redis://") {
		opt, err := redis.ParseURL(conf.Redis.Addr)
		if err != nil {
			return nil, errors.Wrap(err, "parsing redis url")
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	}), nil
}

// TenantCache caches school device configurations for a fixed TTL.
type TenantCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ tenant.Cache = (*TenantCache)(nil)

func NewTenantCache(client *redis.Client, ttl time.Duration) *TenantCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TenantCache{client: client, ttl: ttl}
}

func tenantKey(schoolID string) string {
	return tenantKeyPrefix + schoolID
}

func (c *TenantCache) GetDeviceConfig(ctx context.Context, schoolID string) (tenant.DeviceConfig, bool, error) {
	raw, err := c.client.Get(ctx, tenantKey(schoolID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return tenant.DeviceConfig{}, false, nil
		}
		return tenant.DeviceConfig{}, false, errors.Wrap(err, "getting cached device config")
	}

	var cfg tenant.DeviceConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return tenant.DeviceConfig{}, false, errors.Wrap(err, "decoding cached device config")
	}
	return cfg, true, nil
}

func (c *TenantCache) SetDeviceConfig(ctx context.Context, cfg tenant.DeviceConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "encoding device config")
	}
	return errors.Wrap(c.client.Set(ctx, tenantKey(cfg.SchoolID), raw, c.ttl).Err(), "caching device config")
}

func (c *TenantCache) DeleteDeviceConfig(ctx context.Context, schoolID string) error {
	return errors.Wrap(c.client.Del(ctx, tenantKey(schoolID)).Err(), "deleting cached device config")
}
