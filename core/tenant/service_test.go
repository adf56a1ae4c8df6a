package tenant

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

type repoStub struct {
	cfgs   map[string]DeviceConfig
	err    error
	reads  int
	counts map[string]int
}

func (r *repoStub) GetDeviceConfig(_ context.Context, schoolID string) (DeviceConfig, error) {
	r.reads++
	if r.err != nil {
		return DeviceConfig{}, r.err
	}
	cfg, ok := r.cfgs[schoolID]
	if !ok {
		return DeviceConfig{}, ErrNotFound
	}
	return cfg, nil
}

func (r *repoStub) ListSchoolIDs(context.Context) ([]string, error) {
	ids := make([]string, 0, len(r.cfgs))
	for id := range r.cfgs {
		ids = append(ids, id)
	}
	return ids, r.err
}

func (r *repoStub) SetActiveDeviceCount(_ context.Context, schoolID string, count int) error {
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[schoolID] = count
	return r.err
}

type cacheStub struct {
	cfgs    map[string]DeviceConfig
	deleted []string
}

func (c *cacheStub) GetDeviceConfig(_ context.Context, schoolID string) (DeviceConfig, bool, error) {
	cfg, ok := c.cfgs[schoolID]
	return cfg, ok, nil
}

func (c *cacheStub) SetDeviceConfig(_ context.Context, cfg DeviceConfig) error {
	c.cfgs[cfg.SchoolID] = cfg
	return nil
}

func (c *cacheStub) DeleteDeviceConfig(_ context.Context, schoolID string) error {
	delete(c.cfgs, schoolID)
	c.deleted = append(c.deleted, schoolID)
	return nil
}

func TestDeviceConfig_LimitFor(t *testing.T) {
	fallbacks := map[string]int{"teacher": 3, "admin": 2, "student": 1, "other": 1}
	cfg := DeviceConfig{DeviceLimits: map[string]int{"student": 2, "admin": 0}}

	assert.Equal(t, 2, cfg.LimitFor("student", fallbacks))
	assert.Equal(t, 2, cfg.LimitFor("admin", fallbacks), "non-positive limit falls back")
	assert.Equal(t, 3, cfg.LimitFor("teacher", fallbacks))
	assert.Equal(t, 1, cfg.LimitFor("unknown", nil))
}

func TestDeviceConfig_CleanupDays(t *testing.T) {
	assert.Equal(t, 30, DeviceConfig{}.CleanupDays(30))
	assert.Equal(t, 7, DeviceConfig{AutoCleanupDays: 7}.CleanupDays(30))
}

func TestService_DeviceConfig(t *testing.T) {
	ctx := context.Background()
	repo := &repoStub{cfgs: map[string]DeviceConfig{
		"s1": {SchoolID: "s1", DeviceLimits: map[string]int{"student": 2}, AutoCleanupDays: 10},
	}}
	cache := &cacheStub{cfgs: make(map[string]DeviceConfig)}
	svc := NewService(repo, cache, nopLogger{})

	cfg, err := svc.DeviceConfig(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.DeviceLimits["student"])
	assert.Equal(t, 1, repo.reads)

	// served from cache
	_, err = svc.DeviceConfig(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, repo.reads)

	// unknown school: zero config
	cfg, err = svc.DeviceConfig(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, DeviceConfig{SchoolID: "s2"}, cfg)
}

func TestService_DeviceConfig_RepoError(t *testing.T) {
	repo := &repoStub{err: errors.New("connection refused")}
	svc := NewService(repo, nil, nopLogger{})

	_, err := svc.DeviceConfig(context.Background(), "s1")
	assert.Error(t, err)
}

func TestService_SetActiveDeviceCount(t *testing.T) {
	ctx := context.Background()
	repo := &repoStub{cfgs: map[string]DeviceConfig{"s1": {SchoolID: "s1"}}}
	cache := &cacheStub{cfgs: map[string]DeviceConfig{"s1": {SchoolID: "s1"}}}
	svc := NewService(repo, cache, nopLogger{})

	require.NoError(t, svc.SetActiveDeviceCount(ctx, "s1", 4))
	assert.Equal(t, 4, repo.counts["s1"])
	assert.Equal(t, []string{"s1"}, cache.deleted)
}
