package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/tenant"
)

// TenantRepository also lets dev & tests seed school policies.
type TenantRepository struct {
	db *tenantTable
}

var _ tenant.Repository = (*TenantRepository)(nil)

func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{db: db.tenant}
}

// PutDeviceConfig stores a school's device policy. Tenant administration is external: this only serves dev & tests.
func (repo *TenantRepository) PutDeviceConfig(cfg tenant.DeviceConfig) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	limits := make(map[string]int, len(cfg.DeviceLimits))
	for k, v := range cfg.DeviceLimits {
		limits[k] = v
	}
	cfg.DeviceLimits = limits
	cfg.UpdatedAt = core.Now()
	repo.db.table[cfg.SchoolID] = &cfg
}

func (repo *TenantRepository) GetDeviceConfig(_ context.Context, schoolID string) (tenant.DeviceConfig, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if cfg, ok := repo.db.table[schoolID]; ok {
		return *cfg, nil
	}
	return tenant.DeviceConfig{}, tenant.ErrNotFound
}

func (repo *TenantRepository) ListSchoolIDs(_ context.Context) ([]string, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	ids := make([]string, 0, len(repo.db.table))
	for id := range repo.db.table {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (repo *TenantRepository) SetActiveDeviceCount(_ context.Context, schoolID string, count int) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	cfg, ok := repo.db.table[schoolID]
	if !ok {
		cfg = &tenant.DeviceConfig{SchoolID: schoolID}
		repo.db.table[schoolID] = cfg
	}
	cfg.ActiveDeviceCount = count
	cfg.UpdatedAt = core.Now()
	return nil
}
