package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/tenant"
)

type tenantRow struct {
	SchoolID          string         `db:"school_id"`
	DeviceLimits      types.JSONText `db:"device_limits"`
	AutoCleanupDays   int            `db:"auto_cleanup_days"`
	ContactEmail      null.String    `db:"contact_email"`
	ActiveDeviceCount int            `db:"active_device_count"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

type tenantRepository struct {
	db *sqlx.DB
}

var _ tenant.Repository = (*tenantRepository)(nil) // interface compliance check

func NewTenantRepository(db *sqlx.DB) tenant.Repository {
	return &tenantRepository{db: db}
}

func (repo *tenantRepository) GetDeviceConfig(ctx context.Context, schoolID string) (tenant.DeviceConfig, error) {
	var row tenantRow
	err := repo.db.GetContext(ctx, &row, `
		SELECT school_id, device_limits, auto_cleanup_days, contact_email, active_device_count, updated_at
		FROM tenant_device_configs WHERE school_id = $1`,
		schoolID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tenant.DeviceConfig{}, tenant.ErrNotFound
		}
		return tenant.DeviceConfig{}, errors.Wrap(err, "selecting device config")
	}

	cfg := tenant.DeviceConfig{
		SchoolID:          row.SchoolID,
		AutoCleanupDays:   row.AutoCleanupDays,
		ContactEmail:      row.ContactEmail.String,
		ActiveDeviceCount: row.ActiveDeviceCount,
		UpdatedAt:         row.UpdatedAt.UTC(),
	}
	if len(row.DeviceLimits) > 0 {
		if err := json.Unmarshal(row.DeviceLimits, &cfg.DeviceLimits); err != nil {
			return tenant.DeviceConfig{}, errors.Wrap(err, "decoding device limits")
		}
	}
	return cfg, nil
}

func (repo *tenantRepository) ListSchoolIDs(ctx context.Context) ([]string, error) {
	ids := make([]string, 0)
	err := repo.db.SelectContext(ctx, &ids, `SELECT school_id FROM tenant_device_configs ORDER BY school_id`)
	return ids, errors.Wrap(err, "listing tenant schools")
}

func (repo *tenantRepository) SetActiveDeviceCount(ctx context.Context, schoolID string, count int) error {
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO tenant_device_configs (school_id, active_device_count, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (school_id) DO UPDATE
		SET active_device_count = EXCLUDED.active_device_count, updated_at = EXCLUDED.updated_at`,
		schoolID, count, core.Now(),
	)
	return errors.Wrap(err, "storing active device count")
}
