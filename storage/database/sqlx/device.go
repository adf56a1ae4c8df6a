package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/device"
)

const deviceColumns = `id, user_id, school_id, fingerprint, info, is_active, session_count, last_session_type,
	last_session_at, removed_reason, removed_at, created_at, updated_at`

// activeClause matches the devices holding an active slot.
const activeClause = `is_active AND removed_at IS NULL`

type deviceRow struct {
	ID              string         `db:"id"`
	UserID          string         `db:"user_id"`
	SchoolID        string         `db:"school_id"`
	Fingerprint     string         `db:"fingerprint"`
	Info            types.JSONText `db:"info"`
	IsActive        bool           `db:"is_active"`
	SessionCount    int            `db:"session_count"`
	LastSessionType null.String    `db:"last_session_type"`
	LastSessionAt   null.Time      `db:"last_session_at"`
	RemovedReason   null.String    `db:"removed_reason"`
	RemovedAt       null.Time      `db:"removed_at"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r deviceRow) device() (device.Device, error) {
	dev := device.Device{
		ID:              r.ID,
		UserID:          r.UserID,
		SchoolID:        r.SchoolID,
		Fingerprint:     r.Fingerprint,
		IsActive:        r.IsActive,
		SessionCount:    r.SessionCount,
		LastSessionType: r.LastSessionType.String,
		LastSessionAt:   utcPtr(r.LastSessionAt.Ptr()),
		RemovedReason:   r.RemovedReason.String,
		RemovedAt:       utcPtr(r.RemovedAt.Ptr()),
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if len(r.Info) > 0 {
		if err := json.Unmarshal(r.Info, &dev.Info); err != nil {
			return device.Device{}, errors.Wrap(err, "decoding device info")
		}
	}
	return dev, nil
}

type deviceRepository struct {
	db *sqlx.DB
}

var _ device.Repository = (*deviceRepository)(nil) // interface compliance check

func NewDeviceRepository(db *sqlx.DB) device.Repository {
	return &deviceRepository{db: db}
}

func (repo *deviceRepository) get(ctx context.Context, query string, args ...interface{}) (device.Device, error) {
	var row deviceRow
	if err := repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return device.Device{}, device.ErrNotFound
		}
		return device.Device{}, err
	}
	return row.device()
}

func (repo *deviceRepository) selectAll(ctx context.Context, query string, args ...interface{}) ([]device.Device, error) {
	var rows []deviceRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	devs := make([]device.Device, 0, len(rows))
	for _, row := range rows {
		dev, err := row.device()
		if err != nil {
			return nil, err
		}
		devs = append(devs, dev)
	}
	return devs, nil
}

func (repo *deviceRepository) FindOrCreate(ctx context.Context, dev device.Device) (device.Device, bool, error) {
	info, err := json.Marshal(dev.Info)
	if err != nil {
		return device.Device{}, false, errors.Wrap(err, "encoding device info")
	}

	created, err := repo.get(ctx, `
		INSERT INTO devices (id, user_id, school_id, fingerprint, info, is_active, session_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, school_id, fingerprint) DO NOTHING
		RETURNING `+deviceColumns,
		dev.ID, dev.UserID, dev.SchoolID, dev.Fingerprint, types.JSONText(info),
		dev.IsActive, dev.SessionCount, dev.CreatedAt.UTC(), dev.UpdatedAt.UTC(),
	)
	if err == nil {
		return created, true, nil
	}
	if err != device.ErrNotFound {
		return device.Device{}, false, errors.Wrap(err, "inserting device")
	}

	// conflict: the device already exists
	existing, err := repo.get(ctx, `
		SELECT `+deviceColumns+` FROM devices WHERE user_id = $1 AND school_id = $2 AND fingerprint = $3`,
		dev.UserID, dev.SchoolID, dev.Fingerprint,
	)
	return existing, false, errors.Wrap(err, "selecting device")
}

func (repo *deviceRepository) GetByID(ctx context.Context, id string) (device.Device, error) {
	return repo.get(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id)
}

func (repo *deviceRepository) CountActive(ctx context.Context, userID, schoolID, excludeID string) (int, error) {
	var n int
	err := repo.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM devices WHERE user_id = $1 AND school_id = $2 AND id <> $3 AND `+activeClause,
		userID, schoolID, excludeID,
	)
	return n, errors.Wrap(err, "counting active devices")
}

func (repo *deviceRepository) Admit(ctx context.Context, id string, adm device.Admission, limit int) (bool, error) {
	info, err := json.Marshal(adm.Info)
	if err != nil {
		return false, errors.Wrap(err, "encoding device info")
	}

	res, err := repo.db.ExecContext(ctx, `
		UPDATE devices d SET
			is_active = TRUE,
			session_count = d.session_count + 1,
			last_session_type = $2,
			last_session_at = $3,
			info = $4,
			removed_reason = NULL,
			removed_at = NULL,
			updated_at = $3
		WHERE d.id = $1 AND (
			(d.is_active AND d.removed_at IS NULL)
			OR (
				SELECT COUNT(*) FROM devices o
				WHERE o.user_id = d.user_id AND o.school_id = d.school_id AND o.id <> d.id
					AND o.is_active AND o.removed_at IS NULL
			) < $5
		)`,
		id, adm.SessionType, adm.At.UTC(), types.JSONText(info), limit,
	)
	if err != nil {
		return false, errors.Wrap(err, "admitting device")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "admitting device")
	}
	if n > 0 {
		return true, nil
	}

	if _, err := repo.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (repo *deviceRepository) Deactivate(ctx context.Context, id, reason string, at time.Time) (device.Device, error) {
	return repo.get(ctx, `
		UPDATE devices SET is_active = FALSE, removed_reason = $2, removed_at = $3, updated_at = $3
		WHERE id = $1
		RETURNING `+deviceColumns,
		id, reason, at.UTC(),
	)
}

func (repo *deviceRepository) ListByUser(ctx context.Context, userID, schoolID string) ([]device.Device, error) {
	devs, err := repo.selectAll(ctx, `
		SELECT `+deviceColumns+` FROM devices WHERE user_id = $1 AND school_id = $2
		ORDER BY last_session_at DESC NULLS LAST, created_at DESC`,
		userID, schoolID,
	)
	return devs, errors.Wrap(err, "listing user devices")
}

func (repo *deviceRepository) Query(
	ctx context.Context,
	schoolID string,
	filter device.QueryFilter,
	ordering []core.DBOrdering,
	page core.Pagination,
) ([]device.Device, int, error) {
	where := []string{"school_id = $1"}
	args := []interface{}{schoolID}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.IsActive != nil {
		if *filter.IsActive {
			where = append(where, activeClause)
		} else {
			where = append(where, "NOT ("+activeClause+")")
		}
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := repo.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM devices WHERE `+whereSQL, args...); err != nil {
		return nil, 0, errors.Wrap(err, "counting devices")
	}

	orderSQL, err := orderBy(ordering)
	if err != nil {
		return nil, 0, err
	}
	args = append(args, page.Limit, page.Offset())
	devs, err := repo.selectAll(ctx, fmt.Sprintf(
		`SELECT %s FROM devices WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		deviceColumns, whereSQL, orderSQL, len(args)-1, len(args),
	), args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "querying devices")
	}
	return devs, total, nil
}

// orderBy renders the ordering; never used devices sort as the least recently used.
func orderBy(ordering []core.DBOrdering) (string, error) {
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "last_session_at"}}
	}
	clauses := make([]string, 0, len(ordering)+1)
	for _, ord := range ordering {
		if !device.OrderingFields[ord.Field] {
			return "", errors.Errorf("invalid ordering field: %s", ord.Field)
		}
		clause := ord.String()
		if ord.Field == "last_session_at" {
			if ord.Ascending {
				clause += " NULLS FIRST"
			} else {
				clause += " NULLS LAST"
			}
		}
		clauses = append(clauses, clause)
	}
	clauses = append(clauses, "id ASC")
	return strings.Join(clauses, ", "), nil
}

func (repo *deviceRepository) DeactivateInactive(ctx context.Context, schoolID string, cutoff, at time.Time) (int, error) {
	res, err := repo.db.ExecContext(ctx, `
		UPDATE devices SET is_active = FALSE, removed_reason = $4, removed_at = $3, updated_at = $3
		WHERE school_id = $1 AND `+activeClause+` AND last_session_at < $2`,
		schoolID, cutoff.UTC(), at.UTC(), device.RemovedInactive,
	)
	if err != nil {
		return 0, errors.Wrap(err, "deactivating inactive devices")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "deactivating inactive devices")
}

func (repo *deviceRepository) CountSchoolActive(ctx context.Context, schoolID string) (int, error) {
	var n int
	err := repo.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM devices WHERE school_id = $1 AND `+activeClause, schoolID)
	return n, errors.Wrap(err, "counting school active devices")
}

func (repo *deviceRepository) SchoolIDs(ctx context.Context) ([]string, error) {
	ids := make([]string, 0)
	err := repo.db.SelectContext(ctx, &ids, `SELECT DISTINCT school_id FROM devices ORDER BY school_id`)
	return ids, errors.Wrap(err, "listing device schools")
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
