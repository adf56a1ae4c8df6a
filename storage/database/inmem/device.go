package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/device"
)

type deviceRepository struct {
	db *deviceTable
}

var _ device.Repository = (*deviceRepository)(nil)

func NewDeviceRepository(db *DB) device.Repository {
	return &deviceRepository{db: db.device}
}

func (repo *deviceRepository) query(match func(d *device.Device) bool) []device.Device {
	devs := make([]device.Device, 0)
	for _, d := range repo.db.table {
		if match(d) {
			devs = append(devs, *d)
		}
	}
	return devs
}

func (repo *deviceRepository) countActive(userID, schoolID, excludeID string) int {
	var n int
	for _, d := range repo.db.table {
		if d.UserID == userID && d.SchoolID == schoolID && d.ID != excludeID && d.Active() {
			n++
		}
	}
	return n
}

func (repo *deviceRepository) FindOrCreate(_ context.Context, dev device.Device) (device.Device, bool, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, d := range repo.db.table {
		if d.UserID == dev.UserID && d.SchoolID == dev.SchoolID && d.Fingerprint == dev.Fingerprint {
			return *d, false, nil
		}
	}
	repo.db.table[dev.ID] = &dev
	return dev, true, nil
}

func (repo *deviceRepository) GetByID(_ context.Context, id string) (device.Device, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if d, ok := repo.db.table[id]; ok {
		return *d, nil
	}
	return device.Device{}, device.ErrNotFound
}

func (repo *deviceRepository) CountActive(_ context.Context, userID, schoolID, excludeID string) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()
	return repo.countActive(userID, schoolID, excludeID), nil
}

func (repo *deviceRepository) Admit(_ context.Context, id string, adm device.Admission, limit int) (bool, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	d, ok := repo.db.table[id]
	if !ok {
		return false, device.ErrNotFound
	}
	if !d.Active() && repo.countActive(d.UserID, d.SchoolID, d.ID) >= limit {
		return false, nil
	}

	at := adm.At
	d.IsActive = true
	d.SessionCount++
	d.LastSessionType = adm.SessionType
	d.LastSessionAt = &at
	d.Info = adm.Info
	d.RemovedReason = ""
	d.RemovedAt = nil
	d.UpdatedAt = at
	return true, nil
}

func (repo *deviceRepository) Deactivate(_ context.Context, id, reason string, at time.Time) (device.Device, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	d, ok := repo.db.table[id]
	if !ok {
		return device.Device{}, device.ErrNotFound
	}
	d.IsActive = false
	d.RemovedReason = reason
	d.RemovedAt = &at
	d.UpdatedAt = at
	return *d, nil
}

func (repo *deviceRepository) ListByUser(_ context.Context, userID, schoolID string) ([]device.Device, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	devs := repo.query(func(d *device.Device) bool { return d.UserID == userID && d.SchoolID == schoolID })
	sort.SliceStable(devs, func(i, j int) bool { return lastUsedBefore(devs[j], devs[i]) })
	return devs, nil
}

func (repo *deviceRepository) Query(
	_ context.Context,
	schoolID string,
	filter device.QueryFilter,
	ordering []core.DBOrdering,
	page core.Pagination,
) ([]device.Device, int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	devs := repo.query(func(d *device.Device) bool {
		if d.SchoolID != schoolID {
			return false
		}
		if filter.UserID != "" && d.UserID != filter.UserID {
			return false
		}
		if filter.IsActive != nil && d.Active() != *filter.IsActive {
			return false
		}
		return true
	})
	sortDevices(devs, ordering)

	total := len(devs)
	start := page.Offset()
	if start > total {
		start = total
	}
	end := start + page.Limit
	if end > total {
		end = total
	}
	return devs[start:end], total, nil
}

func (repo *deviceRepository) DeactivateInactive(_ context.Context, schoolID string, cutoff, at time.Time) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	var n int
	for _, d := range repo.db.table {
		if d.SchoolID != schoolID || !d.Active() || d.LastSessionAt == nil || !d.LastSessionAt.Before(cutoff) {
			continue
		}
		at := at
		d.IsActive = false
		d.RemovedReason = device.RemovedInactive
		d.RemovedAt = &at
		d.UpdatedAt = at
		n++
	}
	return n, nil
}

func (repo *deviceRepository) CountSchoolActive(_ context.Context, schoolID string) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var n int
	for _, d := range repo.db.table {
		if d.SchoolID == schoolID && d.Active() {
			n++
		}
	}
	return n, nil
}

func (repo *deviceRepository) SchoolIDs(_ context.Context) ([]string, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, d := range repo.db.table {
		if _, ok := seen[d.SchoolID]; !ok {
			seen[d.SchoolID] = struct{}{}
			ids = append(ids, d.SchoolID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// lastUsedBefore orders devices by last session, never used devices first, then by creation.
func lastUsedBefore(a, b device.Device) bool {
	switch {
	case a.LastSessionAt == nil && b.LastSessionAt != nil:
		return true
	case a.LastSessionAt != nil && b.LastSessionAt == nil:
		return false
	case a.LastSessionAt != nil && !a.LastSessionAt.Equal(*b.LastSessionAt):
		return a.LastSessionAt.Before(*b.LastSessionAt)
	default:
		return a.CreatedAt.Before(b.CreatedAt)
	}
}

func sortDevices(devs []device.Device, ordering []core.DBOrdering) {
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "last_session_at"}}
	}
	sort.SliceStable(devs, func(i, j int) bool {
		for _, ord := range ordering {
			var cmp int
			a, b := devs[i], devs[j]
			switch ord.Field {
			case "last_session_at":
				if lastUsedBefore(a, b) {
					cmp = -1
				} else if lastUsedBefore(b, a) {
					cmp = 1
				}
			case "created_at":
				cmp = compareTimes(a.CreatedAt, b.CreatedAt)
			case "user_id":
				cmp = strings.Compare(a.UserID, b.UserID)
			case "session_count":
				cmp = a.SessionCount - b.SessionCount
			}
			if cmp == 0 {
				continue
			}
			if ord.Ascending {
				return cmp < 0
			}
			return cmp > 0
		}
		return false
	})
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}
