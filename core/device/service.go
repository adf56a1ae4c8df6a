package device

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/tenant"
)

const recentDevicesCount = 5

var ErrNotFound = errors.New("device not found")

type (
	Repository interface {
		// FindOrCreate returns the device of the (UserID, SchoolID, Fingerprint) triple, creating `dev` if none exists.
		FindOrCreate(ctx context.Context, dev Device) (d Device, created bool, err error)
		GetByID(ctx context.Context, id string) (Device, error)
		// CountActive counts the active devices of the principal, excluding the device `excludeID`.
		CountActive(ctx context.Context, userID, schoolID, excludeID string) (int, error)
		// Admit grants an active slot to the device in a single conditional update:
		// it succeeds only if the device is already active or the principal's other active devices are fewer than limit.
		Admit(ctx context.Context, id string, adm Admission, limit int) (admitted bool, err error)
		Deactivate(ctx context.Context, id, reason string, at time.Time) (Device, error)
		// ListByUser returns the principal's devices, last used first.
		ListByUser(ctx context.Context, userID, schoolID string) ([]Device, error)
		Query(ctx context.Context, schoolID string, filter QueryFilter, ordering []core.DBOrdering, page core.Pagination) ([]Device, int, error)
		// DeactivateInactive deactivates the school's active devices whose last session is strictly before cutoff.
		DeactivateInactive(ctx context.Context, schoolID string, cutoff, at time.Time) (int, error)
		CountSchoolActive(ctx context.Context, schoolID string) (int, error)
		SchoolIDs(ctx context.Context) ([]string, error)
	}

	// Notifier is told about refused admissions; it must not block.
	Notifier interface {
		DeviceLimitReached(ctx context.Context, p core.Principal, decision Decision)
	}

	ServiceInterface interface {
		ValidateForSession(ctx context.Context, p core.Principal, req ValidateRequest) Decision
		Logout(ctx context.Context, p core.Principal, deviceID string) (Device, error)
		ActiveDevices(ctx context.Context, p core.Principal) ([]Device, error)
		Stats(ctx context.Context, p core.Principal) (Stats, error)
		SchoolDevices(ctx context.Context, schoolID string, filter QueryFilter, ordering []core.DBOrdering, page core.Pagination) (Page, error)
		DeactivateInactive(ctx context.Context, schoolID string, cutoff time.Time) (int, error)
		CountSchoolActive(ctx context.Context, schoolID string) (int, error)
		SchoolIDs(ctx context.Context) ([]string, error)
	}

	Service struct {
		repo      Repository
		tenants   tenant.ServiceInterface
		notifier  Notifier
		logger    core.Logger
		fallbacks map[string]int
	}
)

var _ ServiceInterface = (*Service)(nil)

// NewService returns the device registry & admission controller. notifier may be nil.
func NewService(repo Repository, tenants tenant.ServiceInterface, notifier Notifier, logger core.Logger, conf *core.Config) *Service {
	return &Service{
		repo:      repo,
		tenants:   tenants,
		notifier:  notifier,
		logger:    logger,
		fallbacks: conf.Devices.FallbackLimits,
	}
}

// ValidateForSession decides whether the principal may hold an active slot with the device.
// It always produces a decision: any internal failure yields an accept flagged with Error and AllowAccess.
func (svc *Service) ValidateForSession(ctx context.Context, p core.Principal, req ValidateRequest) Decision {
	decision, err := svc.decide(ctx, p, req)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("validating device (failing open): %v", err), err, p)
		admissionsTotal.WithLabelValues(outcomeFailOpen, p.Family()).Inc()
		return Decision{
			Valid:       true,
			Limit:       decision.Limit,
			DeviceID:    decision.DeviceID,
			Error:       true,
			AllowAccess: true,
		}
	}

	if decision.Valid {
		admissionsTotal.WithLabelValues(outcomeAdmitted, p.Family()).Inc()
	} else {
		admissionsTotal.WithLabelValues(outcomeDenied, p.Family()).Inc()
		if svc.notifier != nil {
			svc.notifier.DeviceLimitReached(ctx, p, decision)
		}
	}
	return decision
}

func (svc *Service) decide(ctx context.Context, p core.Principal, req ValidateRequest) (Decision, error) {
	var decision Decision

	cfg, err := svc.tenants.DeviceConfig(ctx, p.SchoolID)
	if err != nil {
		return decision, errors.Wrap(err, "getting tenant device config")
	}
	decision.Limit = cfg.LimitFor(p.Family(), svc.fallbacks)

	now := core.Now()
	dev, _, err := svc.repo.FindOrCreate(ctx, Device{
		ID:          uuid.NewString(),
		UserID:      p.UserID,
		SchoolID:    p.SchoolID,
		Fingerprint: req.Fingerprint,
		Info:        req.Info,
		IsActive:    false, // granted below
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return decision, errors.Wrap(err, "finding or creating device")
	}
	decision.DeviceID = dev.ID

	decision.Current, err = svc.repo.CountActive(ctx, p.UserID, p.SchoolID, dev.ID)
	if err != nil {
		return decision, errors.Wrap(err, "counting active devices")
	}

	if !dev.Active() && decision.Current >= decision.Limit {
		return svc.deny(ctx, dev, decision, now)
	}

	admitted, err := svc.repo.Admit(ctx, dev.ID, Admission{SessionType: req.SessionType, Info: req.Info, At: now}, decision.Limit)
	if err != nil {
		return decision, errors.Wrap(err, "admitting device")
	}
	if !admitted {
		// a concurrent admission took the last slot
		if decision.Current, err = svc.repo.CountActive(ctx, p.UserID, p.SchoolID, dev.ID); err != nil {
			return decision, errors.Wrap(err, "recounting active devices")
		}
		return svc.deny(ctx, dev, decision, now)
	}

	decision.Valid = true
	return decision, nil
}

func (svc *Service) deny(ctx context.Context, dev Device, decision Decision, now time.Time) (Decision, error) {
	if _, err := svc.repo.Deactivate(ctx, dev.ID, RemovedDeviceLimit, now); err != nil {
		return decision, errors.Wrap(err, "deactivating refused device")
	}
	decision.Valid = false
	decision.Reason = ReasonLimitExceeded
	return decision, nil
}

// Logout deactivates a device. Owners log out their own devices; school admins may log out any device of their school.
func (svc *Service) Logout(ctx context.Context, p core.Principal, deviceID string) (Device, error) {
	dev, err := svc.repo.GetByID(ctx, deviceID)
	if err != nil {
		return Device{}, errors.Wrap(err, "getting device")
	}

	reason := RemovedDeviceLimit
	switch {
	case dev.SchoolID != p.SchoolID:
		return Device{}, ErrNotFound
	case dev.UserID == p.UserID:
	case p.IsAdmin():
		reason = RemovedAdminRemoved
	default:
		return Device{}, core.ErrForbidden
	}

	dev, err = svc.repo.Deactivate(ctx, dev.ID, reason, core.Now())
	if err != nil {
		return Device{}, errors.Wrap(err, "deactivating device")
	}
	deactivationsTotal.WithLabelValues(reason).Inc()
	return dev, nil
}

func (svc *Service) ActiveDevices(ctx context.Context, p core.Principal) ([]Device, error) {
	devs, err := svc.repo.ListByUser(ctx, p.UserID, p.SchoolID)
	if err != nil {
		return nil, errors.Wrap(err, "listing user devices")
	}
	active := make([]Device, 0, len(devs))
	for _, d := range devs {
		if d.Active() {
			active = append(active, d)
		}
	}
	return active, nil
}

// Stats aggregates the principal's devices. Recent holds the last used devices, most recent first.
func (svc *Service) Stats(ctx context.Context, p core.Principal) (Stats, error) {
	cfg, err := svc.tenants.DeviceConfig(ctx, p.SchoolID)
	if err != nil {
		return Stats{}, errors.Wrap(err, "getting tenant device config")
	}
	devs, err := svc.repo.ListByUser(ctx, p.UserID, p.SchoolID)
	if err != nil {
		return Stats{}, errors.Wrap(err, "listing user devices")
	}

	stats := Stats{
		Total:  len(devs),
		Limit:  cfg.LimitFor(p.Family(), svc.fallbacks),
		Recent: make([]Device, 0, recentDevicesCount),
	}
	for _, d := range devs {
		if d.Active() {
			stats.Active++
		} else {
			stats.Inactive++
		}
		if len(stats.Recent) < recentDevicesCount { // devs are ordered by last use
			stats.Recent = append(stats.Recent, d)
		}
	}
	return stats, nil
}

func (svc *Service) SchoolDevices(
	ctx context.Context,
	schoolID string,
	filter QueryFilter,
	ordering []core.DBOrdering,
	page core.Pagination,
) (Page, error) {
	for _, ord := range ordering {
		if !OrderingFields[ord.Field] {
			return Page{}, core.NewValidationError(nil, core.FieldError{Field: "ordering", Error: "invalid ordering field: " + ord.Field})
		}
	}
	page = page.Clean()
	devs, total, err := svc.repo.Query(ctx, schoolID, filter, ordering, page)
	if err != nil {
		return Page{}, errors.Wrap(err, "querying school devices")
	}
	return Page{Devices: devs, Total: total, Page: page.Page, Limit: page.Limit}, nil
}

func (svc *Service) DeactivateInactive(ctx context.Context, schoolID string, cutoff time.Time) (int, error) {
	n, err := svc.repo.DeactivateInactive(ctx, schoolID, cutoff, core.Now())
	if err != nil {
		return 0, errors.Wrap(err, "deactivating inactive devices")
	}
	deactivationsTotal.WithLabelValues(RemovedInactive).Add(float64(n))
	return n, nil
}

func (svc *Service) CountSchoolActive(ctx context.Context, schoolID string) (int, error) {
	n, err := svc.repo.CountSchoolActive(ctx, schoolID)
	return n, errors.Wrap(err, "counting school active devices")
}

func (svc *Service) SchoolIDs(ctx context.Context) ([]string, error) {
	ids, err := svc.repo.SchoolIDs(ctx)
	return ids, errors.Wrap(err, "listing device school ids")
}
