package tenant

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
)

var ErrNotFound = errors.New("school device configuration not found")

type (
	Repository interface {
		GetDeviceConfig(ctx context.Context, schoolID string) (DeviceConfig, error)
		ListSchoolIDs(ctx context.Context) ([]string, error)
		SetActiveDeviceCount(ctx context.Context, schoolID string, count int) error
	}

	// Cache is a read-through cache in front of the Repository.
	// A miss is reported with ok == false and a nil error.
	Cache interface {
		GetDeviceConfig(ctx context.Context, schoolID string) (cfg DeviceConfig, ok bool, err error)
		SetDeviceConfig(ctx context.Context, cfg DeviceConfig) error
		DeleteDeviceConfig(ctx context.Context, schoolID string) error
	}

	ServiceInterface interface {
		DeviceConfig(ctx context.Context, schoolID string) (DeviceConfig, error)
		SchoolIDs(ctx context.Context) ([]string, error)
		SetActiveDeviceCount(ctx context.Context, schoolID string, count int) error
	}

	Service struct {
		repo   Repository
		cache  Cache
		logger core.Logger
	}
)

var _ ServiceInterface = (*Service)(nil)

// NewService returns a tenant Service. cache may be nil.
func NewService(repo Repository, cache Cache, logger core.Logger) *Service {
	return &Service{repo: repo, cache: cache, logger: logger}
}

// DeviceConfig returns the school's device policy.
// A school without configuration gets a zero DeviceConfig, so that fallbacks apply.
func (svc *Service) DeviceConfig(ctx context.Context, schoolID string) (DeviceConfig, error) {
	if svc.cache != nil {
		cfg, ok, err := svc.cache.GetDeviceConfig(ctx, schoolID)
		if err != nil {
			svc.logger.Warn(fmt.Sprintf("reading tenant cache: %v", err), err)
		} else if ok {
			return cfg, nil
		}
	}

	cfg, err := svc.repo.GetDeviceConfig(ctx, schoolID)
	if err != nil {
		if errors.Cause(err) != ErrNotFound {
			return DeviceConfig{}, errors.Wrap(err, "getting device config")
		}
		cfg = DeviceConfig{SchoolID: schoolID}
	}

	if svc.cache != nil {
		if err := svc.cache.SetDeviceConfig(ctx, cfg); err != nil {
			svc.logger.Warn(fmt.Sprintf("writing tenant cache: %v", err), err)
		}
	}
	return cfg, nil
}

func (svc *Service) SchoolIDs(ctx context.Context) ([]string, error) {
	ids, err := svc.repo.ListSchoolIDs(ctx)
	return ids, errors.Wrap(err, "listing school ids")
}

// SetActiveDeviceCount stores the school's active device count and invalidates its cached config.
func (svc *Service) SetActiveDeviceCount(ctx context.Context, schoolID string, count int) error {
	if err := svc.repo.SetActiveDeviceCount(ctx, schoolID, count); err != nil {
		return errors.Wrap(err, "setting active device count")
	}
	if svc.cache != nil {
		if err := svc.cache.DeleteDeviceConfig(ctx, schoolID); err != nil {
			svc.logger.Warn(fmt.Sprintf("invalidating tenant cache: %v", err), err)
		}
	}
	return nil
}
