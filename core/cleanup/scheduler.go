package cleanup

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/device"
	"github.com/trezcool/masomo-live/core/tenant"
)

var ErrRunning = errors.New("a device cleanup is already running")

type (
	Failure struct {
		SchoolID string `json:"schoolId"`
		Error    string `json:"error"`
	}

	// Report summarizes one sweep.
	Report struct {
		Schools     int       `json:"schools"`
		Deactivated int       `json:"deactivated"`
		Failures    []Failure `json:"failures"`
		StartedAt   time.Time `json:"startedAt"`
		FinishedAt  time.Time `json:"finishedAt"`
	}

	// Scheduler deactivates the devices that have not been used for a school's autoCleanupDays.
	Scheduler struct {
		devices     device.ServiceInterface
		tenants     tenant.ServiceInterface
		logger      core.Logger
		interval    time.Duration
		timeout     time.Duration
		defaultDays int

		mu      sync.Mutex
		running bool
	}
)

func NewScheduler(devices device.ServiceInterface, tenants tenant.ServiceInterface, logger core.Logger, conf *core.Config) *Scheduler {
	s := &Scheduler{
		devices:     devices,
		tenants:     tenants,
		logger:      logger,
		interval:    conf.Cleanup.Interval,
		timeout:     conf.Cleanup.Timeout,
		defaultDays: conf.Cleanup.DefaultAutoCleanupDays,
	}
	if s.interval <= 0 {
		s.interval = 24 * time.Hour
	}
	if s.timeout <= 0 {
		s.timeout = time.Minute
	}
	if s.defaultDays <= 0 {
		s.defaultDays = 30
	}
	return s
}

// Start runs a sweep every interval until ctx is done. It does not block.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				report, err := s.RunOnce(ctx)
				if err != nil {
					s.logger.Error(fmt.Sprintf("device cleanup: %v", err), err)
					continue
				}
				s.logger.Info(fmt.Sprintf(
					"device cleanup: %d devices deactivated in %d schools (%d failures)",
					report.Deactivated, report.Schools, len(report.Failures),
				))
			}
		}
	}()
}

// RunOnce sweeps every known school. A school failing never aborts the sweep: its error is logged and reported.
// It fails with ErrRunning when a sweep is in progress.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	if !s.acquire() {
		return Report{}, ErrRunning
	}
	defer s.release()

	report := Report{StartedAt: core.Now(), Failures: []Failure{}}
	schoolIDs, err := s.schoolIDs(ctx)
	if err != nil {
		return report, err
	}

	for _, schoolID := range schoolIDs {
		if ctx.Err() != nil {
			break
		}
		n, err := s.sweep(ctx, schoolID)
		report.Schools++
		report.Deactivated += n
		if err != nil {
			failuresTotal.Inc()
			report.Failures = append(report.Failures, Failure{SchoolID: schoolID, Error: err.Error()})
			s.logger.Error(fmt.Sprintf("device cleanup of school %s: %v", schoolID, err), err)
		}
	}
	report.FinishedAt = core.Now()
	runsTotal.Inc()
	return report, errors.Wrap(ctx.Err(), "device cleanup interrupted")
}

// RunSchool sweeps a single school.
func (s *Scheduler) RunSchool(ctx context.Context, schoolID string) (int, error) {
	if !s.acquire() {
		return 0, ErrRunning
	}
	defer s.release()

	n, err := s.sweep(ctx, schoolID)
	if err != nil {
		failuresTotal.Inc()
	}
	return n, err
}

func (s *Scheduler) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// schoolIDs merges the schools with a device policy and the schools with devices.
func (s *Scheduler) schoolIDs(ctx context.Context) ([]string, error) {
	fromTenants, err := s.tenants.SchoolIDs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing tenant schools")
	}
	fromDevices, err := s.devices.SchoolIDs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing device schools")
	}

	seen := make(map[string]bool, len(fromTenants)+len(fromDevices))
	ids := make([]string, 0, len(fromTenants)+len(fromDevices))
	for _, id := range append(fromTenants, fromDevices...) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// sweep deactivates the school's devices last used strictly before now - autoCleanupDays,
// then stores the school's active device count.
func (s *Scheduler) sweep(ctx context.Context, schoolID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cfg, err := s.tenants.DeviceConfig(ctx, schoolID)
	if err != nil {
		return 0, errors.Wrap(err, "getting device config")
	}
	cutoff := Cutoff(core.Now(), cfg.CleanupDays(s.defaultDays))

	n, err := s.devices.DeactivateInactive(ctx, schoolID, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "deactivating inactive devices")
	}
	deactivatedTotal.Add(float64(n))

	active, err := s.devices.CountSchoolActive(ctx, schoolID)
	if err != nil {
		return n, errors.Wrap(err, "counting active devices")
	}
	if err := s.tenants.SetActiveDeviceCount(ctx, schoolID, active); err != nil {
		return n, errors.Wrap(err, "storing active device count")
	}
	if n > 0 {
		s.logger.Debug(fmt.Sprintf("device cleanup of school %s: %d deactivated, %d active", schoolID, n, active))
	}
	return n, nil
}

// Cutoff returns the instant before which a device's last session makes it inactive.
func Cutoff(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, -days)
}
