package device_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/device"
	"github.com/trezcool/masomo-live/core/tenant"
	inmemdb "github.com/trezcool/masomo-live/storage/database/inmem"
	"github.com/trezcool/masomo-live/testutil"
)

var errStoreDown = errors.New("store unavailable")

type notifierSpy struct {
	mu        sync.Mutex
	decisions []device.Decision
}

func (n *notifierSpy) DeviceLimitReached(_ context.Context, _ core.Principal, d device.Decision) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.decisions = append(n.decisions, d)
}

// faultyRepo fails the configured operations.
type faultyRepo struct {
	device.Repository
	failCount bool
	failAdmit bool
}

func (r faultyRepo) CountActive(ctx context.Context, userID, schoolID, excludeID string) (int, error) {
	if r.failCount {
		return 0, errStoreDown
	}
	return r.Repository.CountActive(ctx, userID, schoolID, excludeID)
}

func (r faultyRepo) Admit(ctx context.Context, id string, adm device.Admission, limit int) (bool, error) {
	if r.failAdmit {
		return false, errStoreDown
	}
	return r.Repository.Admit(ctx, id, adm, limit)
}

type faultyTenants struct{}

func (faultyTenants) DeviceConfig(context.Context, string) (tenant.DeviceConfig, error) {
	return tenant.DeviceConfig{}, errStoreDown
}
func (faultyTenants) SchoolIDs(context.Context) ([]string, error)          { return nil, errStoreDown }
func (faultyTenants) SetActiveDeviceCount(context.Context, string, int) error { return errStoreDown }

type fixture struct {
	repo     device.Repository
	tenants  *inmemdb.TenantRepository
	notifier *notifierSpy
	svc      *device.Service
}

func setup(t *testing.T, limits map[string]int) fixture {
	db := inmemdb.Open()
	repo := inmemdb.NewDeviceRepository(db)
	tenants := inmemdb.NewTenantRepository(db)
	if limits != nil {
		tenants.PutDeviceConfig(tenant.DeviceConfig{SchoolID: "school-1", DeviceLimits: limits, AutoCleanupDays: 30})
	}
	logger := testutil.NewLogger()
	notifier := new(notifierSpy)
	svc := device.NewService(repo, tenant.NewService(tenants, nil, logger), notifier, logger, testutil.NewConfig())
	return fixture{repo: repo, tenants: tenants, notifier: notifier, svc: svc}
}

func validateReq(fingerprint string) device.ValidateRequest {
	return device.ValidateRequest{
		Fingerprint: fingerprint,
		SessionType: device.DefaultSessionType,
		Info:        device.Info{Browser: "firefox"},
	}
}

func TestValidateForSession_DeniesOverQuota(t *testing.T) {
	ctx := context.Background()
	fx := setup(t, map[string]int{core.FamilyStudent: 2})
	u := testutil.Student("u", "school-1")

	testutil.CreateDevice(t, fx.repo, u, "device-0001", true, core.Now())
	testutil.CreateDevice(t, fx.repo, u, "device-0002", true, core.Now())

	decision := fx.svc.ValidateForSession(ctx, u, validateReq("device-0003"))
	assert.False(t, decision.Valid)
	assert.Equal(t, device.ReasonLimitExceeded, decision.Reason)
	assert.Equal(t, 2, decision.Limit)
	assert.Equal(t, 2, decision.Current)
	assert.False(t, decision.Error)
	assert.NotEmpty(t, decision.DeviceID)

	d3, err := fx.repo.GetByID(ctx, decision.DeviceID)
	require.NoError(t, err)
	assert.False(t, d3.Active())
	assert.Equal(t, device.RemovedDeviceLimit, d3.RemovedReason)
	assert.NotNil(t, d3.RemovedAt)
	assert.Zero(t, d3.SessionCount)

	require.Len(t, fx.notifier.decisions, 1)
	assert.Equal(t, decision, fx.notifier.decisions[0])
}

func TestValidateForSession_AdmitsNewDevice(t *testing.T) {
	ctx := context.Background()
	fx := setup(t, map[string]int{core.FamilyStudent: 2})
	u := testutil.Student("u", "school-1")
	now := time.Date(2021, 3, 1, 8, 0, 0, 0, time.UTC)
	testutil.FreezeTime(t, now)

	decision := fx.svc.ValidateForSession(ctx, u, validateReq("device-0001"))
	assert.Equal(t, device.Decision{Valid: true, Limit: 2, Current: 0, DeviceID: decision.DeviceID}, decision)

	dev, err := fx.repo.GetByID(ctx, decision.DeviceID)
	require.NoError(t, err)
	assert.True(t, dev.Active())
	assert.Equal(t, 1, dev.SessionCount)
	assert.Equal(t, device.DefaultSessionType, dev.LastSessionType)
	assert.Equal(t, now, *dev.LastSessionAt)
	assert.Equal(t, "firefox", dev.Info.Browser)

	// same device again: same record, counted twice
	again := fx.svc.ValidateForSession(ctx, u, validateReq("device-0001"))
	assert.True(t, again.Valid)
	assert.Equal(t, decision.DeviceID, again.DeviceID)
	dev, _ = fx.repo.GetByID(ctx, decision.DeviceID)
	assert.Equal(t, 2, dev.SessionCount)
	assert.Empty(t, fx.notifier.decisions)
}

func TestValidateForSession_ActiveDeviceKeepsItsSlot(t *testing.T) {
	ctx := context.Background()
	fx := setup(t, map[string]int{core.FamilyStudent: 1})
	u := testutil.Student("u", "school-1")

	testutil.CreateDevice(t, fx.repo, u, "device-0001", true, core.Now())
	testutil.CreateDevice(t, fx.repo, u, "device-0002", true, core.Now()) // overshoot left by a past race

	decision := fx.svc.ValidateForSession(ctx, u, validateReq("device-0002"))
	assert.True(t, decision.Valid)
	assert.Equal(t, 1, decision.Current)
}

func TestValidateForSession_ReactivatesAfterLogout(t *testing.T) {
	ctx := context.Background()
	fx := setup(t, map[string]int{core.FamilyStudent: 1})
	u := testutil.Student("u", "school-1")

	d1 := testutil.CreateDevice(t, fx.repo, u, "device-0001", true, core.Now())
	denied := fx.svc.ValidateForSession(ctx, u, validateReq("device-0002"))
	require.False(t, denied.Valid)

	_, err := fx.svc.Logout(ctx, u, d1.ID)
	require.NoError(t, err)

	decision := fx.svc.ValidateForSession(ctx, u, validateReq("device-0002"))
	assert.True(t, decision.Valid)
	assert.Equal(t, denied.DeviceID, decision.DeviceID)

	d2, err := fx.repo.GetByID(ctx, decision.DeviceID)
	require.NoError(t, err)
	assert.True(t, d2.Active())
	assert.Empty(t, d2.RemovedReason)
	assert.Nil(t, d2.RemovedAt)
}

func TestValidateForSession_FallbackLimits(t *testing.T) {
	tests := []struct {
		name      string
		principal core.Principal
		wantLimit int
	}{
		{"teacher", testutil.Teacher("t", "school-1"), 3},
		{"admin", testutil.Admin("a", "school-1"), 2},
		{"student", testutil.Student("s", "school-1"), 1},
		{"other", core.Principal{UserID: "o", SchoolID: "school-1", Role: "parent:"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := setup(t, nil) // no tenant configuration
			ctx := context.Background()

			for i := 0; i < tt.wantLimit; i++ {
				d := fx.svc.ValidateForSession(ctx, tt.principal, validateReq(fmt.Sprintf("device-%04d", i)))
				require.True(t, d.Valid, "device %d", i)
				assert.Equal(t, tt.wantLimit, d.Limit)
			}
			d := fx.svc.ValidateForSession(ctx, tt.principal, validateReq("device-extra"))
			assert.False(t, d.Valid)
			assert.Equal(t, tt.wantLimit, d.Current)
		})
	}
}

func TestValidateForSession_FailOpen(t *testing.T) {
	u := testutil.Student("u", "school-1")
	conf := testutil.NewConfig()
	logger := testutil.NewLogger()

	tests := []struct {
		name    string
		repo    func(db *inmemdb.DB) device.Repository
		tenants func(db *inmemdb.DB) tenant.ServiceInterface
	}{
		{
			name: "tenant config unavailable",
			repo: inmemdb.NewDeviceRepository,
			tenants: func(*inmemdb.DB) tenant.ServiceInterface {
				return faultyTenants{}
			},
		},
		{
			name: "count fails",
			repo: func(db *inmemdb.DB) device.Repository {
				return faultyRepo{Repository: inmemdb.NewDeviceRepository(db), failCount: true}
			},
		},
		{
			name: "admit fails",
			repo: func(db *inmemdb.DB) device.Repository {
				return faultyRepo{Repository: inmemdb.NewDeviceRepository(db), failAdmit: true}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := inmemdb.Open()
			var tenants tenant.ServiceInterface = tenant.NewService(inmemdb.NewTenantRepository(db), nil, logger)
			if tt.tenants != nil {
				tenants = tt.tenants(db)
			}
			svc := device.NewService(tt.repo(db), tenants, nil, logger, conf)

			decision := svc.ValidateForSession(context.Background(), u, validateReq("device-0001"))
			assert.True(t, decision.Valid)
			assert.True(t, decision.Error)
			assert.True(t, decision.AllowAccess)
			assert.Empty(t, decision.Reason)
		})
	}
}

func TestValidateForSession_ConcurrentAdmissionsRespectQuota(t *testing.T) {
	ctx := context.Background()
	fx := setup(t, map[string]int{core.FamilyStudent: 2})
	u := testutil.Student("u", "school-1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fx.svc.ValidateForSession(ctx, u, validateReq(fmt.Sprintf("device-%04d", i)))
		}(i)
	}
	wg.Wait()

	active, err := fx.svc.ActiveDevices(ctx, u)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	fx := setup(t, map[string]int{core.FamilyStudent: 3})
	owner := testutil.Student("owner", "school-1")

	tests := []struct {
		name       string
		caller     core.Principal
		wantErr    error
		wantReason string
	}{
		{"owner", owner, nil, device.RemovedDeviceLimit},
		{"school admin", testutil.Admin("admin", "school-1"), nil, device.RemovedAdminRemoved},
		{"other student", testutil.Student("other", "school-1"), core.ErrForbidden, ""},
		{"other school admin", testutil.Admin("admin", "school-2"), device.ErrNotFound, ""},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := testutil.CreateDevice(t, fx.repo, owner, fmt.Sprintf("device-%04d", i), true, core.Now())

			got, err := fx.svc.Logout(ctx, tt.caller, dev.ID)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, errors.Cause(err))
				return
			}
			require.NoError(t, err)
			assert.False(t, got.Active())
			assert.Equal(t, tt.wantReason, got.RemovedReason)
		})
	}

	_, err := fx.svc.Logout(ctx, owner, "unknown")
	assert.Equal(t, device.ErrNotFound, errors.Cause(err))
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	fx := setup(t, map[string]int{core.FamilyStudent: 4})
	u := testutil.Student("u", "school-1")
	base := time.Date(2021, 3, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 7; i++ {
		testutil.CreateDevice(t, fx.repo, u, fmt.Sprintf("device-%04d", i), i%2 == 0, base.Add(time.Duration(i)*time.Hour))
	}
	testutil.CreateDevice(t, fx.repo, testutil.Student("v", "school-1"), "device-0100", true, base)

	stats, err := fx.svc.Stats(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Total)
	assert.Equal(t, 4, stats.Active)
	assert.Equal(t, 3, stats.Inactive)
	assert.Equal(t, 4, stats.Limit)
	require.Len(t, stats.Recent, 5)
	assert.Equal(t, "device-0006", stats.Recent[0].Fingerprint)
	assert.Equal(t, "device-0002", stats.Recent[4].Fingerprint)
}

func TestSchoolDevices(t *testing.T) {
	ctx := context.Background()
	fx := setup(t, nil)
	base := time.Date(2021, 3, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		p := testutil.Student(fmt.Sprintf("u%d", i), "school-1")
		testutil.CreateDevice(t, fx.repo, p, fmt.Sprintf("device-%04d", i), i < 3, base.Add(time.Duration(i)*time.Minute))
	}
	testutil.CreateDevice(t, fx.repo, testutil.Student("x", "school-2"), "device-0100", true, base)

	active := true
	tests := []struct {
		name      string
		filter    device.QueryFilter
		ordering  []core.DBOrdering
		page      core.Pagination
		wantTotal int
		wantIDs   []string
	}{
		{"all, most recent first", device.QueryFilter{}, nil, core.Pagination{Page: 1, Limit: 2}, 5, []string{"u4", "u3"}},
		{"second page", device.QueryFilter{}, nil, core.Pagination{Page: 2, Limit: 2}, 5, []string{"u2", "u1"}},
		{"active only", device.QueryFilter{IsActive: &active}, []core.DBOrdering{{Field: "user_id", Ascending: true}}, core.Pagination{}, 3, []string{"u0", "u1", "u2"}},
		{"by user", device.QueryFilter{UserID: "u3"}, nil, core.Pagination{}, 1, []string{"u3"}},
		{"past the end", device.QueryFilter{}, nil, core.Pagination{Page: 9, Limit: 2}, 5, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := fx.svc.SchoolDevices(ctx, "school-1", tt.filter, tt.ordering, tt.page)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, page.Total)
			ids := make([]string, 0, len(page.Devices))
			for _, d := range page.Devices {
				ids = append(ids, d.UserID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}

	_, err := fx.svc.SchoolDevices(ctx, "school-1", device.QueryFilter{}, []core.DBOrdering{{Field: "fingerprint"}}, core.Pagination{})
	_, ok := errors.Cause(err).(*core.ValidationError)
	assert.True(t, ok)
}

func TestValidateRequest_Validate(t *testing.T) {
	validate, _ := testutil.NewValidator()

	req := device.ValidateRequest{Fingerprint: "  abcdef0123456789  ", SessionType: " Live-Class "}
	require.NoError(t, req.Validate(validate))
	assert.Equal(t, "abcdef0123456789", req.Fingerprint)
	assert.Equal(t, "live-class", req.SessionType)

	empty := device.ValidateRequest{}
	require.NoError(t, (&device.ValidateRequest{Fingerprint: "abcdef0123456789"}).Validate(validate))
	assert.Error(t, empty.Validate(validate))
	assert.Error(t, (&device.ValidateRequest{Fingerprint: "short"}).Validate(validate))
	assert.Error(t, (&device.ValidateRequest{Fingerprint: "has spaces inside"}).Validate(validate))
}
