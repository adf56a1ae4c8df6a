package notify_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/device"
	"github.com/trezcool/masomo-live/core/session"
	"github.com/trezcool/masomo-live/core/tenant"
	emailsvc "github.com/trezcool/masomo-live/services/email"
	"github.com/trezcool/masomo-live/services/notify"
	inmemdb "github.com/trezcool/masomo-live/storage/database/inmem"
	"github.com/trezcool/masomo-live/testutil"
)

func setup(t *testing.T) (*notify.EmailNotifier, *emailsvc.ConsoleServiceMock) {
	logger := testutil.NewLogger()
	core.ParseEmailTemplates(logger, true)

	repo := inmemdb.NewTenantRepository(inmemdb.Open())
	repo.PutDeviceConfig(tenant.DeviceConfig{SchoolID: "school-1", ContactEmail: "Head Office <office@school-1.test>"})
	repo.PutDeviceConfig(tenant.DeviceConfig{SchoolID: "school-2"})
	repo.PutDeviceConfig(tenant.DeviceConfig{SchoolID: "school-3", ContactEmail: "not an email"})

	mailer := emailsvc.NewConsoleServiceMock(testutil.NewConfig(), logger)
	n := notify.NewEmailNotifier(tenant.NewService(repo, nil, logger), mailer, logger)
	t.Cleanup(n.Wait)
	return n, mailer
}

func TestDeviceLimitReached(t *testing.T) {
	n, mailer := setup(t)

	n.DeviceLimitReached(context.Background(), testutil.Student("student-1", "school-1"), device.Decision{Limit: 1, Current: 1})
	n.Wait()

	sent := mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "office@school-1.test", sent[0].To[0].Address)
	assert.Equal(t, "Device limit reached", sent[0].Subject)
	assert.Contains(t, sent[0].TextContent, "User: student-1")
	assert.Contains(t, sent[0].TextContent, "Limit: 1")
	assert.Contains(t, sent[0].HTMLContent, "student-1")
}

func TestSessionScheduled(t *testing.T) {
	n, mailer := setup(t)

	n.SessionScheduled(context.Background(), session.Session{
		ID:        "session-1",
		SchoolID:  "school-1",
		ClassID:   "class-1",
		TeacherID: "teacher-a",
		Title:     "Algebra",
	})
	n.Wait()

	sent := mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Live session scheduled: Algebra", sent[0].Subject)
	assert.Contains(t, sent[0].TextContent, "Title: Algebra")
	assert.Contains(t, sent[0].TextContent, "http://localhost:8080/live/session-1")
	assert.NotContains(t, sent[0].TextContent, "Max participants")
}

func TestNoContact(t *testing.T) {
	n, mailer := setup(t)

	for _, schoolID := range []string{"school-2", "school-3", "unknown"} {
		n.DeviceLimitReached(context.Background(), testutil.Student("student-1", schoolID), device.Decision{Limit: 1, Current: 1})
	}
	n.Wait()

	assert.Empty(t, mailer.Sent())
}
