package testutil

import (
	"context"
	"io"
	"log"
	"net/mail"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/device"
	"github.com/trezcool/masomo-live/core/media"
	"github.com/trezcool/masomo-live/core/session"
	logsvc "github.com/trezcool/masomo-live/services/logger"
)

// NewConfig returns the configuration used by tests; it does not read the environment.
func NewConfig() *core.Config {
	return &core.Config{
		AppName:          "Masomo Live",
		Env:              "TEST",
		Build:            "test",
		Debug:            true,
		TestMode:         true,
		SecretKey:        "test-secret-key",
		FrontendBaseURL:  "http://localhost:8080",
		DefaultFromEmail: mail.Address{Name: "Masomo", Address: "noreply@localhost"},
		Server: core.ServerConfig{
			ShutdownTimeout:    time.Second,
			JWTExpirationDelta: time.Hour,
		},
		Media: core.MediaConfig{Workers: 2, GatherTimeout: time.Second},
		Cleanup: core.CleanupConfig{
			Interval:               24 * time.Hour,
			Timeout:                time.Minute,
			DefaultAutoCleanupDays: 30,
		},
		Devices: core.DevicesConfig{
			FallbackLimits: map[string]int{
				core.FamilyTeacher: 3,
				core.FamilyAdmin:   2,
				core.FamilyStudent: 1,
				core.FamilyOther:   1,
			},
		},
	}
}

// NewLogger returns a logger that reports nowhere.
func NewLogger() *logsvc.RollbarLogger {
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), NewConfig())
	logger.Enable(false)
	return logger
}

// NewValidator returns a validator with every custom validator registered.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	enLocale := en.New()
	translator, _ := ut.New(enLocale, enLocale).GetTranslator("en")
	core.InitValidators(validate, translator)
	device.InitValidators(validate, translator)
	session.InitValidators(validate, translator)
	media.InitValidators(validate, translator)
	return validate, translator
}

func Student(userID, schoolID string) core.Principal {
	return core.Principal{UserID: userID, SchoolID: schoolID, Role: core.RoleStudent}
}

func Teacher(userID, schoolID string) core.Principal {
	return core.Principal{UserID: userID, SchoolID: schoolID, Role: core.RoleTeacher}
}

func Admin(userID, schoolID string) core.Principal {
	return core.Principal{UserID: userID, SchoolID: schoolID, Role: core.RoleAdminPrincipal}
}

// FreezeTime sets core.NowFunc to return `at` until the test ends.
func FreezeTime(t *testing.T, at time.Time) {
	prev := core.NowFunc
	core.NowFunc = func() time.Time { return at }
	t.Cleanup(func() { core.NowFunc = prev })
}

// CreateDevice inserts a device for the principal.
// Active devices are admitted with lastSessionAt; others are stored as removed for `device-limit`.
func CreateDevice(
	t *testing.T,
	repo device.Repository,
	p core.Principal,
	fingerprint string,
	active bool,
	lastSessionAt time.Time,
) device.Device {
	ctx := context.Background()
	now := lastSessionAt.UTC()
	dev, _, err := repo.FindOrCreate(ctx, device.Device{
		ID:          fingerprint + "-" + p.UserID,
		UserID:      p.UserID,
		SchoolID:    p.SchoolID,
		Fingerprint: fingerprint,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("CreateDevice() failed: %v", err)
	}
	if _, err = repo.Admit(ctx, dev.ID, device.Admission{SessionType: device.DefaultSessionType, At: now}, 1<<30); err != nil {
		t.Fatalf("CreateDevice() failed: %v", err)
	}
	if !active {
		if _, err = repo.Deactivate(ctx, dev.ID, device.RemovedDeviceLimit, now); err != nil {
			t.Fatalf("CreateDevice() failed: %v", err)
		}
	}
	dev, err = repo.GetByID(ctx, dev.ID)
	if err != nil {
		t.Fatalf("CreateDevice() failed: %v", err)
	}
	return dev
}

// CreateSession inserts a session owned by the teacher, in the given status.
func CreateSession(t *testing.T, repo session.Repository, teacher core.Principal, title string, status session.Status) session.Session {
	ctx := context.Background()
	now := core.Now()
	id := title + "-" + teacher.UserID
	s, err := repo.Create(ctx, session.Session{
		ID:           id,
		RoomID:       session.RoomID(id),
		ClassID:      "class-1",
		TeacherID:    teacher.UserID,
		SchoolID:     teacher.SchoolID,
		Title:        title,
		Status:       session.StatusScheduled,
		Participants: []session.Participant{},
		ChatMessages: []session.ChatMessage{},
		Polls:        []session.Poll{},
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		t.Fatalf("CreateSession() failed: %v", err)
	}

	path := map[session.Status][]session.Status{
		session.StatusActive:    {session.StatusActive},
		session.StatusEnded:     {session.StatusActive, session.StatusEnded},
		session.StatusCancelled: {session.StatusCancelled},
	}[status]
	from := session.StatusScheduled
	for _, to := range path {
		if s, err = repo.Transition(ctx, s.ID, teacher.UserID, from, to, session.Transition{At: now}); err != nil {
			t.Fatalf("CreateSession() failed: %v", err)
		}
		from = to
	}
	return s
}
