package notify

import (
	"context"
	"fmt"
	"net/mail"
	"sync"
	"time"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/device"
	"github.com/trezcool/masomo-live/core/session"
	"github.com/trezcool/masomo-live/core/tenant"
)

const lookupTimeout = 10 * time.Second

type (
	deviceLimitData struct {
		UserID  string
		Role    string
		Limit   int
		Current int
	}

	sessionScheduledData struct {
		SessionID       string
		Title           string
		ClassID         string
		TeacherID       string
		MaxParticipants int
	}

	// EmailNotifier mails school contacts about scheduled sessions and refused devices.
	// Notifications are best-effort: they never block nor fail the caller.
	EmailNotifier struct {
		tenants tenant.ServiceInterface
		mailer  core.EmailService
		logger  core.Logger
		wg      sync.WaitGroup
	}
)

var (
	_ device.Notifier  = (*EmailNotifier)(nil)
	_ session.Notifier = (*EmailNotifier)(nil)
)

func NewEmailNotifier(tenants tenant.ServiceInterface, mailer core.EmailService, logger core.Logger) *EmailNotifier {
	return &EmailNotifier{tenants: tenants, mailer: mailer, logger: logger}
}

func (n *EmailNotifier) DeviceLimitReached(_ context.Context, p core.Principal, decision device.Decision) {
	n.notify(p.SchoolID, &core.EmailMessage{
		Subject:      "Device limit reached",
		TemplateName: "device_limit",
		TemplateData: deviceLimitData{UserID: p.UserID, Role: p.Role, Limit: decision.Limit, Current: decision.Current},
	})
}

func (n *EmailNotifier) SessionScheduled(_ context.Context, s session.Session) {
	n.notify(s.SchoolID, &core.EmailMessage{
		Subject:      "Live session scheduled: " + s.Title,
		TemplateName: "session_scheduled",
		TemplateData: sessionScheduledData{
			SessionID:       s.ID,
			Title:           s.Title,
			ClassID:         s.ClassID,
			TeacherID:       s.TeacherID,
			MaxParticipants: s.MaxParticipants,
		},
	})
}

// notify sends msg to the school's contact, if it has one, in the background.
func (n *EmailNotifier) notify(schoolID string, msg *core.EmailMessage) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		// the request context may be done before the lookup completes
		ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
		defer cancel()

		cfg, err := n.tenants.DeviceConfig(ctx, schoolID)
		if err != nil {
			n.logger.Warn(fmt.Sprintf("notify: getting school %s config: %v", schoolID, err), err)
			return
		}
		if cfg.ContactEmail == "" {
			return
		}
		to, err := mail.ParseAddress(cfg.ContactEmail)
		if err != nil {
			n.logger.Warn(fmt.Sprintf("notify: invalid contact email of school %s: %v", schoolID, err), err)
			return
		}
		msg.To = []mail.Address{*to}
		n.mailer.SendMessages(msg)
	}()
}

// Wait waits for the pending notifications to be handed to the mailer.
func (n *EmailNotifier) Wait() {
	n.wg.Wait()
}
