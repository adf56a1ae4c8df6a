package device

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-live/core"
)

// removal reasons
const (
	RemovedDeviceLimit  = "device-limit"
	RemovedAdminRemoved = "admin-removed"
	RemovedInactive     = "inactive"
)

// ReasonLimitExceeded is the Decision.Reason of a refused admission.
const ReasonLimitExceeded = "device-limit-exceeded"

const DefaultSessionType = "live-class"

// OrderingFields are the fields school devices may be ordered by.
var OrderingFields = map[string]bool{
	"last_session_at": true,
	"created_at":      true,
	"user_id":         true,
	"session_count":   true,
}

type (
	// Info describes the client a device fingerprint was computed on.
	Info struct {
		UserAgent        string `json:"userAgent,omitempty" validate:"max=512"`
		Platform         string `json:"platform,omitempty" validate:"max=100"`
		Browser          string `json:"browser,omitempty" validate:"max=100"`
		OS               string `json:"os,omitempty" validate:"max=100"`
		ScreenResolution string `json:"screenResolution,omitempty" validate:"max=50"`
		Timezone         string `json:"timezone,omitempty" validate:"max=100"`
		Language         string `json:"language,omitempty" validate:"max=50"`
	}

	// Device is one browser/app instance bound to a principal; unique per (UserID, SchoolID, Fingerprint).
	Device struct {
		ID              string     `json:"id"`
		UserID          string     `json:"userId"`
		SchoolID        string     `json:"schoolId"`
		Fingerprint     string     `json:"deviceFingerprint"`
		Info            Info       `json:"deviceInfo"`
		IsActive        bool       `json:"isActive"`
		SessionCount    int        `json:"sessionCount"`
		LastSessionType string     `json:"lastSessionType,omitempty"`
		LastSessionAt   *time.Time `json:"lastSessionAt,omitempty"`
		RemovedReason   string     `json:"removedReason,omitempty"`
		RemovedAt       *time.Time `json:"removedAt,omitempty"`
		CreatedAt       time.Time  `json:"createdAt"`
		UpdatedAt       time.Time  `json:"updatedAt"`
	}

	// Admission holds what is persisted on a device when it is granted an active slot.
	Admission struct {
		SessionType string
		Info        Info
		At          time.Time
	}

	// Decision is the outcome of an admission request.
	// Error and AllowAccess are only set when the decision was produced despite an internal failure.
	Decision struct {
		Valid       bool   `json:"valid"`
		Limit       int    `json:"limit"`
		Current     int    `json:"current"`
		Reason      string `json:"reason,omitempty"`
		DeviceID    string `json:"deviceId,omitempty"`
		Error       bool   `json:"error,omitempty"`
		AllowAccess bool   `json:"allowAccess,omitempty"`
	}

	Stats struct {
		Total    int      `json:"total"`
		Active   int      `json:"active"`
		Inactive int      `json:"inactive"`
		Limit    int      `json:"limit"`
		Recent   []Device `json:"recent"`
	}

	QueryFilter struct {
		IsActive *bool  `query:"is_active"`
		UserID   string `query:"user_id"`
	}

	Page struct {
		Devices []Device `json:"devices"`
		Total   int      `json:"total"`
		Page    int      `json:"page"`
		Limit   int      `json:"limit"`
	}
)

// Active reports whether the device holds an active slot.
func (d Device) Active() bool {
	return d.IsActive && d.RemovedAt == nil
}

// ValidateRequest is what a client sends to be admitted with a device.
type ValidateRequest struct {
	Fingerprint string `json:"deviceFingerprint" validate:"required,fingerprint"`
	SessionType string `json:"sessionType" validate:"omitempty,max=50"`
	Info        Info   `json:"deviceInfo"`
}

func (r *ValidateRequest) Validate(validate *validator.Validate) error {
	r.Fingerprint = core.CleanString(r.Fingerprint)
	r.SessionType = core.CleanString(r.SessionType, true /* lower */)
	if r.SessionType == "" {
		r.SessionType = DefaultSessionType
	}
	return validate.Struct(r)
}
