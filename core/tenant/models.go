package tenant

import "time"

// DeviceConfig is the device policy of one school.
// It is owned by tenant administration and read-only here, except for the cached active device count.
type DeviceConfig struct {
	SchoolID          string         `json:"school_id"`
	DeviceLimits      map[string]int `json:"device_limits"` // {role family: max active devices}
	AutoCleanupDays   int            `json:"auto_cleanup_days"`
	ContactEmail      string         `json:"contact_email,omitempty"`
	ActiveDeviceCount int            `json:"active_device_count"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// LimitFor returns the device limit configured for the role family, or the fallback when none is (validly) set.
func (c DeviceConfig) LimitFor(family string, fallbacks map[string]int) int {
	if limit, ok := c.DeviceLimits[family]; ok && limit > 0 {
		return limit
	}
	if limit, ok := fallbacks[family]; ok && limit > 0 {
		return limit
	}
	return 1
}

// CleanupDays returns the configured inactivity threshold, or defaultDays when none is set.
func (c DeviceConfig) CleanupDays(defaultDays int) int {
	if c.AutoCleanupDays > 0 {
		return c.AutoCleanupDays
	}
	return defaultDays
}
