package domain

import (
	"encoding/json"
	"time"
)

type ActivityType string

const (
	ActivityDeviceConnected    ActivityType = "DEVICE_CONNECTED"
	ActivityDeviceDisconnected ActivityType = "DEVICE_DISCONNECTED"
	ActivityBatteryUpdate      ActivityType = "BATTERY_UPDATE"
	ActivitySettingsChanged    ActivityType = "SETTINGS_CHANGED"
	ActivityDeviceLocked       ActivityType = "DEVICE_LOCKED"
	ActivityDeviceUnlocked     ActivityType = "DEVICE_UNLOCKED"
	ActivityDeviceError        ActivityType = "DEVICE_ERROR"
)

// Activity is one immutable audit record. CreatedAt and Seq are assigned by
// the activity service at append time; together they form the total order
// the audit log is paginated on.
type Activity struct {
	ID        string          `json:"id"`
	DeviceID  string          `json:"device_id"`
	Type      ActivityType    `json:"type"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Seq       uint64          `json:"seq"`
}

// ActivityCursor marks the oldest record of the previously fetched page.
// The next page contains records strictly older than the cursor.
type ActivityCursor struct {
	CreatedAt time.Time `json:"created_at"`
	Seq       uint64    `json:"seq"`
}

// Older reports whether a sorts strictly before the cursor position in
// reverse-chronological order, with Seq breaking timestamp ties.
func (c *ActivityCursor) Older(a *Activity) bool {
	if a.CreatedAt.Before(c.CreatedAt) {
		return true
	}
	return a.CreatedAt.Equal(c.CreatedAt) && a.Seq < c.Seq
}

type ActivityPage struct {
	Activities []*Activity     `json:"activities"`
	Total      int             `json:"total"`
	NextCursor *ActivityCursor `json:"next_cursor,omitempty"`
}

type BatteryUpdateDetails struct {
	OldLevel int `json:"oldLevel"`
	NewLevel int `json:"newLevel"`
}

type ConnectionDetails struct {
	SessionID string     `json:"session_id"`
	Info      DeviceInfo `json:"info,omitempty"`
}
