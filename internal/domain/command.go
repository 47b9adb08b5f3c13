package domain

import "time"

type CommandType string

const (
	CommandLockDevice     CommandType = "LOCK_DEVICE"
	CommandUnlockDevice   CommandType = "UNLOCK_DEVICE"
	CommandUpdateSettings CommandType = "UPDATE_SETTINGS"
)

// DeviceSettings is the parameter payload of an UPDATE_SETTINGS command.
// Pointers distinguish "leave unchanged" from explicit values.
type DeviceSettings struct {
	CameraEnabled *bool `json:"cameraEnabled,omitempty"`
	ScreenTimeout *int  `json:"screenTimeout,omitempty" validate:"omitempty,min=10,max=3600"`
}

// Command is an operator instruction addressed to one device identity. It is
// transient: it exists only in flight and inside activity details.
type Command struct {
	Type     CommandType     `json:"type"`
	Settings *DeviceSettings `json:"settings,omitempty"`
}

// CommandResponse is the device's answer to a routed command, correlated by
// device identity and command type only. There is no per-command correlation
// token, so at most one command of a given type per device may be outstanding
// if correlation must be unambiguous.
type CommandResponse struct {
	Type      CommandType `json:"type"`
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type RouteResult int

const (
	Delivered RouteResult = iota
	DeviceOffline
)

func (r RouteResult) String() string {
	if r == Delivered {
		return "delivered"
	}
	return "device offline"
}

type CommandOutcomeDetails struct {
	Command  CommandType     `json:"command"`
	Success  bool            `json:"success"`
	Error    string          `json:"error,omitempty"`
	Settings *DeviceSettings `json:"settings,omitempty"`
}

// DispatchedCommand is the router's in-flight record of a routed command,
// kept until the device's response is correlated.
type DispatchedCommand struct {
	Command      Command
	DispatchedAt time.Time
}
