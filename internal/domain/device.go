package domain

import "time"

// PolicyStatus is the policy-applied state of a device. It is driven solely
// by command outcomes and is independent of connectivity: a device can be
// offline and locked at the same time.
type PolicyStatus string

const (
	PolicyNormal PolicyStatus = "NORMAL"
	PolicyLocked PolicyStatus = "LOCKED"
)

// Device is the canonical registry record of one enrolled endpoint.
// HardwareID is assigned by the device and immutable once enrolled; ID is
// the internal surrogate key. Descriptive fields are telemetry-fed.
type Device struct {
	ID           string       `json:"id"`
	HardwareID   string       `json:"hardware_id"`
	Name         string       `json:"name"`
	Model        string       `json:"model"`
	Manufacturer string       `json:"manufacturer"`
	OSVersion    string       `json:"os_version"`
	Online       bool         `json:"online"`
	LastSeen     time.Time    `json:"last_seen"`
	BatteryLevel int          `json:"battery_level"`
	PolicyStatus PolicyStatus `json:"policy_status"`
	CreatedAt    time.Time    `json:"created_at"`
}

// DeviceInfo carries the descriptive attributes a device self-reports.
type DeviceInfo struct {
	Name         string `json:"name"`
	Model        string `json:"model"`
	Manufacturer string `json:"manufacturer"`
	OSVersion    string `json:"osVersion"`
}

// StatusReport is one periodic telemetry sample from a device.
type StatusReport struct {
	BatteryLevel int        `json:"batteryLevel"`
	DeviceInfo   DeviceInfo `json:"deviceInfo"`
}

type DeviceResponse struct {
	ID           string       `json:"id"`
	HardwareID   string       `json:"hardware_id"`
	Name         string       `json:"name"`
	Model        string       `json:"model"`
	Online       bool         `json:"online"`
	LastSeen     time.Time    `json:"last_seen"`
	BatteryLevel int          `json:"battery_level"`
	PolicyStatus PolicyStatus `json:"policy_status"`
}

type DeviceDetailResponse struct {
	Device     *Device     `json:"device"`
	Activities []*Activity `json:"activities"`
}
