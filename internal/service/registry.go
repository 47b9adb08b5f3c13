package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hydra-fleet-server/internal/domain"
	"hydra-fleet-server/internal/repository"
)

// SessionDirectory is the live-session side of the bus: the explicit
// registry mapping device identities to connected sessions. Implemented by
// websocket.SessionRegistry.
type SessionDirectory interface {
	CurrentSession(hardwareID string) (string, bool)
	SendCommand(hardwareID string, cmd *domain.Command) bool
}

// FleetBroadcaster fans state changes out to operator-console observers.
// Implemented by websocket.Broadcaster.
type FleetBroadcaster interface {
	DeviceUpdated(device *domain.Device)
	CommandResult(deviceID string, outcome *domain.CommandOutcomeDetails)
}

// DeviceRegistry owns all mutation of device records. Every write for one
// identity runs inside that identity's critical section, so a concurrent
// telemetry update and command-outcome update can never lose each other's
// fields; writes for different identities proceed in parallel.
type DeviceRegistry struct {
	repo repository.DeviceRepository

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewDeviceRegistry(repo repository.DeviceRepository) *DeviceRegistry {
	return &DeviceRegistry{
		repo:  repo,
		locks: make(map[string]*sync.Mutex),
	}
}

func (r *DeviceRegistry) lockFor(hardwareID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[hardwareID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[hardwareID] = lock
	}
	return lock
}

// Upsert creates the record on first contact and refreshes descriptive
// fields otherwise.
func (r *DeviceRegistry) Upsert(ctx context.Context, hardwareID string, info domain.DeviceInfo) (*domain.Device, error) {
	lock := r.lockFor(hardwareID)
	lock.Lock()
	defer lock.Unlock()

	device, err := r.repo.Upsert(ctx, hardwareID, info)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return device, nil
}

// WithDevice runs fn inside the identity's critical section. fn receives the
// current record and returns the fields to persist; the returned snapshot
// reflects the applied update. A last_seen earlier than the stored value is
// dropped to keep the timestamp monotonically non-decreasing.
func (r *DeviceRegistry) WithDevice(ctx context.Context, hardwareID string, fn func(device *domain.Device) (map[string]interface{}, error)) (*domain.Device, error) {
	lock := r.lockFor(hardwareID)
	lock.Lock()
	defer lock.Unlock()

	device, err := r.repo.FindByHardwareID(ctx, hardwareID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	fields, err := fn(device)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return device, nil
	}

	if ts, ok := fields["last_seen"].(time.Time); ok && ts.Before(device.LastSeen) {
		delete(fields, "last_seen")
	}

	if len(fields) > 0 {
		if err := r.repo.SetFields(ctx, hardwareID, fields); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	applyFields(device, fields)
	return device, nil
}

func (r *DeviceRegistry) Get(ctx context.Context, hardwareID string) (*domain.Device, error) {
	device, err := r.repo.FindByHardwareID(ctx, hardwareID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return device, nil
}

func (r *DeviceRegistry) GetByID(ctx context.Context, id string) (*domain.Device, error) {
	return r.repo.FindByID(ctx, id)
}

func (r *DeviceRegistry) List(ctx context.Context) ([]*domain.Device, error) {
	return r.repo.List(ctx)
}

func applyFields(device *domain.Device, fields map[string]interface{}) {
	for key, value := range fields {
		switch key {
		case "online":
			if v, ok := value.(bool); ok {
				device.Online = v
			}
		case "last_seen":
			if v, ok := value.(time.Time); ok {
				device.LastSeen = v
			}
		case "battery_level":
			if v, ok := value.(int); ok {
				device.BatteryLevel = v
			}
		case "policy_status":
			if v, ok := value.(domain.PolicyStatus); ok {
				device.PolicyStatus = v
			}
		case "name":
			if v, ok := value.(string); ok {
				device.Name = v
			}
		case "model":
			if v, ok := value.(string); ok {
				device.Model = v
			}
		case "manufacturer":
			if v, ok := value.(string); ok {
				device.Manufacturer = v
			}
		case "os_version":
			if v, ok := value.(string); ok {
				device.OSVersion = v
			}
		}
	}
}
