package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"hydra-fleet-server/internal/domain"

	"github.com/google/uuid"
)

type mockDeviceRepo struct {
	mu      sync.Mutex
	devices map[string]*domain.Device

	// findDelay simulates a slow backing store for the named identity.
	findDelay map[string]time.Duration
	failAll   bool
}

func newMockDeviceRepo() *mockDeviceRepo {
	return &mockDeviceRepo{
		devices:   make(map[string]*domain.Device),
		findDelay: make(map[string]time.Duration),
	}
}

func (m *mockDeviceRepo) seed(device *domain.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[device.HardwareID] = device
}

func (m *mockDeviceRepo) Upsert(ctx context.Context, hardwareID string, info domain.DeviceInfo) (*domain.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failAll {
		return nil, errors.New("store down")
	}

	if d, ok := m.devices[hardwareID]; ok {
		if info.Name != "" {
			d.Name = info.Name
		}
		if info.Model != "" {
			d.Model = info.Model
		}
		copied := *d
		return &copied, nil
	}

	now := time.Now()
	device := &domain.Device{
		ID:           uuid.New().String(),
		HardwareID:   hardwareID,
		Name:         info.Name,
		Model:        info.Model,
		PolicyStatus: domain.PolicyNormal,
		LastSeen:     now,
		CreatedAt:    now,
	}
	m.devices[hardwareID] = device
	copied := *device
	return &copied, nil
}

func (m *mockDeviceRepo) FindByHardwareID(ctx context.Context, hardwareID string) (*domain.Device, error) {
	m.mu.Lock()
	delay := m.findDelay[hardwareID]
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failAll {
		return nil, errors.New("store down")
	}

	d, ok := m.devices[hardwareID]
	if !ok {
		return nil, errors.New("device not found")
	}
	copied := *d
	return &copied, nil
}

func (m *mockDeviceRepo) FindByID(ctx context.Context, id string) (*domain.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.devices {
		if d.ID == id {
			copied := *d
			return &copied, nil
		}
	}
	return nil, errors.New("device not found")
}

func (m *mockDeviceRepo) List(ctx context.Context) ([]*domain.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var devices []*domain.Device
	for _, d := range m.devices {
		copied := *d
		devices = append(devices, &copied)
	}
	return devices, nil
}

func (m *mockDeviceRepo) SetFields(ctx context.Context, hardwareID string, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failAll {
		return errors.New("store down")
	}

	d, ok := m.devices[hardwareID]
	if !ok {
		return errors.New("device not found")
	}
	applyFields(d, fields)
	return nil
}

type mockActivityRepo struct {
	mu         sync.Mutex
	activities []*domain.Activity
	failAppend bool
}

func newMockActivityRepo() *mockActivityRepo {
	return &mockActivityRepo{}
}

func (m *mockActivityRepo) Append(ctx context.Context, activity *domain.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failAppend {
		return errors.New("store down")
	}

	copied := *activity
	m.activities = append(m.activities, &copied)
	return nil
}

func (m *mockActivityRepo) Query(ctx context.Context, deviceID string, cursor *domain.ActivityCursor, limit int) ([]*domain.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*domain.Activity
	for _, a := range m.activities {
		if deviceID != "" && a.DeviceID != deviceID {
			continue
		}
		if cursor != nil && !cursor.Older(a) {
			continue
		}
		matched = append(matched, a)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].Seq > matched[j].Seq
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *mockActivityRepo) Count(ctx context.Context, deviceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, a := range m.activities {
		if deviceID == "" || a.DeviceID == deviceID {
			count++
		}
	}
	return count, nil
}

func (m *mockActivityRepo) byType(activityType domain.ActivityType) []*domain.Activity {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*domain.Activity
	for _, a := range m.activities {
		if a.Type == activityType {
			matched = append(matched, a)
		}
	}
	return matched
}

func (m *mockActivityRepo) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.activities)
}

// fakeSessions implements SessionDirectory. Bound identities are delivered
// to; everything else reports device offline.
type fakeSessions struct {
	mu      sync.Mutex
	current map[string]string
	sent    []domain.Command
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{current: make(map[string]string)}
}

func (f *fakeSessions) bind(hardwareID, sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current[hardwareID] = sessionID
}

func (f *fakeSessions) unbind(hardwareID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.current, hardwareID)
}

func (f *fakeSessions) CurrentSession(hardwareID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sessionID, ok := f.current[hardwareID]
	return sessionID, ok
}

func (f *fakeSessions) SendCommand(hardwareID string, cmd *domain.Command) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.current[hardwareID]; !ok {
		return false
	}
	f.sent = append(f.sent, *cmd)
	return true
}

func (f *fakeSessions) sentCommands() []domain.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Command(nil), f.sent...)
}

// fakeBroadcaster implements FleetBroadcaster and records what was
// published.
type fakeBroadcaster struct {
	mu       sync.Mutex
	updates  []*domain.Device
	outcomes []*domain.CommandOutcomeDetails
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{}
}

func (f *fakeBroadcaster) DeviceUpdated(device *domain.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *device
	f.updates = append(f.updates, &copied)
}

func (f *fakeBroadcaster) CommandResult(deviceID string, outcome *domain.CommandOutcomeDetails) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *outcome
	f.outcomes = append(f.outcomes, &copied)
}

func (f *fakeBroadcaster) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

func (f *fakeBroadcaster) lastUpdate() *domain.Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) == 0 {
		return nil
	}
	return f.updates[len(f.updates)-1]
}

func (f *fakeBroadcaster) outcomeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.outcomes)
}
