package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"hydra-fleet-server/internal/domain"
)

func newCommandFixture() (*CommandService, *mockDeviceRepo, *mockActivityRepo, *fakeSessions, *fakeBroadcaster) {
	deviceRepo := newMockDeviceRepo()
	activityRepo := newMockActivityRepo()
	sessions := newFakeSessions()
	broadcaster := newFakeBroadcaster()

	registry := NewDeviceRegistry(deviceRepo)
	activities := NewActivityService(activityRepo)
	commands := NewCommandService(sessions, registry, activities, broadcaster)

	return commands, deviceRepo, activityRepo, sessions, broadcaster
}

func TestCommandService_RouteToOfflineDevice(t *testing.T) {
	commands, deviceRepo, activityRepo, sessions, broadcaster := newCommandFixture()
	seedDevice(deviceRepo, "hw-1")
	// No session bound.

	result := commands.Route("hw-1", domain.Command{Type: domain.CommandLockDevice})
	if result != domain.DeviceOffline {
		t.Fatalf("Route() = %v, want DeviceOffline", result)
	}

	if len(sessions.sentCommands()) != 0 {
		t.Error("offline routing must not deliver anything")
	}
	if activityRepo.total() != 0 {
		t.Error("offline routing must not append an audit record")
	}
	if broadcaster.updateCount() != 0 || broadcaster.outcomeCount() != 0 {
		t.Error("offline routing must not broadcast")
	}
}

func TestCommandService_RouteDeliversToBoundSession(t *testing.T) {
	commands, deviceRepo, _, sessions, _ := newCommandFixture()
	seedDevice(deviceRepo, "hw-1")
	sessions.bind("hw-1", "s1")

	timeout := 300
	cmd := domain.Command{
		Type:     domain.CommandUpdateSettings,
		Settings: &domain.DeviceSettings{ScreenTimeout: &timeout},
	}
	if result := commands.Route("hw-1", cmd); result != domain.Delivered {
		t.Fatalf("Route() = %v, want Delivered", result)
	}

	sent := sessions.sentCommands()
	if len(sent) != 1 {
		t.Fatalf("expected 1 delivered command, got %d", len(sent))
	}
	if sent[0].Type != domain.CommandUpdateSettings || sent[0].Settings == nil || *sent[0].Settings.ScreenTimeout != 300 {
		t.Errorf("delivered command = %+v, want UPDATE_SETTINGS with timeout 300", sent[0])
	}
}

func TestCommandService_LockSuccessFlipsPolicy(t *testing.T) {
	commands, deviceRepo, activityRepo, sessions, broadcaster := newCommandFixture()
	seedDevice(deviceRepo, "hw-1")
	sessions.bind("hw-1", "s1")

	commands.Route("hw-1", domain.Command{Type: domain.CommandLockDevice})

	err := commands.HandleResponse(context.Background(), "hw-1", &domain.CommandResponse{
		Type:    domain.CommandLockDevice,
		Success: true,
	})
	if err != nil {
		t.Fatalf("HandleResponse() error = %v", err)
	}

	device, _ := deviceRepo.FindByHardwareID(context.Background(), "hw-1")
	if device.PolicyStatus != domain.PolicyLocked {
		t.Errorf("policy = %s, want LOCKED", device.PolicyStatus)
	}
	if got := len(activityRepo.byType(domain.ActivityDeviceLocked)); got != 1 {
		t.Errorf("expected 1 DEVICE_LOCKED activity, got %d", got)
	}
	if broadcaster.outcomeCount() != 1 {
		t.Errorf("expected 1 command-result broadcast, got %d", broadcaster.outcomeCount())
	}
	if broadcaster.updateCount() != 1 {
		t.Errorf("policy change must broadcast the device snapshot, got %d", broadcaster.updateCount())
	}
}

func TestCommandService_UnlockSuccessRestoresPolicy(t *testing.T) {
	commands, deviceRepo, activityRepo, sessions, _ := newCommandFixture()
	device := seedDevice(deviceRepo, "hw-1")
	device.PolicyStatus = domain.PolicyLocked
	sessions.bind("hw-1", "s1")

	commands.Route("hw-1", domain.Command{Type: domain.CommandUnlockDevice})
	if err := commands.HandleResponse(context.Background(), "hw-1", &domain.CommandResponse{
		Type:    domain.CommandUnlockDevice,
		Success: true,
	}); err != nil {
		t.Fatalf("HandleResponse() error = %v", err)
	}

	updated, _ := deviceRepo.FindByHardwareID(context.Background(), "hw-1")
	if updated.PolicyStatus != domain.PolicyNormal {
		t.Errorf("policy = %s, want NORMAL", updated.PolicyStatus)
	}
	if got := len(activityRepo.byType(domain.ActivityDeviceUnlocked)); got != 1 {
		t.Errorf("expected 1 DEVICE_UNLOCKED activity, got %d", got)
	}
}

func TestCommandService_FailureRecordsErrorWithoutPolicyChange(t *testing.T) {
	commands, deviceRepo, activityRepo, sessions, broadcaster := newCommandFixture()
	seedDevice(deviceRepo, "hw-1")
	sessions.bind("hw-1", "s1")

	commands.Route("hw-1", domain.Command{Type: domain.CommandLockDevice})

	if err := commands.HandleResponse(context.Background(), "hw-1", &domain.CommandResponse{
		Type:    domain.CommandLockDevice,
		Success: false,
		Message: "device admin not active",
	}); err != nil {
		t.Fatalf("HandleResponse() error = %v", err)
	}

	device, _ := deviceRepo.FindByHardwareID(context.Background(), "hw-1")
	if device.PolicyStatus != domain.PolicyNormal {
		t.Errorf("failed lock must not flip policy, got %s", device.PolicyStatus)
	}

	errorsLogged := activityRepo.byType(domain.ActivityDeviceError)
	if len(errorsLogged) != 1 {
		t.Fatalf("expected 1 DEVICE_ERROR activity, got %d", len(errorsLogged))
	}
	var details domain.CommandOutcomeDetails
	if err := json.Unmarshal(errorsLogged[0].Details, &details); err != nil {
		t.Fatalf("failed to unmarshal details: %v", err)
	}
	if details.Error != "device admin not active" {
		t.Errorf("details error = %q, want device message", details.Error)
	}

	if broadcaster.updateCount() != 0 {
		t.Error("unchanged policy must not broadcast a device snapshot")
	}
	if broadcaster.outcomeCount() != 1 {
		t.Errorf("failure outcome still broadcasts, got %d", broadcaster.outcomeCount())
	}
}

func TestCommandService_SettingsResponseEchoesDispatchedSettings(t *testing.T) {
	commands, deviceRepo, activityRepo, sessions, _ := newCommandFixture()
	seedDevice(deviceRepo, "hw-1")
	sessions.bind("hw-1", "s1")

	camera := false
	commands.Route("hw-1", domain.Command{
		Type:     domain.CommandUpdateSettings,
		Settings: &domain.DeviceSettings{CameraEnabled: &camera},
	})

	if err := commands.HandleResponse(context.Background(), "hw-1", &domain.CommandResponse{
		Type:    domain.CommandUpdateSettings,
		Success: true,
	}); err != nil {
		t.Fatalf("HandleResponse() error = %v", err)
	}

	changed := activityRepo.byType(domain.ActivitySettingsChanged)
	if len(changed) != 1 {
		t.Fatalf("expected 1 SETTINGS_CHANGED activity, got %d", len(changed))
	}
	var details domain.CommandOutcomeDetails
	if err := json.Unmarshal(changed[0].Details, &details); err != nil {
		t.Fatalf("failed to unmarshal details: %v", err)
	}
	if details.Settings == nil || details.Settings.CameraEnabled == nil || *details.Settings.CameraEnabled {
		t.Errorf("outcome must echo the dispatched settings, got %+v", details.Settings)
	}
}

func TestCommandService_UnsolicitedResponseStillRecorded(t *testing.T) {
	commands, deviceRepo, activityRepo, _, _ := newCommandFixture()
	seedDevice(deviceRepo, "hw-1")

	// No Route call: the device reports an outcome on its own.
	if err := commands.HandleResponse(context.Background(), "hw-1", &domain.CommandResponse{
		Type:    domain.CommandLockDevice,
		Success: true,
	}); err != nil {
		t.Fatalf("HandleResponse() error = %v", err)
	}

	device, _ := deviceRepo.FindByHardwareID(context.Background(), "hw-1")
	if device.PolicyStatus != domain.PolicyLocked {
		t.Errorf("policy = %s, want LOCKED", device.PolicyStatus)
	}
	if got := len(activityRepo.byType(domain.ActivityDeviceLocked)); got != 1 {
		t.Errorf("expected 1 DEVICE_LOCKED activity, got %d", got)
	}
}

func TestCommandService_UnknownResponseTypeIsMalformed(t *testing.T) {
	commands, deviceRepo, activityRepo, _, _ := newCommandFixture()
	seedDevice(deviceRepo, "hw-1")

	err := commands.HandleResponse(context.Background(), "hw-1", &domain.CommandResponse{
		Type:    "REBOOT_DEVICE",
		Success: true,
	})
	if !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("error = %v, want ErrMalformedMessage", err)
	}
	if activityRepo.total() != 0 {
		t.Error("malformed response must not append an audit record")
	}
}
