package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"hydra-fleet-server/internal/domain"
)

// CommandService routes operator commands to live sessions and correlates
// the responses devices send back. Delivery is at-most-once per live
// session, fire-and-forget: no retries, no queueing for offline devices.
//
// Responses are correlated by device identity and command type only; there
// is no per-command token on the wire. At most one command of a given type
// per device may be outstanding if correlation must be unambiguous.
type CommandService struct {
	sessions    SessionDirectory
	registry    *DeviceRegistry
	activities  *ActivityService
	broadcaster FleetBroadcaster

	mu       sync.Mutex
	inflight map[string]map[domain.CommandType]domain.DispatchedCommand
}

func NewCommandService(sessions SessionDirectory, registry *DeviceRegistry, activities *ActivityService, broadcaster FleetBroadcaster) *CommandService {
	return &CommandService{
		sessions:    sessions,
		registry:    registry,
		activities:  activities,
		broadcaster: broadcaster,
		inflight:    make(map[string]map[domain.CommandType]domain.DispatchedCommand),
	}
}

// Route delivers cmd to the session bound to hardwareID. DeviceOffline is a
// result, not an error: the router mutates no registry state and appends no
// audit record for a failed lookup — whether to record the failed attempt is
// the caller's call.
func (s *CommandService) Route(hardwareID string, cmd domain.Command) domain.RouteResult {
	if !s.sessions.SendCommand(hardwareID, &cmd) {
		return domain.DeviceOffline
	}

	s.mu.Lock()
	if s.inflight[hardwareID] == nil {
		s.inflight[hardwareID] = make(map[domain.CommandType]domain.DispatchedCommand)
	}
	s.inflight[hardwareID][cmd.Type] = domain.DispatchedCommand{
		Command:      cmd,
		DispatchedAt: time.Now(),
	}
	s.mu.Unlock()

	log.Printf("[Command] %s routed to device %s", cmd.Type, hardwareID)
	return domain.Delivered
}

func (s *CommandService) takeDispatched(hardwareID string, cmdType domain.CommandType) (domain.DispatchedCommand, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byType, ok := s.inflight[hardwareID]
	if !ok {
		return domain.DispatchedCommand{}, false
	}

	dispatched, ok := byType[cmdType]
	if !ok {
		return domain.DispatchedCommand{}, false
	}

	delete(byType, cmdType)
	if len(byType) == 0 {
		delete(s.inflight, hardwareID)
	}
	return dispatched, true
}

// HandleResponse records the outcome a device reports for a routed command.
// A successful lock or unlock flips the device's policy status in the
// registry; the outcome is always appended to the audit log and broadcast to
// the console.
func (s *CommandService) HandleResponse(ctx context.Context, hardwareID string, resp *domain.CommandResponse) error {
	activityType, ok := outcomeActivityType(resp)
	if !ok {
		return fmt.Errorf("%w: unknown command type %q", ErrMalformedMessage, resp.Type)
	}

	dispatched, matched := s.takeDispatched(hardwareID, resp.Type)
	if !matched {
		log.Printf("[Command] unsolicited %s response from device %s", resp.Type, hardwareID)
	}

	outcome := &domain.CommandOutcomeDetails{
		Command: resp.Type,
		Success: resp.Success,
		Error:   resp.Message,
	}
	if matched && resp.Success {
		outcome.Settings = dispatched.Command.Settings
	}
	if resp.Success {
		outcome.Error = ""
	}

	device, policyChanged, err := s.applyPolicy(ctx, hardwareID, resp)
	if err != nil {
		return err
	}

	if _, err := s.activities.Append(ctx, device.ID, activityType, outcome); err != nil {
		log.Printf("[Command] audit write dropped for device %s: %v", hardwareID, err)
	}

	s.broadcaster.CommandResult(device.ID, outcome)
	if policyChanged {
		s.broadcaster.DeviceUpdated(device)
	}
	return nil
}

// applyPolicy flips PolicyStatus for successful lock/unlock outcomes.
// Command outcomes are the only driver of policy state; connectivity is
// untouched here.
func (s *CommandService) applyPolicy(ctx context.Context, hardwareID string, resp *domain.CommandResponse) (*domain.Device, bool, error) {
	var target domain.PolicyStatus
	switch {
	case resp.Success && resp.Type == domain.CommandLockDevice:
		target = domain.PolicyLocked
	case resp.Success && resp.Type == domain.CommandUnlockDevice:
		target = domain.PolicyNormal
	default:
		device, err := s.registry.Get(ctx, hardwareID)
		return device, false, err
	}

	changed := false
	device, err := s.registry.WithDevice(ctx, hardwareID, func(d *domain.Device) (map[string]interface{}, error) {
		if d.PolicyStatus == target {
			return nil, nil
		}
		changed = true
		return map[string]interface{}{"policy_status": target}, nil
	})
	return device, changed, err
}

func outcomeActivityType(resp *domain.CommandResponse) (domain.ActivityType, bool) {
	if !resp.Success {
		switch resp.Type {
		case domain.CommandLockDevice, domain.CommandUnlockDevice, domain.CommandUpdateSettings:
			return domain.ActivityDeviceError, true
		}
		return "", false
	}

	switch resp.Type {
	case domain.CommandLockDevice:
		return domain.ActivityDeviceLocked, true
	case domain.CommandUnlockDevice:
		return domain.ActivityDeviceUnlocked, true
	case domain.CommandUpdateSettings:
		return domain.ActivitySettingsChanged, true
	}
	return "", false
}
