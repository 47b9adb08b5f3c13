package service

import (
	"context"
	"log"
	"time"

	"hydra-fleet-server/internal/domain"
)

// PresenceService drives the OFFLINE -> ONLINE -> OFFLINE cycle for each
// device identity. Transitions are idempotent: a device that reconnects
// while already online supersedes its prior session silently, and the later
// close of that superseded session cannot flip the device back offline.
type PresenceService struct {
	registry    *DeviceRegistry
	activities  *ActivityService
	sessions    SessionDirectory
	broadcaster FleetBroadcaster
}

func NewPresenceService(registry *DeviceRegistry, activities *ActivityService, sessions SessionDirectory, broadcaster FleetBroadcaster) *PresenceService {
	return &PresenceService{
		registry:    registry,
		activities:  activities,
		sessions:    sessions,
		broadcaster: broadcaster,
	}
}

// HandleConnect marks the identity online. Exactly one DEVICE_CONNECTED
// record is appended per OFFLINE -> ONLINE transition; a reconnect of an
// already-online identity refreshes last_seen only.
func (s *PresenceService) HandleConnect(ctx context.Context, hardwareID, sessionID string) error {
	wasOnline := false

	device, err := s.registry.WithDevice(ctx, hardwareID, func(d *domain.Device) (map[string]interface{}, error) {
		wasOnline = d.Online
		return map[string]interface{}{
			"online":    true,
			"last_seen": time.Now(),
		}, nil
	})
	if err != nil {
		return err
	}

	if wasOnline {
		log.Printf("[Presence] device %s reconnected, session %s supersedes prior session", hardwareID, sessionID)
		return nil
	}

	log.Printf("[Presence] device connected: %s", hardwareID)

	if _, err := s.activities.Append(ctx, device.ID, domain.ActivityDeviceConnected, &domain.ConnectionDetails{SessionID: sessionID}); err != nil {
		log.Printf("[Presence] audit write dropped for device %s: %v", hardwareID, err)
	}

	s.broadcaster.DeviceUpdated(device)
	return nil
}

// HandleDisconnect marks the identity offline, but only when the closing
// session is still the one bound to the identity. A stale session's close
// arriving after a reconnect is a no-op. The staleness check runs inside the
// identity's critical section: a reconnect cannot slip in between the check
// and the write and then lose to the stale session's offline flip.
func (s *PresenceService) HandleDisconnect(ctx context.Context, hardwareID, sessionID string) error {
	wasOnline := false
	stale := false

	device, err := s.registry.WithDevice(ctx, hardwareID, func(d *domain.Device) (map[string]interface{}, error) {
		if current, ok := s.sessions.CurrentSession(hardwareID); !ok || current != sessionID {
			stale = true
			return nil, nil
		}
		wasOnline = d.Online
		return map[string]interface{}{
			"online":    false,
			"last_seen": time.Now(),
		}, nil
	})
	if err != nil {
		return err
	}

	if stale {
		log.Printf("[Presence] ignoring disconnect of stale session %s for device %s", sessionID, hardwareID)
		return nil
	}

	if !wasOnline {
		return nil
	}

	log.Printf("[Presence] device disconnected: %s", hardwareID)

	if _, err := s.activities.Append(ctx, device.ID, domain.ActivityDeviceDisconnected, &domain.ConnectionDetails{SessionID: sessionID}); err != nil {
		log.Printf("[Presence] audit write dropped for device %s: %v", hardwareID, err)
	}

	s.broadcaster.DeviceUpdated(device)
	return nil
}
