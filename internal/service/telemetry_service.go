package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"hydra-fleet-server/internal/domain"
)

// TelemetryService ingests periodic status reports from authenticated
// sessions. The report's identity comes from the session binding, never from
// the payload. Every report refreshes the registry; a BATTERY_UPDATE audit
// record is emitted only when the level moved by at least the configured
// threshold since the last recorded value, which bounds audit volume under
// frequent reporting.
type TelemetryService struct {
	registry    *DeviceRegistry
	activities  *ActivityService
	broadcaster FleetBroadcaster
	threshold   int
}

func NewTelemetryService(registry *DeviceRegistry, activities *ActivityService, broadcaster FleetBroadcaster, threshold int) *TelemetryService {
	return &TelemetryService{
		registry:    registry,
		activities:  activities,
		broadcaster: broadcaster,
		threshold:   threshold,
	}
}

func (s *TelemetryService) HandleStatusUpdate(ctx context.Context, hardwareID string, report *domain.StatusReport) error {
	if report.BatteryLevel < 0 || report.BatteryLevel > 100 {
		return fmt.Errorf("%w: battery level %d out of range", ErrMalformedMessage, report.BatteryLevel)
	}

	oldLevel := 0

	device, err := s.registry.WithDevice(ctx, hardwareID, func(d *domain.Device) (map[string]interface{}, error) {
		oldLevel = d.BatteryLevel

		fields := map[string]interface{}{
			"battery_level": report.BatteryLevel,
			"last_seen":     time.Now(),
		}
		if report.DeviceInfo.Name != "" {
			fields["name"] = report.DeviceInfo.Name
		}
		if report.DeviceInfo.Model != "" {
			fields["model"] = report.DeviceInfo.Model
		}
		if report.DeviceInfo.Manufacturer != "" {
			fields["manufacturer"] = report.DeviceInfo.Manufacturer
		}
		if report.DeviceInfo.OSVersion != "" {
			fields["os_version"] = report.DeviceInfo.OSVersion
		}
		return fields, nil
	})
	if err != nil {
		return err
	}

	delta := report.BatteryLevel - oldLevel
	if delta < 0 {
		delta = -delta
	}

	if delta >= s.threshold {
		details := &domain.BatteryUpdateDetails{
			OldLevel: oldLevel,
			NewLevel: report.BatteryLevel,
		}
		if _, err := s.activities.Append(ctx, device.ID, domain.ActivityBatteryUpdate, details); err != nil {
			log.Printf("[Telemetry] audit write dropped for device %s: %v", hardwareID, err)
		}
	}

	// The console sees every snapshot, whether or not it was audit-worthy.
	s.broadcaster.DeviceUpdated(device)
	return nil
}
