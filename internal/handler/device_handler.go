package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"hydra-fleet-server/internal/domain"
	"hydra-fleet-server/internal/service"
	"hydra-fleet-server/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

const recentActivityCount = 10

// DeviceHandler is the operator-facing REST surface: fleet inventory,
// command dispatch, and the paginated audit trail.
type DeviceHandler struct {
	registry   *service.DeviceRegistry
	commands   *service.CommandService
	activities *service.ActivityService
	validate   *validator.Validate
}

func NewDeviceHandler(registry *service.DeviceRegistry, commands *service.CommandService, activities *service.ActivityService) *DeviceHandler {
	return &DeviceHandler{
		registry:   registry,
		commands:   commands,
		activities: activities,
		validate:   validator.New(),
	}
}

func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	devices, err := h.registry.List(r.Context())
	if err != nil {
		response.InternalError(w, "Failed to list devices")
		return
	}

	responses := make([]*domain.DeviceResponse, 0, len(devices))
	for _, d := range devices {
		responses = append(responses, &domain.DeviceResponse{
			ID:           d.ID,
			HardwareID:   d.HardwareID,
			Name:         d.Name,
			Model:        d.Model,
			Online:       d.Online,
			LastSeen:     d.LastSeen,
			BatteryLevel: d.BatteryLevel,
			PolicyStatus: d.PolicyStatus,
		})
	}

	response.Success(w, responses)
}

func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	device, ok := h.lookupDevice(w, r)
	if !ok {
		return
	}

	activities, err := h.activities.Recent(r.Context(), device.ID, recentActivityCount)
	if err != nil {
		response.InternalError(w, "Failed to load device activities")
		return
	}

	response.Success(w, &domain.DeviceDetailResponse{
		Device:     device,
		Activities: activities,
	})
}

func (h *DeviceHandler) Lock(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, domain.Command{Type: domain.CommandLockDevice})
}

func (h *DeviceHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, domain.Command{Type: domain.CommandUnlockDevice})
}

func (h *DeviceHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings domain.DeviceSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		response.BadRequest(w, "Invalid settings payload")
		return
	}

	if err := h.validate.Struct(settings); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	h.dispatch(w, r, domain.Command{
		Type:     domain.CommandUpdateSettings,
		Settings: &settings,
	})
}

// dispatch routes a command to the target device's live session. An offline
// target is an explicit outcome for the operator, not an error; it leaves
// no registry mutation and no audit record behind.
func (h *DeviceHandler) dispatch(w http.ResponseWriter, r *http.Request, cmd domain.Command) {
	device, ok := h.lookupDevice(w, r)
	if !ok {
		return
	}

	if h.commands.Route(device.HardwareID, cmd) == domain.DeviceOffline {
		response.Conflict(w, "device offline")
		return
	}

	response.Success(w, map[string]string{
		"message": string(cmd.Type) + " command sent",
	})
}

func (h *DeviceHandler) Activities(w http.ResponseWriter, r *http.Request) {
	device, ok := h.lookupDevice(w, r)
	if !ok {
		return
	}

	h.queryActivities(w, r, device.ID)
}

func (h *DeviceHandler) AllActivities(w http.ResponseWriter, r *http.Request) {
	h.queryActivities(w, r, "")
}

func (h *DeviceHandler) queryActivities(w http.ResponseWriter, r *http.Request, deviceID string) {
	cursor, err := parseCursor(r)
	if err != nil {
		response.BadRequest(w, "Invalid cursor")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	page, err := h.activities.Query(r.Context(), deviceID, cursor, limit)
	if err != nil {
		response.InternalError(w, "Failed to query activities")
		return
	}

	response.Success(w, page)
}

func (h *DeviceHandler) lookupDevice(w http.ResponseWriter, r *http.Request) (*domain.Device, bool) {
	id := mux.Vars(r)["id"]
	if id == "" {
		response.BadRequest(w, "Device ID is required")
		return nil, false
	}

	device, err := h.registry.GetByID(r.Context(), id)
	if err != nil {
		response.NotFound(w, "Device not found")
		return nil, false
	}

	return device, true
}

func parseCursor(r *http.Request) (*domain.ActivityCursor, error) {
	ts := r.URL.Query().Get("cursor_ts")
	if ts == "" {
		return nil, nil
	}

	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, err
	}

	seq, err := strconv.ParseUint(r.URL.Query().Get("cursor_seq"), 10, 64)
	if err != nil {
		return nil, err
	}

	return &domain.ActivityCursor{CreatedAt: createdAt, Seq: seq}, nil
}
