package handler

import (
	"context"
	"log"
	"net/http"

	"hydra-fleet-server/internal/domain"
	"hydra-fleet-server/internal/service"
	"hydra-fleet-server/internal/websocket"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

// DeviceSocketHandler owns the device-facing WebSocket endpoint: it
// authenticates the connection before the upgrade admits any traffic, binds
// the session into the registry, and dispatches each session's messages on
// that session's own goroutine.
type DeviceSocketHandler struct {
	sessions   *websocket.SessionRegistry
	deviceAuth *service.DeviceAuthService
	presence   *service.PresenceService
	telemetry  *service.TelemetryService
	commands   *service.CommandService
	upgrader   ws.Upgrader
}

func NewDeviceSocketHandler(
	sessions *websocket.SessionRegistry,
	deviceAuth *service.DeviceAuthService,
	presence *service.PresenceService,
	telemetry *service.TelemetryService,
	commands *service.CommandService,
) *DeviceSocketHandler {
	h := &DeviceSocketHandler{
		sessions:   sessions,
		deviceAuth: deviceAuth,
		presence:   presence,
		telemetry:  telemetry,
		commands:   commands,
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	sessions.SetHandler(h)
	return h
}

func bearerToken(r *http.Request) string {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
	}
	return token
}

func (h *DeviceSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	// Authentication happens synchronously, before the upgrade: no session
	// exists and no traffic is processed until the credential resolves to a
	// device identity.
	device, err := h.deviceAuth.Authenticate(r.Context(), bearerToken(r))
	if err != nil {
		log.Printf("[WebSocket] rejecting device connection: %v", err)
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] failed to upgrade connection for device %s: %v", device.HardwareID, err)
		return
	}

	client := websocket.NewClient(uuid.New().String(), device.HardwareID, conn, h.sessions)

	if superseded := h.sessions.Bind(client); superseded != nil {
		// The registry already closed the old session's send channel; its
		// pumps wind down on their own and its close event no-ops against
		// the presence tracker.
		log.Printf("[WebSocket] device %s superseded session %s", device.HardwareID, superseded.ID)
	}

	if err := h.presence.HandleConnect(r.Context(), device.HardwareID, client.ID); err != nil {
		log.Printf("[WebSocket] presence update failed for device %s: %v", device.HardwareID, err)
	}

	go client.WritePump()
	go client.ReadPump()
}

// HandleDeviceMessage implements websocket.MessageHandler. It runs on the
// session's read goroutine, so one device's slow storage call never stalls
// another session.
func (h *DeviceSocketHandler) HandleDeviceMessage(client *websocket.Client, msg *websocket.Message) error {
	ctx := context.Background()

	switch msg.Type {
	case websocket.TypeStatusUpdate:
		return h.handleStatusUpdate(ctx, client, msg)

	case websocket.TypeCommandResponse:
		return h.handleCommandResponse(ctx, client, msg)

	default:
		log.Printf("[WebSocket] unknown message type %q from device %s", msg.Type, client.HardwareID)
	}

	return nil
}

func (h *DeviceSocketHandler) handleStatusUpdate(ctx context.Context, client *websocket.Client, msg *websocket.Message) error {
	var report domain.StatusReport
	if err := msg.UnmarshalPayload(&report); err != nil {
		log.Printf("[WebSocket] discarding malformed status_update from device %s: %v", client.HardwareID, err)
		return nil
	}

	// The identity is the session binding; a deviceId in the payload is
	// never trusted.
	return h.telemetry.HandleStatusUpdate(ctx, client.HardwareID, &report)
}

func (h *DeviceSocketHandler) handleCommandResponse(ctx context.Context, client *websocket.Client, msg *websocket.Message) error {
	var resp domain.CommandResponse
	if err := msg.UnmarshalPayload(&resp); err != nil {
		log.Printf("[WebSocket] discarding malformed command_response from device %s: %v", client.HardwareID, err)
		return nil
	}

	return h.commands.HandleResponse(ctx, client.HardwareID, &resp)
}

// HandleDeviceClose implements websocket.MessageHandler. The presence
// tracker runs its stale-session check before the binding is released, so a
// superseded session's close cannot flip a reconnected device offline.
func (h *DeviceSocketHandler) HandleDeviceClose(client *websocket.Client) {
	if err := h.presence.HandleDisconnect(context.Background(), client.HardwareID, client.ID); err != nil {
		log.Printf("[WebSocket] presence update failed for device %s: %v", client.HardwareID, err)
	}
	h.sessions.Unbind(client)
}
