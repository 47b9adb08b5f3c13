package handler

import (
	"log"
	"net/http"

	"hydra-fleet-server/internal/websocket"
	"hydra-fleet-server/pkg/jwt"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

// ConsoleSocketHandler upgrades operator consoles into broadcast observers.
// Observers receive fleet events only; they resynchronize full state through
// the REST API after (re)connecting.
type ConsoleSocketHandler struct {
	broadcaster *websocket.Broadcaster
	jwtSecret   string
	upgrader    ws.Upgrader
}

func NewConsoleSocketHandler(broadcaster *websocket.Broadcaster, jwtSecret string) *ConsoleSocketHandler {
	return &ConsoleSocketHandler{
		broadcaster: broadcaster,
		jwtSecret:   jwtSecret,
		upgrader: ws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *ConsoleSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	claims, err := jwt.ValidateToken(bearerToken(r), h.jwtSecret)
	if err != nil || claims.UserID == "" {
		log.Printf("[Console] rejecting observer connection: invalid operator token")
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Console] failed to upgrade observer connection: %v", err)
		return
	}

	observer := &websocket.Observer{
		ID:   uuid.New().String(),
		Conn: conn,
		Send: make(chan []byte, 256),
	}

	h.broadcaster.Register(observer)
}
