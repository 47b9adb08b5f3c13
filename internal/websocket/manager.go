package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"hydra-fleet-server/internal/domain"
)

// MessageHandler receives each authenticated session's traffic and its close
// notification. Implemented by the device socket handler.
type MessageHandler interface {
	HandleDeviceMessage(client *Client, msg *Message) error
	HandleDeviceClose(client *Client)
}

// SessionRegistry is the explicit bidirectional map between device
// identities and live sessions. It is constructed once at startup and
// injected into every component that routes to a live session; there is no
// process-wide singleton. Bind and Unbind update both directions under one
// lock, so membership is never inferred by scanning.
type SessionRegistry struct {
	mu        sync.RWMutex
	byDevice  map[string]*Client
	bySession map[string]*Client

	handler MessageHandler

	maxMessageSize int64
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
}

func NewSessionRegistry(maxMessageSize int64, writeWait, pongWait, pingPeriod time.Duration) *SessionRegistry {
	return &SessionRegistry{
		byDevice:       make(map[string]*Client),
		bySession:      make(map[string]*Client),
		maxMessageSize: maxMessageSize,
		writeWait:      writeWait,
		pongWait:       pongWait,
		pingPeriod:     pingPeriod,
	}
}

func (r *SessionRegistry) SetHandler(handler MessageHandler) {
	r.handler = handler
}

// Bind registers client as the live session for its device identity and
// returns the superseded session, if any. The superseded session's send
// channel is closed here, under the registry lock, so it can never race a
// concurrent SendCommand; its write pump winds down and its late close event
// is ignored because it is no longer the bound session for the identity.
func (r *SessionRegistry) Bind(client *Client) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	prior := r.byDevice[client.HardwareID]
	if prior != nil {
		delete(r.bySession, prior.ID)
		close(prior.Send)
	}

	r.byDevice[client.HardwareID] = client
	r.bySession[client.ID] = client

	if prior != nil {
		log.Printf("[Sessions] device %s superseded session %s with %s", client.HardwareID, prior.ID, client.ID)
	}
	return prior
}

// Unbind removes client from the registry only if it is still the session
// bound to its identity, closing its send channel under the registry lock. A
// stale (superseded) session was already removed and closed by Bind, so it
// unbinds nothing and returns false.
func (r *SessionRegistry) Unbind(client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byDevice[client.HardwareID]
	if !ok || current.ID != client.ID {
		return false
	}

	delete(r.byDevice, client.HardwareID)
	delete(r.bySession, client.ID)
	close(client.Send)
	return true
}

// CurrentSession reports the session currently bound to a device identity.
func (r *SessionRegistry) CurrentSession(hardwareID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.byDevice[hardwareID]
	if !ok {
		return "", false
	}
	return client.ID, true
}

// SendCommand delivers a command to the live session bound to hardwareID,
// fire-and-forget. It reports false when no session is bound or the
// session's send buffer is full; the caller treats both as not delivered.
// The read lock is held across the channel send: a bound session's send
// channel is only ever closed under the write lock, so the send cannot land
// on a closed channel during a supersede.
func (r *SessionRegistry) SendCommand(hardwareID string, cmd *domain.Command) bool {
	msg, err := NewMessage(TypeCommand, cmd)
	if err != nil {
		return false
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.byDevice[hardwareID]
	if !ok {
		return false
	}

	select {
	case client.Send <- raw:
		return true
	default:
		log.Printf("[Sessions] send buffer full for device %s, command dropped", hardwareID)
		return false
	}
}

func (r *SessionRegistry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySession)
}
