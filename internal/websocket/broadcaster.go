package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"hydra-fleet-server/internal/domain"

	"github.com/gorilla/websocket"
)

// Observer is one connected operator console. Observers only receive; their
// read side exists to detect the peer going away.
type Observer struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// Broadcaster fans device state changes and command outcomes out to every
// connected console observer. Delivery is best-effort presence notification:
// no acknowledgement, no replay. An observer that was not connected when an
// event fired resynchronizes through the REST device list.
type Broadcaster struct {
	mu        sync.RWMutex
	observers map[string]*Observer

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

func NewBroadcaster(writeWait, pongWait, pingPeriod time.Duration) *Broadcaster {
	return &Broadcaster{
		observers:  make(map[string]*Observer),
		writeWait:  writeWait,
		pongWait:   pongWait,
		pingPeriod: pingPeriod,
	}
}

func (b *Broadcaster) Register(observer *Observer) {
	b.mu.Lock()
	b.observers[observer.ID] = observer
	b.mu.Unlock()

	log.Printf("[Broadcast] observer connected: %s", observer.ID)

	go b.writePump(observer)
	go b.readPump(observer)
}

func (b *Broadcaster) unregister(observer *Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.observers[observer.ID]; ok {
		delete(b.observers, observer.ID)
		close(observer.Send)
		log.Printf("[Broadcast] observer disconnected: %s", observer.ID)
	}
}

func (b *Broadcaster) ObserverCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// DeviceUpdated publishes a fresh device state snapshot.
func (b *Broadcaster) DeviceUpdated(device *domain.Device) {
	payload := &DeviceUpdatedPayload{
		DeviceID: device.ID,
		Status: DeviceStatus{
			Online:       device.Online,
			BatteryLevel: device.BatteryLevel,
			PolicyStatus: device.PolicyStatus,
			LastSeen:     device.LastSeen,
			Name:         device.Name,
			Model:        device.Model,
		},
	}
	b.publish(TypeDeviceUpdated, payload)
}

// CommandResult publishes the outcome of a routed command.
func (b *Broadcaster) CommandResult(deviceID string, outcome *domain.CommandOutcomeDetails) {
	payload := &CommandResultPayload{
		DeviceID: deviceID,
		Command:  outcome.Command,
		Success:  outcome.Success,
		Error:    outcome.Error,
	}
	b.publish(TypeCommandResponse, payload)
}

func (b *Broadcaster) publish(msgType MessageType, payload interface{}) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		log.Printf("[Broadcast] failed to build %s event: %v", msgType, err)
		return
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[Broadcast] failed to marshal %s event: %v", msgType, err)
		return
	}

	b.mu.RLock()
	stalled := make([]*Observer, 0)
	for _, observer := range b.observers {
		select {
		case observer.Send <- raw:
		default:
			stalled = append(stalled, observer)
		}
	}
	b.mu.RUnlock()

	// An observer that cannot keep up is dropped rather than allowed to
	// block the publish path.
	for _, observer := range stalled {
		log.Printf("[Broadcast] observer %s send buffer full, dropping", observer.ID)
		b.unregister(observer)
	}
}

func (b *Broadcaster) writePump(observer *Observer) {
	ticker := time.NewTicker(b.pingPeriod)
	defer func() {
		ticker.Stop()
		observer.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-observer.Send:
			observer.Conn.SetWriteDeadline(time.Now().Add(b.writeWait))
			if !ok {
				observer.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := observer.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			observer.Conn.SetWriteDeadline(time.Now().Add(b.writeWait))
			if err := observer.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (b *Broadcaster) readPump(observer *Observer) {
	defer func() {
		b.unregister(observer)
		observer.Conn.Close()
	}()

	observer.Conn.SetReadDeadline(time.Now().Add(b.pongWait))
	observer.Conn.SetPongHandler(func(string) error {
		observer.Conn.SetReadDeadline(time.Now().Add(b.pongWait))
		return nil
	})

	for {
		if _, _, err := observer.Conn.ReadMessage(); err != nil {
			break
		}
	}
}
