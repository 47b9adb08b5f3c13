package websocket

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one live device session: a connection bound to a device identity
// at authentication time. The binding is immutable for the life of the
// session; a newer session for the same identity supersedes this one through
// the registry, it never rebinds an existing client.
type Client struct {
	ID         string
	HardwareID string
	Conn       *websocket.Conn
	Registry   *SessionRegistry
	Send       chan []byte
	CreatedAt  time.Time
}

func NewClient(id, hardwareID string, conn *websocket.Conn, registry *SessionRegistry) *Client {
	return &Client{
		ID:         id,
		HardwareID: hardwareID,
		Conn:       conn,
		Registry:   registry,
		Send:       make(chan []byte, 256),
		CreatedAt:  time.Now(),
	}
}

// ReadPump handles every inbound message of this session in arrival order,
// on this session's own goroutine. Handling blocks only this session; other
// sessions make progress independently.
func (c *Client) ReadPump() {
	defer func() {
		c.Registry.handler.HandleDeviceClose(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Registry.maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Registry.pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Registry.pongWait))
		return nil
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Session] read error for device %s: %v", c.HardwareID, err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			// Malformed payloads are discarded; the session stays up.
			log.Printf("[Session] discarding malformed message from device %s: %v", c.HardwareID, err)
			continue
		}

		if err := c.Registry.handler.HandleDeviceMessage(c, &msg); err != nil {
			log.Printf("[Session] error handling %s from device %s: %v", msg.Type, c.HardwareID, err)
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.Registry.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Registry.writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Registry.writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
