package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"hydra-fleet-server/internal/domain"
)

type MessageType string

const (
	// Device -> server.
	TypeStatusUpdate    MessageType = "status_update"
	TypeCommandResponse MessageType = "command_response"

	// Server -> device.
	TypeCommand MessageType = "command"

	// Server -> operator console.
	TypeDeviceUpdated MessageType = "device_updated"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// DeviceStatus is the state snapshot broadcast to console observers in a
// device_updated event.
type DeviceStatus struct {
	Online       bool                `json:"online"`
	BatteryLevel int                 `json:"batteryLevel"`
	PolicyStatus domain.PolicyStatus `json:"policyStatus"`
	LastSeen     time.Time           `json:"lastSeen"`
	Name         string              `json:"name,omitempty"`
	Model        string              `json:"model,omitempty"`
}

type DeviceUpdatedPayload struct {
	DeviceID string       `json:"deviceId"`
	Status   DeviceStatus `json:"status"`
}

type CommandResultPayload struct {
	DeviceID string             `json:"deviceId"`
	Command  domain.CommandType `json:"command"`
	Success  bool               `json:"success"`
	Error    string             `json:"error,omitempty"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

// UnmarshalPayload decodes the message payload into v. A message without a
// payload is malformed for every type that calls this: decoding it as a
// zero value would smuggle default field values (battery 0, success false)
// into the services.
func (m *Message) UnmarshalPayload(v interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message carries no payload", m.Type)
	}
	return json.Unmarshal(m.Payload, v)
}
