package websocket

import (
	"time"

	"github.com/KevinKickass/OpenSensorCore/internal/notify"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Sensor messages
	MessageTypeSensorAttribute MessageType = "sensor_attribute"
	MessageTypeSensorState     MessageType = "sensor_state"
	MessageTypeSensorError     MessageType = "sensor_error"

	// System messages
	MessageTypeSystemStatus MessageType = "system_status"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Sensor    string      `json:"sensor,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// FromEvent converts a sensor event into its wire message.
func FromEvent(e notify.Event) Message {
	var t MessageType
	switch e.Type {
	case notify.EventAttribute:
		t = MessageTypeSensorAttribute
	case notify.EventState:
		t = MessageTypeSensorState
	default:
		t = MessageTypeSensorError
	}
	return Message{
		Type:      t,
		Sensor:    e.Sensor,
		Timestamp: e.Timestamp,
		Data:      e.Data,
	}
}

// clientMessage is what clients may send after connecting.
type clientMessage struct {
	Type    string   `json:"type"`
	Token   string   `json:"token,omitempty"`
	Sensors []string `json:"sensors,omitempty"`
}
