package websocket

import (
	"encoding/json"
	"time"
)

// Message is the envelope for every frame sent to dashboard clients
type Message struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Message types pushed by the server
const (
	MessageTypeAlertCreated  = "alert_created"
	MessageTypeAlertResolved = "alert_resolved"
	MessageTypePong          = "pong"
)

// NewMessage creates a message stamped with the current time
func NewMessage(msgType string, data interface{}) *Message {
	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// Encode serializes the message for the wire
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}
