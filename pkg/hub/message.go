// Package hub fans messages out to websocket subscribers from a single
// goroutine that owns the subscriber set.
package hub

import "github.com/gofiber/websocket/v2"

// MessageType selects the websocket frame a message is sent as.
type MessageType int

const (
	JSONMessage   MessageType = iota // text frame with a JSON document
	BinaryMessage                    // binary frame, e.g. a JPEG
)

// frameType maps a message type to its websocket opcode.
func (t MessageType) frameType() int {
	if t == BinaryMessage {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// Message is one broadcast payload. Data is shared between subscribers and
// must not be modified after broadcast.
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage wraps pre-encoded JSON.
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage wraps raw bytes.
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}
