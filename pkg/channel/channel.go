// Package channel defines the message channel a session talks to its peers
// through: a persistent bidirectional connection keyed by document id that
// carries named events.
package channel

import (
	"context"
	"fmt"

	"github.com/surrealdb/scenesync/internal/codec"
	"github.com/surrealdb/scenesync/pkg/constants"
	"github.com/surrealdb/scenesync/pkg/models"
)

type Event string

const (
	EventElementUpdate Event = "element-update"
	EventPresence      Event = "presence"
	EventError         Event = "error"
)

// Envelope is the frame that travels on the wire. Payload holds the event
// body encoded with the channel's codec.
type Envelope struct {
	Event   Event  `json:"event"`
	Room    string `json:"room,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

// Message is a received event. Decode reads the payload with the codec of
// the channel it arrived on.
type Message struct {
	Event   Event
	Payload []byte

	unmarshaler codec.Unmarshaler
}

func NewMessage(event Event, payload []byte, u codec.Unmarshaler) Message {
	return Message{Event: event, Payload: payload, unmarshaler: u}
}

func (m Message) Decode(dst any) error {
	if m.unmarshaler == nil {
		return constants.ErrNoUnmarshaler
	}
	return m.unmarshaler.Unmarshal(m.Payload, dst)
}

// ElementUpdate carries only what changed: the changed elements, the
// changed files, and the full order when the order changed.
type ElementUpdate struct {
	SenderID string           `json:"senderId"`
	Elements []models.Element `json:"elements,omitempty"`
	Files    models.Files     `json:"files,omitempty"`
	Order    []string         `json:"order,omitempty"`
}

type Presence struct {
	SenderID string     `json:"senderId"`
	Username string     `json:"username,omitempty"`
	Pointer  [2]float64 `json:"pointer"`
	Button   string     `json:"button,omitempty"`
}

type ErrorNotice struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// HandshakeError is returned by Connect when the relay answered the
// upgrade request with a status other than 101.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("relay answered the handshake with status %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

type Handler func(msg Message)

type Channel interface {
	Send(ctx context.Context, event Event, payload any) error
	// OnMessage registers h for event and returns a func removing it.
	OnMessage(event Event, h Handler) (unsubscribe func())
	Close(ctx context.Context) error
	IsClosed() bool
}

// Encode builds the wire frame for one event.
func Encode(m codec.Marshaler, room string, event Event, payload any) ([]byte, error) {
	if m == nil {
		return nil, constants.ErrNoMarshaler
	}
	body, err := m.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return m.Marshal(Envelope{Event: event, Room: room, Payload: body})
}

// Decode parses a wire frame produced by Encode.
func Decode(u codec.Unmarshaler, frame []byte) (Message, error) {
	if u == nil {
		return Message{}, constants.ErrNoUnmarshaler
	}
	var env Envelope
	if err := u.Unmarshal(frame, &env); err != nil {
		return Message{}, err
	}
	return NewMessage(env.Event, env.Payload, u), nil
}
