package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/mcdev12/estimate/go/internal/models"
)

// ClientMessageType is the action a client asks for.
type ClientMessageType string

const (
	ClientMessageJoin   ClientMessageType = "join"
	ClientMessageCreate ClientMessageType = "create"
	ClientMessageVote   ClientMessageType = "vote"
	ClientMessageReveal ClientMessageType = "reveal"
	ClientMessageReset  ClientMessageType = "reset"
	ClientMessageTopic  ClientMessageType = "topic"
	ClientMessageLeave  ClientMessageType = "leave"
)

// ClientMessage is one command read from the websocket. Only the fields the
// command needs are set.
type ClientMessage struct {
	Type   ClientMessageType `json:"type"`
	RoomID string            `json:"room_id,omitempty"`
	Code   string            `json:"code,omitempty"`
	Name   string            `json:"name,omitempty"`
	Value  string            `json:"value,omitempty"`
	Topic  string            `json:"topic,omitempty"`
}

// EventType is the kind of message the server pushes.
type EventType string

const (
	EventTypeState     EventType = "state"
	EventTypeConsensus EventType = "consensus"
	EventTypeCreated   EventType = "created"
	EventTypeError     EventType = "error"
)

// Event is the envelope of every server message.
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ConsensusPayload announces that the revealed votes just came to agree.
type ConsensusPayload struct {
	Value models.Vote `json:"value"`
}

// CreatedPayload answers a create command.
type CreatedPayload struct {
	RoomID string `json:"room_id"`
}

// ErrorPayload carries text that is safe to show.
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewEvent marshals payload into an event envelope.
func NewEvent(t EventType, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return json.Marshal(Event{Type: t, Data: data})
}
