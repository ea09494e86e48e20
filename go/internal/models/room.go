package models

import "time"

// RoomCodeAlphabet is the set of symbols room codes are drawn from. It leaves out
// 0, O, 1 and I so codes survive being read aloud.
const RoomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// RoomCodeLength is the number of symbols in a room code.
const RoomCodeLength = 6

// Room represents a shared estimation session.
type Room struct {
	ID           string    `json:"-"`
	Code         string    `json:"code"`
	CreatedAt    time.Time `json:"createdAt"`
	Revealed     bool      `json:"revealed"`
	CurrentTopic string    `json:"currentTopic"`
}

// Room document field names.
const (
	RoomFieldCode         = "code"
	RoomFieldCreatedAt    = "createdAt"
	RoomFieldRevealed     = "revealed"
	RoomFieldCurrentTopic = "currentTopic"
)
