package models

import "time"

// Participant is one voting member of a room.
type Participant struct {
	ID       string    `json:"participantId"`
	Name     string    `json:"name"`
	Vote     Vote      `json:"vote"`
	JoinedAt time.Time `json:"joinedAt"`
}

// HasVoted reports whether the participant has a card on the table.
func (p Participant) HasVoted() bool {
	return p.Vote.IsCast()
}

// Participant document field names.
const (
	ParticipantFieldID       = "participantId"
	ParticipantFieldName     = "name"
	ParticipantFieldVote     = "vote"
	ParticipantFieldJoinedAt = "joinedAt"
)
