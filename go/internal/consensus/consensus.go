// Package consensus derives the voting summary of a room from its current
// snapshot. Everything here is a pure function of its inputs.
package consensus

import (
	"math"
	"strconv"

	"github.com/mcdev12/estimate/go/internal/models"
)

// NoAverage is shown when no numeric vote has been cast.
const NoAverage = "—"

// Summary is the state derived from one room snapshot.
type Summary struct {
	AllVoted         bool        `json:"all_voted"`
	HasConsensus     bool        `json:"has_consensus"`
	ConsensusValue   models.Vote `json:"consensus_value"`
	Average          string      `json:"average"`
	VotedCount       int         `json:"voted_count"`
	ParticipantCount int         `json:"participant_count"`
}

// Summarize computes every derived value at once. room may be nil.
func Summarize(room *models.Room, participants []models.Participant) Summary {
	return Summary{
		AllVoted:         AllVoted(participants),
		HasConsensus:     HasConsensus(room, participants),
		ConsensusValue:   ConsensusValue(room, participants),
		Average:          Average(participants),
		VotedCount:       VotedCount(participants),
		ParticipantCount: len(participants),
	}
}

// AllVoted reports whether there is at least one participant and nobody is missing a vote.
func AllVoted(participants []models.Participant) bool {
	if len(participants) == 0 {
		return false
	}
	for _, p := range participants {
		if !p.HasVoted() {
			return false
		}
	}
	return true
}

// VotedCount is the number of participants with a card on the table.
func VotedCount(participants []models.Participant) int {
	n := 0
	for _, p := range participants {
		if p.HasVoted() {
			n++
		}
	}
	return n
}

// HasConsensus reports whether the revealed votes agree. "?" votes are ignored, but
// at least two participants and two substantive votes are required.
func HasConsensus(room *models.Room, participants []models.Participant) bool {
	if room == nil || !room.Revealed || len(participants) < 2 {
		return false
	}

	var first models.Vote
	count := 0
	for _, p := range participants {
		if !p.Vote.IsSubstantive() {
			continue
		}
		if count == 0 {
			first = p.Vote
		} else if p.Vote != first {
			return false
		}
		count++
	}
	return count >= 2
}

// ConsensusValue returns the agreed vote, or NoVote without consensus.
func ConsensusValue(room *models.Room, participants []models.Participant) models.Vote {
	if !HasConsensus(room, participants) {
		return models.NoVote
	}
	for _, p := range participants {
		if p.Vote.IsSubstantive() {
			return p.Vote
		}
	}
	return models.NoVote
}

// Average is the mean of the numeric votes with one decimal, or NoAverage.
func Average(participants []models.Participant) string {
	var sum float64
	n := 0
	for _, p := range participants {
		if v, ok := p.Vote.Numeric(); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return NoAverage
	}
	// Ties round up: 6.25 is "6.3".
	avg := math.Floor(sum/float64(n)*10+0.5) / 10
	return strconv.FormatFloat(avg, 'f', 1, 64)
}
