package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Vote is a card value. The zero value means the participant has not voted.
type Vote string

const (
	// NoVote is stored as JSON null.
	NoVote Vote = ""
	// Unsure is the "?" card. It counts as voted but never towards consensus or the average.
	Unsure Vote = "?"
)

// Deck is the fixed set of cards, in display order.
var Deck = []Vote{"1", "2", "3", "5", "8", "13", "21", Unsure}

// ParseVote validates a client supplied card value.
func ParseVote(s string) (Vote, error) {
	for _, v := range Deck {
		if string(v) == s {
			return v, nil
		}
	}
	return NoVote, fmt.Errorf("invalid vote %q", s)
}

// IsCast reports whether a card has been played.
func (v Vote) IsCast() bool {
	return v != NoVote
}

// IsSubstantive reports whether the vote counts towards consensus.
func (v Vote) IsSubstantive() bool {
	return v.IsCast() && v != Unsure
}

// Numeric returns the card as a number. ok is false for NoVote, "?" and anything
// that does not parse.
func (v Vote) Numeric() (n float64, ok bool) {
	if !v.IsSubstantive() {
		return 0, false
	}
	n, err := strconv.ParseFloat(string(v), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Value returns the representation written into store documents: nil for NoVote.
func (v Vote) Value() any {
	if !v.IsCast() {
		return nil
	}
	return string(v)
}

// MarshalJSON encodes NoVote as null.
func (v Vote) MarshalJSON() ([]byte, error) {
	if !v.IsCast() {
		return []byte("null"), nil
	}
	return json.Marshal(string(v))
}

// UnmarshalJSON decodes null as NoVote.
func (v *Vote) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = NoVote
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode vote: %w", err)
	}
	*v = Vote(s)
	return nil
}
