package gateway

import (
	"github.com/mcdev12/estimate/go/internal/models"
	"github.com/mcdev12/estimate/go/internal/room"
)

// View is what one client is allowed to see of its session.
type View struct {
	RoomID        string            `json:"room_id,omitempty"`
	Code          string            `json:"code,omitempty"`
	Revealed      bool              `json:"revealed"`
	CurrentTopic  string            `json:"current_topic"`
	ParticipantID string            `json:"participant_id,omitempty"`
	Participants  []ParticipantView `json:"participants"`
	Summary       SummaryView       `json:"summary"`
	ShareText     string            `json:"share_text,omitempty"`
	Loading       bool              `json:"loading"`
	Error         string            `json:"error,omitempty"`
}

// ParticipantView is a participant as seen by another client. Vote is null until
// the room is revealed, except for the viewer's own card.
type ParticipantView struct {
	ID       string      `json:"participant_id"`
	Name     string      `json:"name"`
	HasVoted bool        `json:"has_voted"`
	Vote     models.Vote `json:"vote"`
	IsMe     bool        `json:"is_me"`
}

// SummaryView is the derived state a client may see. Average and consensus only
// appear once the room is revealed.
type SummaryView struct {
	AllVoted         bool        `json:"all_voted"`
	VotedCount       int         `json:"voted_count"`
	ParticipantCount int         `json:"participant_count"`
	HasConsensus     bool        `json:"has_consensus"`
	ConsensusValue   models.Vote `json:"consensus_value"`
	Average          string      `json:"average,omitempty"`
}

// BuildView renders st for the client that owns it.
func BuildView(st room.State, shareBaseURL string) View {
	v := View{
		RoomID:        st.RoomID,
		ParticipantID: st.ParticipantID,
		Participants:  make([]ParticipantView, 0, len(st.Participants)),
		Loading:       st.Loading,
		Error:         st.Error,
		Summary: SummaryView{
			AllVoted:         st.Summary.AllVoted,
			VotedCount:       st.Summary.VotedCount,
			ParticipantCount: st.Summary.ParticipantCount,
		},
	}

	if st.Room != nil {
		v.Code = st.Room.Code
		v.Revealed = st.Room.Revealed
		v.CurrentTopic = st.Room.CurrentTopic
		if shareBaseURL != "" {
			v.ShareText = room.ShareText(shareBaseURL, st.Room)
		}
	}
	if v.Revealed {
		v.Summary.HasConsensus = st.Summary.HasConsensus
		v.Summary.ConsensusValue = st.Summary.ConsensusValue
		v.Summary.Average = st.Summary.Average
	}

	for _, p := range st.Participants {
		pv := ParticipantView{
			ID:       p.ID,
			Name:     p.Name,
			HasVoted: p.HasVoted(),
			IsMe:     p.ID == st.ParticipantID && p.ID != "",
		}
		if v.Revealed || pv.IsMe {
			pv.Vote = p.Vote
		}
		v.Participants = append(v.Participants, pv)
	}
	return v
}
