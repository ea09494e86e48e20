package room

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/estimate/go/internal/consensus"
	"github.com/mcdev12/estimate/go/internal/docstore"
	"github.com/mcdev12/estimate/go/internal/identity"
	"github.com/mcdev12/estimate/go/internal/models"
)

// RejoinPolicy decides what joining does to an existing participant document.
type RejoinPolicy string

const (
	// RejoinKeepVote only renames a returning participant; vote and join time stay.
	RejoinKeepVote RejoinPolicy = "keep_vote"
	// RejoinResetVote rewrites the participant with no vote and a fresh join time.
	RejoinResetVote RejoinPolicy = "reset_vote"
)

// ParseRejoinPolicy validates a configured policy name.
func ParseRejoinPolicy(s string) (RejoinPolicy, error) {
	switch p := RejoinPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case RejoinKeepVote, RejoinResetVote:
		return p, nil
	case "":
		return RejoinKeepVote, nil
	default:
		return "", fmt.Errorf("unknown rejoin policy %q", s)
	}
}

// SessionConfig configures a Session.
type SessionConfig struct {
	Rejoin RejoinPolicy
}

// DefaultSessionConfig returns the default session settings.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{Rejoin: RejoinKeepVote}
}

// State is everything a presentation layer renders for one client.
type State struct {
	RoomID        string
	Room          *models.Room
	Participants  []models.Participant
	Summary       consensus.Summary
	ParticipantID string
	Loading       bool
	Error         string
}

// Session is one client's live view of a room. It owns at most one subscription
// pair (room document and participant collection) at a time and is the only writer
// of its local state.
type Session struct {
	store     docstore.Store
	directory *Directory
	identity  *identity.Manager
	cfg       SessionConfig

	// joinMu serializes joins and subscription swaps.
	joinMu sync.Mutex

	mu            sync.RWMutex
	roomID        string
	participantID string
	room          *models.Room
	participants  []models.Participant
	loading       bool
	errMsg        string
	sub           *subscription
	closed        bool

	pubMu   sync.Mutex
	updates *docstore.Watch[State]
}

type subscription struct {
	roomID    string
	roomWatch *docstore.Watch[docstore.Snapshot]
	partWatch *docstore.Watch[[]docstore.Snapshot]
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewSession creates an unsubscribed session. A participant id this browser
// session already holds is picked up right away.
func NewSession(ctx context.Context, store docstore.Store, directory *Directory, ident *identity.Manager, cfg SessionConfig) *Session {
	if cfg.Rejoin == "" {
		cfg.Rejoin = RejoinKeepVote
	}
	s := &Session{
		store:     store,
		directory: directory,
		identity:  ident,
		cfg:       cfg,
		updates:   docstore.NewWatch[State](nil),
	}
	if pid, ok := ident.Lookup(ctx); ok {
		s.participantID = pid
	}
	return s
}

// Updates yields the newest state after every change. It is closed by Close.
func (s *Session) Updates() <-chan State {
	return s.updates.Changes()
}

// State returns the current snapshot together with its derived summary.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	participants := make([]models.Participant, len(s.participants))
	copy(participants, s.participants)
	var room *models.Room
	if s.room != nil {
		r := *s.room
		room = &r
	}
	return State{
		RoomID:        s.roomID,
		Room:          room,
		Participants:  participants,
		Summary:       consensus.Summarize(room, participants),
		ParticipantID: s.participantID,
		Loading:       s.loading,
		Error:         s.errMsg,
	}
}

// Room returns the latest room snapshot, or nil.
func (s *Session) Room() *models.Room {
	return s.State().Room
}

// Participants returns the latest participant list ordered by join time.
func (s *Session) Participants() []models.Participant {
	return s.State().Participants
}

// Loading reports whether a create or join is in flight.
func (s *Session) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Err returns the message of the last failed action, or "".
func (s *Session) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errMsg
}

// ParticipantID returns this client's participant identifier, or "" before the
// browser session has one.
func (s *Session) ParticipantID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.participantID
}

// CurrentParticipant returns this client's entry in the participant list.
func (s *Session) CurrentParticipant() *models.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.participantID == "" {
		return nil
	}
	for _, p := range s.participants {
		if p.ID == s.participantID {
			return &p
		}
	}
	return nil
}

// StoredName returns the display name this browser used last.
func (s *Session) StoredName(ctx context.Context) string {
	return s.identity.StoredName(ctx)
}

// CreateRoom creates a room through the directory, tracking loading and error state.
func (s *Session) CreateRoom(ctx context.Context) (string, error) {
	s.beginAction(true)
	roomID, err := s.directory.CreateRoom(ctx)
	s.endAction(err)
	return roomID, err
}

// FindRoomByCode resolves a code through the directory, tracking error state.
func (s *Session) FindRoomByCode(ctx context.Context, code string) (string, error) {
	s.beginAction(false)
	roomID, err := s.directory.FindRoomByCode(ctx, code)
	s.endAction(err)
	return roomID, err
}

// JoinRoom registers this client as a participant of roomID under name and
// subscribes to the room.
func (s *Session) JoinRoom(ctx context.Context, roomID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		err := &ValidationError{Field: "name", Message: "Please enter your name"}
		s.endAction(err)
		return err
	}
	if strings.TrimSpace(roomID) == "" {
		err := &ValidationError{Field: "room_id", Message: "Please enter a room code"}
		s.endAction(err)
		return err
	}

	s.joinMu.Lock()
	defer s.joinMu.Unlock()

	s.beginAction(true)
	err := s.join(ctx, roomID, name)
	s.endAction(err)
	return err
}

func (s *Session) join(ctx context.Context, roomID, name string) error {
	if _, err := s.directory.GetRoom(ctx, roomID); err != nil {
		return err
	}

	pid, err := s.identity.ParticipantID(ctx)
	if err != nil {
		return fmt.Errorf("join room %s: %w", roomID, err)
	}
	if err := s.identity.RememberName(ctx, name); err != nil {
		log.Warn().Err(err).Str("participant_id", pid).Msg("failed to remember name")
	}

	if err := s.upsertParticipant(ctx, roomID, pid, name); err != nil {
		return err
	}

	s.mu.Lock()
	s.participantID = pid
	s.mu.Unlock()

	if err := s.subscribe(ctx, roomID); err != nil {
		return err
	}

	log.Info().
		Str("room_id", roomID).
		Str("participant_id", pid).
		Str("rejoin_policy", string(s.cfg.Rejoin)).
		Msg("joined room")
	return nil
}

func (s *Session) upsertParticipant(ctx context.Context, roomID, pid, name string) error {
	ref := ParticipantsCollection(roomID).Doc(pid)

	if s.cfg.Rejoin == RejoinKeepVote {
		snap, err := s.store.Get(ctx, ref)
		if err != nil {
			return fmt.Errorf("%w: read participant %s: %w", ErrStoreRead, ref, err)
		}
		if snap.Exists {
			if err := s.store.Update(ctx, ref, docstore.Fields{models.ParticipantFieldName: name}); err != nil {
				return fmt.Errorf("%w: rename participant %s: %w", ErrStoreWrite, ref, err)
			}
			return nil
		}
	}

	err := s.store.Set(ctx, ref, docstore.Fields{
		models.ParticipantFieldID:       pid,
		models.ParticipantFieldName:     name,
		models.ParticipantFieldVote:     models.NoVote.Value(),
		models.ParticipantFieldJoinedAt: docstore.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("%w: write participant %s: %w", ErrStoreWrite, ref, err)
	}
	return nil
}

// SubscribeToRoom replaces the current subscription with one on roomID. It returns
// once the initial room and participant snapshots have been applied. Concurrent
// calls run one after the other; the last one wins.
func (s *Session) SubscribeToRoom(ctx context.Context, roomID string) error {
	s.joinMu.Lock()
	defer s.joinMu.Unlock()
	return s.subscribe(ctx, roomID)
}

func (s *Session) subscribe(ctx context.Context, roomID string) error {
	s.UnsubscribeFromRoom()

	roomWatch, err := s.store.WatchDocument(ctx, RoomsCollection.Doc(roomID))
	if err != nil {
		return fmt.Errorf("%w: watch room %s: %w", ErrStoreRead, roomID, err)
	}
	partWatch, err := s.store.WatchCollection(ctx, ParticipantsCollection(roomID))
	if err != nil {
		roomWatch.Stop()
		return fmt.Errorf("%w: watch participants of %s: %w", ErrStoreRead, roomID, err)
	}

	sub := &subscription{
		roomID:    roomID,
		roomWatch: roomWatch,
		partWatch: partWatch,
		stop:      make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.close()
		return docstore.ErrClosed
	}
	old := s.sub
	s.sub = sub
	s.roomID = roomID
	s.room = nil
	s.participants = nil
	s.mu.Unlock()
	if old != nil {
		old.close()
	}

	if err := s.awaitInitial(ctx, sub); err != nil {
		s.drop(sub)
		return fmt.Errorf("%w: initial snapshot of %s: %w", ErrStoreRead, roomID, err)
	}

	go s.run(sub)
	return nil
}

func (s *Session) awaitInitial(ctx context.Context, sub *subscription) error {
	gotRoom, gotParts := false, false
	for !gotRoom || !gotParts {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-sub.roomWatch.Changes():
			if !ok {
				return docstore.ErrClosed
			}
			s.applyRoom(sub, snap)
			gotRoom = true
		case snaps, ok := <-sub.partWatch.Changes():
			if !ok {
				return docstore.ErrClosed
			}
			s.applyParticipants(sub, snaps)
			gotParts = true
		}
	}
	return nil
}

func (s *Session) run(sub *subscription) {
	roomCh := sub.roomWatch.Changes()
	partCh := sub.partWatch.Changes()
	for roomCh != nil || partCh != nil {
		select {
		case <-sub.stop:
			return
		case snap, ok := <-roomCh:
			if !ok {
				roomCh = nil
				continue
			}
			s.applyRoom(sub, snap)
		case snaps, ok := <-partCh:
			if !ok {
				partCh = nil
				continue
			}
			s.applyParticipants(sub, snaps)
		}
	}
	log.Debug().Str("room_id", sub.roomID).Msg("room watches closed by store")
}

func (s *Session) applyRoom(sub *subscription, snap docstore.Snapshot) {
	var room *models.Room
	if snap.Exists {
		r, err := decodeRoom(snap)
		if err != nil {
			log.Error().Err(err).Str("room_id", sub.roomID).Msg("failed to decode room snapshot")
			return
		}
		room = r
	}

	s.mu.Lock()
	if s.sub != sub {
		s.mu.Unlock()
		return
	}
	s.room = room
	s.mu.Unlock()
	s.publish()
}

func (s *Session) applyParticipants(sub *subscription, snaps []docstore.Snapshot) {
	participants := make([]models.Participant, 0, len(snaps))
	for _, snap := range snaps {
		p, err := decodeParticipant(snap)
		if err != nil {
			log.Error().Err(err).Str("room_id", sub.roomID).Msg("skipping undecodable participant")
			continue
		}
		participants = append(participants, p)
	}
	sort.SliceStable(participants, func(i, j int) bool {
		return participants[i].JoinedAt.Before(participants[j].JoinedAt)
	})

	s.mu.Lock()
	if s.sub != sub {
		s.mu.Unlock()
		return
	}
	s.participants = participants
	s.mu.Unlock()
	s.publish()
}

// UnsubscribeFromRoom stops the active subscription pair and clears the snapshot.
// Calling it without a subscription is a no-op apart from publishing the empty state.
func (s *Session) UnsubscribeFromRoom() {
	s.drop(nil)
}

// drop clears the active subscription. When only is set, only is stopped and the
// session is cleared only if only is still the active subscription.
func (s *Session) drop(only *subscription) {
	s.mu.Lock()
	sub := s.sub
	if only != nil && sub != only {
		s.mu.Unlock()
		only.close()
		return
	}
	s.sub = nil
	s.roomID = ""
	s.room = nil
	s.participants = nil
	s.mu.Unlock()

	if sub != nil {
		sub.close()
		log.Debug().Str("room_id", sub.roomID).Msg("unsubscribed from room")
	}
	s.publish()
}

func (sub *subscription) close() {
	sub.stopOnce.Do(func() {
		close(sub.stop)
		sub.roomWatch.Stop()
		sub.partWatch.Stop()
	})
}

// Close unsubscribes and closes the Updates channel. A subscription still being
// set up when Close runs is stopped instead of installed.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.UnsubscribeFromRoom()
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.updates.Stop()
}

func (s *Session) publish() {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.updates.Push(s.State())
}

func (s *Session) beginAction(loading bool) {
	s.mu.Lock()
	if loading {
		s.loading = true
	}
	s.errMsg = ""
	s.mu.Unlock()
	s.publish()
}

// endAction clears the loading flag and records err for display.
func (s *Session) endAction(err error) {
	s.mu.Lock()
	s.loading = false
	s.errMsg = UserMessage(err)
	s.mu.Unlock()
	s.publish()
}

// active returns the room and participant an action applies to.
func (s *Session) active() (roomID, pid string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sub == nil || s.room == nil {
		return "", "", false
	}
	return s.room.ID, s.participantID, true
}
