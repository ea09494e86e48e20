package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mcdev12/estimate/go/internal/docstore"
	"github.com/mcdev12/estimate/go/internal/models"
)

// Vote records value as this client's vote. Without an active room and a joined
// participant it does nothing. Values are not checked against the deck.
func (s *Session) Vote(ctx context.Context, value models.Vote) error {
	roomID, pid, ok := s.active()
	if !ok || pid == "" {
		return nil
	}

	ref := ParticipantsCollection(roomID).Doc(pid)
	err := s.store.Update(ctx, ref, docstore.Fields{models.ParticipantFieldVote: value.Value()})
	if err != nil {
		err = fmt.Errorf("%w: vote in %s: %w", ErrStoreWrite, roomID, err)
	}
	return s.finish(err)
}

// RevealVotes turns the room's cards face up.
func (s *Session) RevealVotes(ctx context.Context) error {
	return s.updateRoom(ctx, "reveal votes", docstore.Fields{models.RoomFieldRevealed: true})
}

// UpdateTopic replaces the room's current topic. Any text is accepted.
func (s *Session) UpdateTopic(ctx context.Context, topic string) error {
	return s.updateRoom(ctx, "update topic", docstore.Fields{models.RoomFieldCurrentTopic: topic})
}

// ResetVotes hides the cards and clears every current participant's vote. The
// writes run concurrently and are not atomic with each other; subscribers may see
// them land in any order. One failed write does not stop the others: each failure
// is logged and the first one is returned.
func (s *Session) ResetVotes(ctx context.Context) error {
	roomID, _, ok := s.active()
	if !ok {
		return nil
	}
	participants := s.Participants()

	var g errgroup.Group
	g.Go(func() error {
		err := s.store.Update(ctx, RoomsCollection.Doc(roomID), docstore.Fields{models.RoomFieldRevealed: false})
		if err != nil {
			err = fmt.Errorf("%w: hide votes in %s: %w", ErrStoreWrite, roomID, err)
			log.Error().Err(err).Str("room_id", roomID).Msg("reset write failed")
		}
		return err
	})
	for _, p := range participants {
		g.Go(func() error {
			ref := ParticipantsCollection(roomID).Doc(p.ID)
			err := s.store.Update(ctx, ref, docstore.Fields{models.ParticipantFieldVote: models.NoVote.Value()})
			if errors.Is(err, docstore.ErrNotFound) {
				// Left between the snapshot and the write.
				return nil
			}
			if err != nil {
				err = fmt.Errorf("%w: clear vote of %s: %w", ErrStoreWrite, p.ID, err)
				log.Error().Err(err).Str("room_id", roomID).Str("participant_id", p.ID).Msg("reset write failed")
			}
			return err
		})
	}

	err := g.Wait()
	if err == nil {
		log.Info().
			Str("room_id", roomID).
			Int("participants", len(participants)).
			Msg("votes reset")
	}
	return s.finish(err)
}

// LeaveRoom deletes this client's participant document and drops the subscription.
// The subscription is dropped even when the delete fails.
func (s *Session) LeaveRoom(ctx context.Context) error {
	roomID, pid, ok := s.active()
	if !ok {
		s.UnsubscribeFromRoom()
		return nil
	}

	var err error
	if pid != "" {
		if derr := s.store.Delete(ctx, ParticipantsCollection(roomID).Doc(pid)); derr != nil {
			err = fmt.Errorf("%w: leave %s: %w", ErrStoreWrite, roomID, derr)
		}
	}
	s.UnsubscribeFromRoom()

	if err == nil {
		log.Info().Str("room_id", roomID).Str("participant_id", pid).Msg("left room")
	}
	return s.finish(err)
}

func (s *Session) updateRoom(ctx context.Context, action string, fields docstore.Fields) error {
	roomID, _, ok := s.active()
	if !ok {
		return nil
	}
	err := s.store.Update(ctx, RoomsCollection.Doc(roomID), fields)
	if err != nil {
		err = fmt.Errorf("%w: %s in %s: %w", ErrStoreWrite, action, roomID, err)
	}
	return s.finish(err)
}

// finish records the outcome of a write action and passes err through.
func (s *Session) finish(err error) error {
	if err != nil {
		log.Error().Err(err).Msg("room action failed")
	}
	s.mu.Lock()
	s.errMsg = UserMessage(err)
	s.mu.Unlock()
	s.publish()
	return err
}
