package room

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/estimate/go/internal/docstore"
	"github.com/mcdev12/estimate/go/internal/models"
)

// RoomsCollection holds every room document.
var RoomsCollection = docstore.Collection("rooms")

// ParticipantsCollection returns the participant collection of a room.
func ParticipantsCollection(roomID string) docstore.CollectionRef {
	return RoomsCollection.Doc(roomID).Collection("participants")
}

// DirectoryConfig controls room code generation.
type DirectoryConfig struct {
	// UniqueCodes makes CreateRoom look for an existing room with the same code
	// before writing. The check and the write are not atomic.
	UniqueCodes bool
	// MaxCodeAttempts bounds the number of codes tried when UniqueCodes is set.
	MaxCodeAttempts int
}

// DefaultDirectoryConfig returns the default code policy.
func DefaultDirectoryConfig() DirectoryConfig {
	return DirectoryConfig{
		UniqueCodes:     true,
		MaxCodeAttempts: 5,
	}
}

// Directory creates rooms and resolves room codes.
type Directory struct {
	store   docstore.Store
	cfg     DirectoryConfig
	newCode func() string
}

// NewDirectory creates a Directory over store.
func NewDirectory(store docstore.Store, cfg DirectoryConfig) *Directory {
	if cfg.MaxCodeAttempts <= 0 {
		cfg.MaxCodeAttempts = 1
	}
	return &Directory{
		store:   store,
		cfg:     cfg,
		newCode: GenerateCode,
	}
}

// GenerateCode returns a random room code.
func GenerateCode() string {
	var b strings.Builder
	b.Grow(models.RoomCodeLength)
	for range models.RoomCodeLength {
		b.WriteByte(models.RoomCodeAlphabet[rand.IntN(len(models.RoomCodeAlphabet))])
	}
	return b.String()
}

// NormalizeCode trims and upper-cases a user typed code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CreateRoom writes a new, unrevealed room without a topic and returns its id.
func (d *Directory) CreateRoom(ctx context.Context) (string, error) {
	code, err := d.pickCode(ctx)
	if err != nil {
		return "", err
	}

	ref, err := d.store.Create(ctx, RoomsCollection, docstore.Fields{
		models.RoomFieldCode:         code,
		models.RoomFieldCreatedAt:    docstore.ServerTimestamp,
		models.RoomFieldRevealed:     false,
		models.RoomFieldCurrentTopic: "",
	})
	if err != nil {
		return "", fmt.Errorf("%w: create room: %w", ErrStoreWrite, err)
	}

	log.Info().
		Str("room_id", ref.ID()).
		Str("code", code).
		Msg("room created")
	return ref.ID(), nil
}

func (d *Directory) pickCode(ctx context.Context) (string, error) {
	if !d.cfg.UniqueCodes {
		return d.newCode(), nil
	}

	for attempt := 1; attempt <= d.cfg.MaxCodeAttempts; attempt++ {
		code := d.newCode()
		existing, err := d.store.Query(ctx, RoomsCollection, models.RoomFieldCode, code)
		if err != nil {
			return "", fmt.Errorf("%w: check room code: %w", ErrStoreRead, err)
		}
		if len(existing) == 0 {
			return code, nil
		}
		log.Debug().
			Str("code", code).
			Int("attempt", attempt).
			Msg("room code already in use")
	}
	return "", fmt.Errorf("%w after %d attempts", ErrCodeUnavailable, d.cfg.MaxCodeAttempts)
}

// FindRoomByCode resolves a code, case-insensitively, to a room id. If several rooms
// share the code the first one in store order wins.
func (d *Directory) FindRoomByCode(ctx context.Context, code string) (string, error) {
	code = NormalizeCode(code)
	if code == "" {
		return "", &ValidationError{Field: "code", Message: "Please enter a room code"}
	}

	snaps, err := d.store.Query(ctx, RoomsCollection, models.RoomFieldCode, code)
	if err != nil {
		return "", fmt.Errorf("%w: find room %s: %w", ErrStoreRead, code, err)
	}
	if len(snaps) == 0 {
		return "", fmt.Errorf("%w: code %s", ErrRoomNotFound, code)
	}
	return snaps[0].Ref.ID(), nil
}

// GetRoom reads a room document.
func (d *Directory) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	snap, err := d.store.Get(ctx, RoomsCollection.Doc(roomID))
	if err != nil {
		return nil, fmt.Errorf("%w: get room %s: %w", ErrStoreRead, roomID, err)
	}
	if !snap.Exists {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	return decodeRoom(snap)
}

func decodeRoom(snap docstore.Snapshot) (*models.Room, error) {
	var r models.Room
	if err := snap.DataTo(&r); err != nil {
		return nil, err
	}
	r.ID = snap.Ref.ID()
	return &r, nil
}

func decodeParticipant(snap docstore.Snapshot) (models.Participant, error) {
	var p models.Participant
	if err := snap.DataTo(&p); err != nil {
		return models.Participant{}, err
	}
	if p.ID == "" {
		p.ID = snap.Ref.ID()
	}
	return p, nil
}
