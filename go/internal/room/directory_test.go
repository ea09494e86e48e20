package room

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/estimate/go/internal/docstore"
	"github.com/mcdev12/estimate/go/internal/models"
)

func codeSequence(codes ...string) func() string {
	i := 0
	return func() string {
		c := codes[i%len(codes)]
		i++
		return c
	}
}

func TestGenerateCode(t *testing.T) {
	for range 200 {
		code := GenerateCode()
		require.Len(t, code, models.RoomCodeLength)
		for _, r := range code {
			assert.True(t, strings.ContainsRune(models.RoomCodeAlphabet, r), "unexpected symbol %q", r)
		}
	}
}

func TestCreateAndFindRoom(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	dir := NewDirectory(store, DefaultDirectoryConfig())
	dir.newCode = codeSequence("ABC234")

	roomID, err := dir.CreateRoom(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, roomID)

	room, err := dir.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, roomID, room.ID)
	assert.Equal(t, "ABC234", room.Code)
	assert.False(t, room.Revealed)
	assert.Empty(t, room.CurrentTopic)
	assert.False(t, room.CreatedAt.IsZero())

	found, err := dir.FindRoomByCode(ctx, "  abc234 ")
	require.NoError(t, err)
	assert.Equal(t, roomID, found)
}

func TestFindRoomByCodeErrors(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	dir := NewDirectory(store, DefaultDirectoryConfig())

	queried := false
	store.SetFault(func(op docstore.Op, path string) error {
		queried = true
		return nil
	})

	_, err := dir.FindRoomByCode(ctx, "   ")
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "Please enter a room code", UserMessage(err))
	assert.False(t, queried, "validation must not reach the store")

	_, err = dir.FindRoomByCode(ctx, "ZZZZZZ")
	require.ErrorIs(t, err, ErrRoomNotFound)
	assert.Equal(t, "Room not found. Please check the code.", UserMessage(err))

	store.SetFault(func(op docstore.Op, path string) error {
		return errors.New("unavailable")
	})
	_, err = dir.FindRoomByCode(ctx, "ZZZZZZ")
	require.ErrorIs(t, err, ErrStoreRead)
	assert.Equal(t, "Something went wrong. Please try again.", UserMessage(err))
}

func TestCreateRoomRetriesTakenCodes(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	dir := NewDirectory(store, DefaultDirectoryConfig())

	dir.newCode = codeSequence("AAAAAA")
	first, err := dir.CreateRoom(ctx)
	require.NoError(t, err)

	dir.newCode = codeSequence("AAAAAA", "AAAAAA", "BBBBBB")
	second, err := dir.CreateRoom(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	room, err := dir.GetRoom(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", room.Code)
}

func TestCreateRoomGivesUp(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	dir := NewDirectory(store, DirectoryConfig{UniqueCodes: true, MaxCodeAttempts: 3})
	dir.newCode = codeSequence("AAAAAA")

	_, err := dir.CreateRoom(ctx)
	require.NoError(t, err)

	_, err = dir.CreateRoom(ctx)
	require.ErrorIs(t, err, ErrCodeUnavailable)
}

func TestCreateRoomWithoutUniquenessCheck(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	dir := NewDirectory(store, DirectoryConfig{UniqueCodes: false})
	dir.newCode = codeSequence("AAAAAA")

	store.SetFault(func(op docstore.Op, path string) error {
		if op == docstore.OpQuery {
			return errors.New("query not expected")
		}
		return nil
	})

	_, err := dir.CreateRoom(ctx)
	require.NoError(t, err)
	_, err = dir.CreateRoom(ctx)
	require.NoError(t, err)

	store.SetFault(nil)
	snaps, err := store.Query(ctx, RoomsCollection, models.RoomFieldCode, "AAAAAA")
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
}

func TestCreateRoomWriteFailure(t *testing.T) {
	store := docstore.NewMemory()
	dir := NewDirectory(store, DefaultDirectoryConfig())
	store.SetFault(func(op docstore.Op, path string) error {
		if op == docstore.OpCreate {
			return errors.New("permission denied")
		}
		return nil
	})

	_, err := dir.CreateRoom(context.Background())
	require.ErrorIs(t, err, ErrStoreWrite)
}

func TestShareText(t *testing.T) {
	r := &models.Room{ID: "r1", Code: "QWE234"}
	assert.Equal(t,
		"Join my Esti-Mate room!\nCode: QWE234\nLink: https://estimate.example/room/r1",
		ShareText("https://estimate.example/", r))
}
