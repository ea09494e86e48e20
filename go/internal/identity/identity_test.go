package identity

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var idPattern = regexp.MustCompile(`^p_[0-9a-z]{13}$`)

func TestNewParticipantID(t *testing.T) {
	seen := make(map[string]bool)
	for range 500 {
		id, err := NewParticipantID()
		require.NoError(t, err)
		assert.Regexp(t, idPattern, id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestParticipantIDIsStablePerSession(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	first, err := NewManager(backend.Storage("tab-1", "browser-1")).ParticipantID(ctx)
	require.NoError(t, err)

	// A new manager over the same session reads the stored id.
	again, err := NewManager(backend.Storage("tab-1", "browser-1")).ParticipantID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	// Another tab of the same browser is another participant.
	other, err := NewManager(backend.Storage("tab-2", "browser-1")).ParticipantID(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	backend.EndSession("tab-1")
	fresh, err := NewManager(backend.Storage("tab-1", "browser-1")).ParticipantID(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, fresh)
}

func TestLookupDoesNotCreate(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStorage())

	_, ok := m.Lookup(ctx)
	assert.False(t, ok)

	id, err := m.ParticipantID(ctx)
	require.NoError(t, err)
	got, ok := m.Lookup(ctx)
	assert.True(t, ok)
	assert.Equal(t, id, got)
}

func TestStoredNameSurvivesSessions(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	m := NewManager(backend.Storage("tab-1", "browser-1"))
	assert.Equal(t, "", m.StoredName(ctx))
	require.NoError(t, m.RememberName(ctx, "Ada"))

	backend.EndSession("tab-1")
	assert.Equal(t, "Ada", NewManager(backend.Storage("tab-9", "browser-1")).StoredName(ctx))
	assert.Equal(t, "", NewManager(backend.Storage("tab-9", "browser-2")).StoredName(ctx))
}

func TestScopeString(t *testing.T) {
	assert.Equal(t, "session", ScopeSession.String())
	assert.Equal(t, "persistent", ScopePersistent.String())
}
