package natsfeed

import (
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/estimate/go/internal/docstore"
)

func TestSubject(t *testing.T) {
	tests := []struct {
		collection string
		want       string
	}{
		{"rooms", "docstore.changes.rooms"},
		{"rooms/r1/participants", "docstore.changes.rooms.r1.participants"},
		{"rooms/a.b/participants", "docstore.changes.rooms.a_b.participants"},
		{"rooms/*/participants", "docstore.changes.rooms._.participants"},
		{"rooms//participants", "docstore.changes.rooms._.participants"},
	}

	for _, tt := range tests {
		t.Run(tt.collection, func(t *testing.T) {
			assert.Equal(t, tt.want, Subject("docstore.changes", tt.collection))
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "DOCSTORE_CHANGES", cfg.StreamName)
	assert.Equal(t, "docstore.changes", cfg.SubjectPrefix)
	assert.Equal(t, -1, cfg.MaxReconnects)
}

func runJetStream(t *testing.T) string {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	srv := natsserver.RunServer(&opts)
	t.Cleanup(srv.Shutdown)
	return srv.ClientURL()
}

func newTestFeed(t *testing.T) *Feed {
	t.Helper()
	cfg := DefaultConfig()
	cfg.URL = runJetStream(t)
	cfg.MaxReconnects = 0
	f, err := New(t.Context(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

// collect buffers delivered changes without blocking the consumer.
type collect struct {
	mu  sync.Mutex
	got []docstore.Change
}

func (c *collect) add(ch docstore.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, ch)
}

func (c *collect) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.got))
	for _, ch := range c.got {
		out = append(out, ch.ID)
	}
	return out
}

func TestFeedRoundTrip(t *testing.T) {
	ctx := t.Context()
	f := newTestFeed(t)

	var rooms, parts collect
	cancelRooms, err := f.Subscribe(ctx, "rooms", rooms.add)
	require.NoError(t, err)
	cancelParts, err := f.Subscribe(ctx, "rooms/r1/participants", parts.add)
	require.NoError(t, err)
	defer cancelParts()

	require.NoError(t, f.Publish(ctx, docstore.Change{Collection: "rooms", ID: "r1"}))
	require.NoError(t, f.Publish(ctx, docstore.Change{Collection: "rooms/r1/participants", ID: "p_1"}))
	require.NoError(t, f.Publish(ctx, docstore.Change{Collection: "rooms/r2/participants", ID: "p_2"}))

	require.Eventually(t, func() bool { return len(rooms.ids()) == 1 && len(parts.ids()) == 1 },
		5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"r1"}, rooms.ids())
	assert.Equal(t, []string{"p_1"}, parts.ids())

	cancelRooms()
	require.NoError(t, f.Publish(ctx, docstore.Change{Collection: "rooms", ID: "r3"}))
	require.NoError(t, f.Publish(ctx, docstore.Change{Collection: "rooms/r1/participants", ID: "p_3"}))
	require.Eventually(t, func() bool { return len(parts.ids()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"r1"}, rooms.ids(), "cancelled subscription gets nothing")
}

func TestFeedStartsAtNewChanges(t *testing.T) {
	ctx := t.Context()
	f := newTestFeed(t)

	require.NoError(t, f.Publish(ctx, docstore.Change{Collection: "rooms", ID: "old"}))

	var rooms collect
	cancel, err := f.Subscribe(ctx, "rooms", rooms.add)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, f.Publish(ctx, docstore.Change{Collection: "rooms", ID: "new"}))
	require.Eventually(t, func() bool { return len(rooms.ids()) > 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"new"}, rooms.ids())
}

func TestNewFailsWithoutServer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.MaxReconnects = 0
	_, err := New(t.Context(), cfg)
	require.Error(t, err)
}
