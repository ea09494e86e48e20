package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/estimate/go/internal/docstore"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

// localFeed delivers changes to subscribers of the same process.
type localFeed struct {
	mu     sync.Mutex
	next   uint64
	subs   map[string]map[uint64]func(docstore.Change)
	sent   []docstore.Change
	failed error
}

func newLocalFeed() *localFeed {
	return &localFeed{subs: make(map[string]map[uint64]func(docstore.Change))}
}

func (f *localFeed) Publish(_ context.Context, c docstore.Change) error {
	f.mu.Lock()
	if f.failed != nil {
		f.mu.Unlock()
		return f.failed
	}
	f.sent = append(f.sent, c)
	handlers := make([]func(docstore.Change), 0, len(f.subs[c.Collection]))
	for _, fn := range f.subs[c.Collection] {
		handlers = append(handlers, fn)
	}
	f.mu.Unlock()

	for _, fn := range handlers {
		fn(c)
	}
	return nil
}

func (f *localFeed) Subscribe(_ context.Context, collection string, fn func(docstore.Change)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	if f.subs[collection] == nil {
		f.subs[collection] = make(map[uint64]func(docstore.Change))
	}
	f.subs[collection][id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs[collection], id)
	}, nil
}

func (f *localFeed) Close() error { return nil }

func (f *localFeed) published() []docstore.Change {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]docstore.Change(nil), f.sent...)
}

// openTestDB connects to DATABASE_URL and applies the schema. Tests using it are
// skipped when no database is configured.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, _ := openTestDBURL(t)
	return db
}

func openTestDBURL(t *testing.T) (*sql.DB, string) {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, db.PingContext(ctx))
	_, err = db.ExecContext(ctx, Schema)
	require.NoError(t, err)
	return db, url
}

// testCollection returns a collection no other test run shares, removed afterwards.
func testCollection(t *testing.T, db *sql.DB) docstore.CollectionRef {
	t.Helper()
	coll := docstore.Collection("test_" + uuid.NewString()[:8])
	t.Cleanup(func() {
		_, _ = db.Exec(`DELETE FROM documents WHERE collection LIKE $1`, coll.Path()+"%")
	})
	return coll
}

func newTestStore(t *testing.T, db *sql.DB) (*Store, *localFeed, *clockwork.FakeClock) {
	t.Helper()
	feed := newLocalFeed()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	s := New(db, feed, clock, DefaultConfig())
	t.Cleanup(func() { _ = s.Close() })
	return s, feed, clock
}

type roomDoc struct {
	Code      string    `json:"code"`
	Revealed  bool      `json:"revealed"`
	Topic     string    `json:"currentTopic"`
	CreatedAt time.Time `json:"createdAt"`
}

func TestStoreCRUD(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s, feed, clock := newTestStore(t, db)
	rooms := testCollection(t, db)

	ref, err := s.Create(ctx, rooms, docstore.Fields{
		"code":      "ABC234",
		"revealed":  false,
		"createdAt": docstore.ServerTimestamp,
	})
	require.NoError(t, err)
	require.NotEmpty(t, ref.ID())

	snap, err := s.Get(ctx, ref)
	require.NoError(t, err)
	require.True(t, snap.Exists)
	var r roomDoc
	require.NoError(t, snap.DataTo(&r))
	assert.Equal(t, "ABC234", r.Code)
	assert.True(t, r.CreatedAt.Equal(clock.Now()))

	require.NoError(t, s.Update(ctx, ref, docstore.Fields{"currentTopic": "login page"}))
	snap, err = s.Get(ctx, ref)
	require.NoError(t, err)
	require.NoError(t, snap.DataTo(&r))
	assert.Equal(t, "login page", r.Topic)
	assert.Equal(t, "ABC234", r.Code, "update merges")

	err = s.Update(ctx, rooms.Doc("missing"), docstore.Fields{"revealed": true})
	require.ErrorIs(t, err, docstore.ErrNotFound)

	require.NoError(t, s.Set(ctx, ref, docstore.Fields{"code": "XYZ789"}))
	snap, err = s.Get(ctx, ref)
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":"XYZ789"}`, string(snap.Data), "set replaces")

	found, err := s.Query(ctx, rooms, "code", "XYZ789")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, ref.ID(), found[0].Ref.ID())

	found, err = s.Query(ctx, rooms, "code", "ABC234")
	require.NoError(t, err)
	assert.Empty(t, found)

	require.NoError(t, s.Delete(ctx, ref))
	snap, err = s.Get(ctx, ref)
	require.NoError(t, err)
	assert.False(t, snap.Exists)

	before := len(feed.published())
	require.NoError(t, s.Delete(ctx, ref), "deleting a missing document is fine")
	assert.Len(t, feed.published(), before, "nothing removed, nothing published")

	want := docstore.Change{Collection: rooms.Path(), ID: ref.ID()}
	for _, c := range feed.published() {
		assert.Equal(t, want, c)
	}
}

func TestStoreWriteSurvivesFeedFailure(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s, feed, _ := newTestStore(t, db)
	rooms := testCollection(t, db)

	feed.failed = errors.New("feed down")
	ref, err := s.Create(ctx, rooms, docstore.Fields{"code": "QQQ222"})
	require.NoError(t, err)

	snap, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.True(t, snap.Exists)
}

func TestStoreWatchDocumentRefetches(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s, _, _ := newTestStore(t, db)
	rooms := testCollection(t, db)

	ref, err := s.Create(ctx, rooms, docstore.Fields{"revealed": false})
	require.NoError(t, err)
	other, err := s.Create(ctx, rooms, docstore.Fields{"revealed": false})
	require.NoError(t, err)

	w, err := s.WatchDocument(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 1, s.WatchCount())

	snap := <-w.Changes()
	require.True(t, snap.Exists)

	require.NoError(t, s.Update(ctx, other, docstore.Fields{"revealed": true}))
	require.NoError(t, s.Update(ctx, ref, docstore.Fields{"revealed": true}))
	require.Eventually(t, func() bool {
		select {
		case snap := <-w.Changes():
			var r roomDoc
			return snap.DataTo(&r) == nil && r.Revealed
		default:
			return false
		}
	}, waitFor, tick, "watch sees the reveal")

	require.NoError(t, s.Delete(ctx, ref))
	require.Eventually(t, func() bool {
		select {
		case snap := <-w.Changes():
			return !snap.Exists
		default:
			return false
		}
	}, waitFor, tick, "watch sees the delete")

	w.Stop()
	assert.Equal(t, 0, s.WatchCount())
}

func TestStoreWatchCollectionOrder(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s, _, _ := newTestStore(t, db)
	parts := testCollection(t, db).Doc("r1").Collection("participants")

	w, err := s.WatchCollection(ctx, parts)
	require.NoError(t, err)
	defer w.Stop()
	assert.Empty(t, <-w.Changes())

	for _, id := range []string{"p_b", "p_a"} {
		require.NoError(t, s.Set(ctx, parts.Doc(id), docstore.Fields{"id": id}))
	}

	var last []docstore.Snapshot
	require.Eventually(t, func() bool {
		select {
		case snaps := <-w.Changes():
			last = snaps
		default:
		}
		return len(last) == 2
	}, waitFor, tick, "watch sees both participants")
	assert.Equal(t, "p_b", last[0].Ref.ID(), "insertion order")
	assert.Equal(t, "p_a", last[1].Ref.ID())
}

func TestStoreCloseStopsWatches(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s, _, _ := newTestStore(t, db)
	rooms := testCollection(t, db)

	w, err := s.WatchCollection(ctx, rooms)
	require.NoError(t, err)
	<-w.Changes()

	require.NoError(t, s.Close())
	_, ok := <-w.Changes()
	assert.False(t, ok)
	assert.Equal(t, 0, s.WatchCount())

	_, err = s.Get(ctx, rooms.Doc("x"))
	require.ErrorIs(t, err, docstore.ErrClosed)
}

func TestPQFeedRoundTrip(t *testing.T) {
	db, url := openTestDBURL(t)
	cfg := DefaultFeedConfig()
	cfg.DatabaseURL = url
	cfg.NotifyChannel = "docstore_test_" + uuid.NewString()[:8]
	feed, err := NewPQFeed(db, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = feed.Close() })

	got := make(chan docstore.Change, 1)
	cancel, err := feed.Subscribe(t.Context(), "rooms", func(c docstore.Change) {
		select {
		case got <- c:
		default:
		}
	})
	require.NoError(t, err)
	defer cancel()

	// Listen is asynchronous; publish until the first notification arrives.
	require.Eventually(t, func() bool {
		if err := feed.Publish(t.Context(), docstore.Change{Collection: "rooms", ID: "r1"}); err != nil {
			return false
		}
		select {
		case c := <-got:
			return c.ID == "r1"
		case <-time.After(tick):
			return false
		}
	}, waitFor, tick*5)
}
