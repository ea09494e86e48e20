// Package pgstore implements docstore.Store on a single Postgres table of jsonb
// documents. Watches are driven by a docstore.Feed: every write publishes a change
// and watchers refetch the affected snapshot.
package pgstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/estimate/go/internal/docstore"
)

// Schema creates the documents table.
//
//go:embed schema.sql
var Schema string

const (
	selectDocument = `SELECT data FROM documents WHERE collection = $1 AND id = $2`
	selectAll      = `SELECT id, data FROM documents WHERE collection = $1 ORDER BY created_at, id`
	selectMatching = `SELECT id, data FROM documents WHERE collection = $1 AND data @> $2::jsonb ORDER BY created_at, id`
	insertDocument = `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)`
	upsertDocument = `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`
	mergeDocument  = `UPDATE documents SET data = data || $3::jsonb, updated_at = now() WHERE collection = $1 AND id = $2`
	deleteDocument = `DELETE FROM documents WHERE collection = $1 AND id = $2`
)

// Config tunes a Store.
type Config struct {
	// RefetchTimeout bounds the read a watch makes after a change notification.
	RefetchTimeout time.Duration
}

// DefaultConfig returns the default store settings.
func DefaultConfig() Config {
	return Config{RefetchTimeout: 5 * time.Second}
}

// Store is a Postgres backed docstore.Store.
type Store struct {
	db    *sql.DB
	feed  docstore.Feed
	clock clockwork.Clock
	cfg   Config

	mu      sync.Mutex
	closed  bool
	watches map[*watcher]struct{}
}

var _ docstore.Store = (*Store)(nil)

// New creates a Store. The caller keeps ownership of db and feed.
func New(db *sql.DB, feed docstore.Feed, clock clockwork.Clock, cfg Config) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.RefetchTimeout <= 0 {
		cfg.RefetchTimeout = DefaultConfig().RefetchTimeout
	}
	return &Store{
		db:      db,
		feed:    feed,
		clock:   clock,
		cfg:     cfg,
		watches: make(map[*watcher]struct{}),
	}
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) publish(ctx context.Context, ref docstore.DocRef) {
	c := docstore.Change{Collection: ref.Parent().Path(), ID: ref.ID()}
	if err := s.feed.Publish(ctx, c); err != nil {
		// The write stands; remote watchers see it with their next change.
		log.Error().Err(err).Str("path", ref.Path()).Msg("failed to publish document change")
	}
}

func (s *Store) Create(ctx context.Context, coll docstore.CollectionRef, fields docstore.Fields) (docstore.DocRef, error) {
	if s.isClosed() {
		return docstore.DocRef{}, docstore.ErrClosed
	}
	data, err := docstore.Encode(fields, s.clock.Now())
	if err != nil {
		return docstore.DocRef{}, err
	}

	ref := coll.Doc(uuid.NewString())
	_, err = s.db.ExecContext(ctx, insertDocument, coll.Path(), ref.ID(), jsonb(data))
	if err != nil {
		return docstore.DocRef{}, fmt.Errorf("create in %s: %w", coll, err)
	}
	s.publish(ctx, ref)
	return ref, nil
}

func (s *Store) Get(ctx context.Context, ref docstore.DocRef) (docstore.Snapshot, error) {
	if s.isClosed() {
		return docstore.Snapshot{}, docstore.ErrClosed
	}
	var data pqtype.NullRawMessage
	err := s.db.QueryRowContext(ctx, selectDocument, ref.Parent().Path(), ref.ID()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Snapshot{Ref: ref}, nil
	}
	if err != nil {
		return docstore.Snapshot{}, fmt.Errorf("get %s: %w", ref, err)
	}
	return docstore.Snapshot{Ref: ref, Exists: true, Data: data.RawMessage}, nil
}

func (s *Store) Set(ctx context.Context, ref docstore.DocRef, fields docstore.Fields) error {
	if s.isClosed() {
		return docstore.ErrClosed
	}
	data, err := docstore.Encode(fields, s.clock.Now())
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertDocument, ref.Parent().Path(), ref.ID(), jsonb(data)); err != nil {
		return fmt.Errorf("set %s: %w", ref, err)
	}
	s.publish(ctx, ref)
	return nil
}

func (s *Store) Update(ctx context.Context, ref docstore.DocRef, fields docstore.Fields) error {
	if s.isClosed() {
		return docstore.ErrClosed
	}
	patch, err := docstore.Encode(fields, s.clock.Now())
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, mergeDocument, ref.Parent().Path(), ref.ID(), jsonb(patch))
	if err != nil {
		return fmt.Errorf("update %s: %w", ref, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", ref, err)
	}
	if n == 0 {
		return fmt.Errorf("update %s: %w", ref, docstore.ErrNotFound)
	}
	s.publish(ctx, ref)
	return nil
}

func (s *Store) Delete(ctx context.Context, ref docstore.DocRef) error {
	if s.isClosed() {
		return docstore.ErrClosed
	}
	res, err := s.db.ExecContext(ctx, deleteDocument, ref.Parent().Path(), ref.ID())
	if err != nil {
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	if removed(res, ref) {
		s.publish(ctx, ref)
	}
	return nil
}

// removed reports whether a delete may have removed a row. An unknown count
// counts as a change so watchers refetch.
func removed(res sql.Result, ref docstore.DocRef) bool {
	n, err := res.RowsAffected()
	if err != nil {
		log.Warn().Err(err).Str("path", ref.Path()).Msg("rows affected unavailable after delete")
		return true
	}
	return n > 0
}

func (s *Store) Query(ctx context.Context, coll docstore.CollectionRef, field string, value any) ([]docstore.Snapshot, error) {
	if s.isClosed() {
		return nil, docstore.ErrClosed
	}
	filter, err := containment(field, value)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", coll, err)
	}
	rows, err := s.db.QueryContext(ctx, selectMatching, coll.Path(), jsonb(filter))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", coll, err)
	}
	return scanSnapshots(coll, rows)
}

func (s *Store) list(ctx context.Context, coll docstore.CollectionRef) ([]docstore.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, selectAll, coll.Path())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", coll, err)
	}
	return scanSnapshots(coll, rows)
}

func scanSnapshots(coll docstore.CollectionRef, rows *sql.Rows) ([]docstore.Snapshot, error) {
	defer rows.Close()

	var out []docstore.Snapshot
	for rows.Next() {
		var (
			id   string
			data pqtype.NullRawMessage
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", coll, err)
		}
		out = append(out, docstore.Snapshot{Ref: coll.Doc(id), Exists: true, Data: data.RawMessage})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", coll, err)
	}
	return out, nil
}

func (s *Store) WatchDocument(ctx context.Context, ref docstore.DocRef) (*docstore.Watch[docstore.Snapshot], error) {
	var w *docstore.Watch[docstore.Snapshot]
	wr, err := s.startWatcher(ctx, ref.Parent().Path(), ref.ID(), func(ctx context.Context) error {
		snap, err := s.Get(ctx, ref)
		if err != nil {
			return err
		}
		w.Push(snap)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Subscribed before the initial read so no write falls in between.
	snap, err := s.Get(ctx, ref)
	if err != nil {
		wr.stop()
		return nil, err
	}
	w = docstore.NewWatch[docstore.Snapshot](wr.stop)
	w.Push(snap)
	wr.run(w.Stop)
	return w, nil
}

func (s *Store) WatchCollection(ctx context.Context, coll docstore.CollectionRef) (*docstore.Watch[[]docstore.Snapshot], error) {
	var w *docstore.Watch[[]docstore.Snapshot]
	wr, err := s.startWatcher(ctx, coll.Path(), "", func(ctx context.Context) error {
		snaps, err := s.list(ctx, coll)
		if err != nil {
			return err
		}
		w.Push(snaps)
		return nil
	})
	if err != nil {
		return nil, err
	}

	snaps, err := s.list(ctx, coll)
	if err != nil {
		wr.stop()
		return nil, err
	}
	w = docstore.NewWatch[[]docstore.Snapshot](wr.stop)
	w.Push(snaps)
	wr.run(w.Stop)
	return w, nil
}

// Close stops every watch. The database and feed stay open.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	watches := make([]*watcher, 0, len(s.watches))
	for wr := range s.watches {
		watches = append(watches, wr)
	}
	s.mu.Unlock()

	for _, wr := range watches {
		wr.shutdown()
	}
	return nil
}

// WatchCount returns the number of live watches.
func (s *Store) WatchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}

func jsonb(data json.RawMessage) pqtype.NullRawMessage {
	return pqtype.NullRawMessage{RawMessage: data, Valid: true}
}

// containment builds the jsonb document matched by `data @> filter`.
func containment(field string, value any) (json.RawMessage, error) {
	data, err := json.Marshal(map[string]any{field: value})
	if err != nil {
		return nil, err
	}
	return data, nil
}
