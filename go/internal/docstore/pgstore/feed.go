package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/estimate/go/internal/docstore"
)

// FeedConfig configures a PQFeed.
type FeedConfig struct {
	DatabaseURL   string // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel string
	PingInterval  time.Duration
	MinReconnect  time.Duration
	MaxReconnect  time.Duration
}

// DefaultFeedConfig returns the default feed settings.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		NotifyChannel: "docstore_changes",
		PingInterval:  90 * time.Second,
		MinReconnect:  10 * time.Second,
		MaxReconnect:  time.Minute,
	}
}

// PQFeed is a docstore.Feed over Postgres LISTEN/NOTIFY. All collections share one
// channel; the payload names the collection and document.
type PQFeed struct {
	db       *sql.DB
	listener *pq.Listener
	cfg      FeedConfig

	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]func(docstore.Change)

	done chan struct{}
	once sync.Once
}

var _ docstore.Feed = (*PQFeed)(nil)

// NewPQFeed starts listening on cfg.NotifyChannel. Notifications are published through db.
func NewPQFeed(db *sql.DB, cfg FeedConfig) (*PQFeed, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		cfg.MinReconnect,
		cfg.MaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for document changes")

	f := &PQFeed{
		db:       db,
		listener: l,
		cfg:      cfg,
		subs:     make(map[string]map[uint64]func(docstore.Change)),
		done:     make(chan struct{}),
	}
	go f.loop()
	return f, nil
}

func (f *PQFeed) Publish(ctx context.Context, c docstore.Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	if _, err := f.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, f.cfg.NotifyChannel, string(payload)); err != nil {
		return fmt.Errorf("notify %s: %w", f.cfg.NotifyChannel, err)
	}
	return nil
}

func (f *PQFeed) Subscribe(_ context.Context, collection string, fn func(docstore.Change)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := f.nextID
	if f.subs[collection] == nil {
		f.subs[collection] = make(map[uint64]func(docstore.Change))
	}
	f.subs[collection][id] = fn

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs[collection], id)
		if len(f.subs[collection]) == 0 {
			delete(f.subs, collection)
		}
	}, nil
}

func (f *PQFeed) loop() {
	pingTicker := time.NewTicker(f.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-f.done:
			return
		case note := <-f.listener.Notify:
			if note == nil {
				// nil notification means the connection was re-established and
				// notifications may have been lost
				f.resync()
				continue
			}
			f.dispatch(note.Extra)
		case <-pingTicker.C:
			if err := f.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (f *PQFeed) dispatch(payload string) {
	c, err := decodeChange(payload)
	if err != nil {
		log.Error().Err(err).Str("payload", payload).Msg("invalid change notification")
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, fn := range f.subs[c.Collection] {
		fn(c)
	}
}

func (f *PQFeed) resync() {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for collection, fns := range f.subs {
		for _, fn := range fns {
			fn(docstore.Change{Collection: collection})
		}
	}
	log.Warn().Int("collections", len(f.subs)).Msg("listener reconnected, refetching watches")
}

// Close stops listening. The database handle stays open.
func (f *PQFeed) Close() error {
	var err error
	f.once.Do(func() {
		close(f.done)
		err = f.listener.Close()
	})
	return err
}

func decodeChange(payload string) (docstore.Change, error) {
	var c docstore.Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return docstore.Change{}, err
	}
	if c.Collection == "" {
		return docstore.Change{}, errors.New("change without collection")
	}
	return c, nil
}
