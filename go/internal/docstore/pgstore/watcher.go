package pgstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/estimate/go/internal/docstore"
)

// watcher turns feed notifications for one document or collection into refetches.
// Notifications arriving while a refetch runs collapse into one more refetch.
type watcher struct {
	store      *Store
	collection string
	id         string
	refetch    func(ctx context.Context) error

	trigger chan struct{}
	done    chan struct{}
	cancel  func()
	once    sync.Once

	mu         sync.Mutex
	closeWatch func()
}

func (s *Store) startWatcher(ctx context.Context, collection, id string, refetch func(context.Context) error) (*watcher, error) {
	if s.isClosed() {
		return nil, docstore.ErrClosed
	}
	wr := &watcher{
		store:      s,
		collection: collection,
		id:         id,
		refetch:    refetch,
		trigger:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	cancel, err := s.feed.Subscribe(ctx, collection, wr.notify)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", collection, err)
	}
	wr.cancel = cancel

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, docstore.ErrClosed
	}
	s.watches[wr] = struct{}{}
	s.mu.Unlock()
	return wr, nil
}

func (wr *watcher) notify(c docstore.Change) {
	if wr.id != "" && c.ID != "" && c.ID != wr.id {
		return
	}
	select {
	case wr.trigger <- struct{}{}:
	default:
	}
}

// run starts refetching. closeWatch stops the public watch on store shutdown.
func (wr *watcher) run(closeWatch func()) {
	wr.mu.Lock()
	wr.closeWatch = closeWatch
	wr.mu.Unlock()

	go func() {
		for {
			select {
			case <-wr.done:
				return
			case <-wr.trigger:
				ctx, cancel := context.WithTimeout(context.Background(), wr.store.cfg.RefetchTimeout)
				err := wr.refetch(ctx)
				cancel()
				if err != nil {
					log.Error().
						Err(err).
						Str("collection", wr.collection).
						Str("id", wr.id).
						Msg("failed to refetch watched snapshot")
				}
			}
		}
	}()
}

func (wr *watcher) stop() {
	wr.once.Do(func() {
		wr.cancel()
		close(wr.done)

		wr.store.mu.Lock()
		delete(wr.store.watches, wr)
		wr.store.mu.Unlock()
	})
}

func (wr *watcher) shutdown() {
	wr.mu.Lock()
	closeWatch := wr.closeWatch
	wr.mu.Unlock()
	if closeWatch != nil {
		closeWatch()
		return
	}
	wr.stop()
}
