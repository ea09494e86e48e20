package docstore

import "context"

// Change names a document that was written. An empty ID means "anything in the
// collection may have changed", sent after a feed lost messages.
type Change struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// Feed carries change notifications between the processes sharing a database.
// Handlers are called from the feed's own goroutines and must not block.
type Feed interface {
	Publish(ctx context.Context, c Change) error
	// Subscribe calls fn for every change in collection until cancel is called.
	Subscribe(ctx context.Context, collection string, fn func(Change)) (cancel func(), err error)
	Close() error
}
