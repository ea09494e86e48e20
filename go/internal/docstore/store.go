// Package docstore defines the path-addressed document store the room core is
// written against, and an in-memory implementation of it.
//
// Documents live in collections. A collection path alternates collection names and
// document ids: "rooms", "rooms/abc/participants". Every watch delivers complete
// snapshots, never deltas.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by Update when the target document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrClosed is returned once a store has been closed.
	ErrClosed = errors.New("store closed")
)

// Fields is the content of a document, or a patch to one.
type Fields map[string]any

type serverTimestamp struct{}

// ServerTimestamp may be used as a field value; the store replaces it with its own
// clock reading when the write is applied.
var ServerTimestamp any = serverTimestamp{}

// Store is the set of operations the room core needs from a document database.
type Store interface {
	// Create writes a new document under a store generated id.
	Create(ctx context.Context, coll CollectionRef, fields Fields) (DocRef, error)
	// Get returns the document. A missing document yields Exists == false, not an error.
	Get(ctx context.Context, ref DocRef) (Snapshot, error)
	// Set creates or fully replaces the document.
	Set(ctx context.Context, ref DocRef, fields Fields) error
	// Update merges top-level fields into an existing document.
	Update(ctx context.Context, ref DocRef, fields Fields) error
	// Delete removes the document. Deleting a missing document is not an error.
	Delete(ctx context.Context, ref DocRef) error
	// Query returns the documents of coll whose field equals value, in store order.
	Query(ctx context.Context, coll CollectionRef, field string, value any) ([]Snapshot, error)
	// WatchDocument delivers the current snapshot and then one after every change.
	WatchDocument(ctx context.Context, ref DocRef) (*Watch[Snapshot], error)
	// WatchCollection delivers the full collection contents, initially and after every change.
	WatchCollection(ctx context.Context, coll CollectionRef) (*Watch[[]Snapshot], error)
}

// CollectionRef addresses a collection.
type CollectionRef struct {
	path string
}

// Collection returns a reference to a top-level collection.
func Collection(name string) CollectionRef {
	return CollectionRef{path: name}
}

// ParseCollection validates a collection path such as "rooms/abc/participants".
func ParseCollection(path string) (CollectionRef, error) {
	parts := strings.Split(path, "/")
	if len(parts)%2 == 0 {
		return CollectionRef{}, fmt.Errorf("invalid collection path %q", path)
	}
	for _, p := range parts {
		if p == "" {
			return CollectionRef{}, fmt.Errorf("invalid collection path %q", path)
		}
	}
	return CollectionRef{path: path}, nil
}

// Path returns the slash separated collection path.
func (c CollectionRef) Path() string { return c.path }

func (c CollectionRef) String() string { return c.path }

// Doc returns a reference to a document in the collection.
func (c CollectionRef) Doc(id string) DocRef {
	return DocRef{coll: c, id: id}
}

// DocRef addresses a document.
type DocRef struct {
	coll CollectionRef
	id   string
}

// ID returns the document id.
func (d DocRef) ID() string { return d.id }

// Parent returns the collection holding the document.
func (d DocRef) Parent() CollectionRef { return d.coll }

// Collection returns a sub-collection of the document.
func (d DocRef) Collection(name string) CollectionRef {
	return CollectionRef{path: d.Path() + "/" + name}
}

// Path returns the slash separated document path.
func (d DocRef) Path() string { return d.coll.path + "/" + d.id }

func (d DocRef) String() string { return d.Path() }

// Snapshot is the content of a document at one point in time.
type Snapshot struct {
	Ref    DocRef
	Exists bool
	Data   json.RawMessage
}

// DataTo decodes the document into v.
func (s Snapshot) DataTo(v any) error {
	if !s.Exists {
		return fmt.Errorf("decode %s: %w", s.Ref, ErrNotFound)
	}
	if err := json.Unmarshal(s.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", s.Ref, err)
	}
	return nil
}

// Encode resolves ServerTimestamp sentinels against now and marshals the fields.
func Encode(fields Fields, now time.Time) (json.RawMessage, error) {
	resolved := make(map[string]any, len(fields))
	for k, v := range fields {
		if _, ok := v.(serverTimestamp); ok {
			resolved[k] = now.UTC()
			continue
		}
		resolved[k] = v
	}
	data, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	return data, nil
}

// Merge applies patch on top of the top-level fields of doc.
func Merge(doc, patch json.RawMessage) (json.RawMessage, error) {
	base := map[string]json.RawMessage{}
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &base); err != nil {
			return nil, fmt.Errorf("merge: decode document: %w", err)
		}
	}
	var p map[string]json.RawMessage
	if err := json.Unmarshal(patch, &p); err != nil {
		return nil, fmt.Errorf("merge: decode patch: %w", err)
	}
	for k, v := range p {
		base[k] = v
	}
	out, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("merge: encode: %w", err)
	}
	return out, nil
}
