package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Op names a store operation, used by fault hooks.
type Op string

const (
	OpCreate Op = "create"
	OpGet    Op = "get"
	OpSet    Op = "set"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpQuery  Op = "query"
	OpWatch  Op = "watch"
)

// FaultFunc lets tests fail individual operations. path is the document or
// collection path the operation targets.
type FaultFunc func(op Op, path string) error

// Memory is an in-process Store. Writes are applied immediately and watchers are
// notified before the write returns.
type Memory struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	seq    uint64
	closed bool
	fault  FaultFunc

	docs        map[string]map[string]*memDoc // collection path -> id -> doc
	docWatches  map[string]map[*Watch[Snapshot]]struct{}
	collWatches map[string]map[*Watch[[]Snapshot]]struct{}
}

type memDoc struct {
	data json.RawMessage
	seq  uint64
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock sets the clock used for ServerTimestamp values.
func WithClock(c clockwork.Clock) MemoryOption {
	return func(m *Memory) { m.clock = c }
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		clock:       clockwork.NewRealClock(),
		docs:        make(map[string]map[string]*memDoc),
		docWatches:  make(map[string]map[*Watch[Snapshot]]struct{}),
		collWatches: make(map[string]map[*Watch[[]Snapshot]]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetFault installs or, with nil, removes a fault hook.
func (m *Memory) SetFault(f FaultFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = f
}

func (m *Memory) check(op Op, path string) error {
	if m.closed {
		return ErrClosed
	}
	if m.fault != nil {
		if err := m.fault(op, path); err != nil {
			return fmt.Errorf("%s %s: %w", op, path, err)
		}
	}
	return nil
}

func (m *Memory) Create(ctx context.Context, coll CollectionRef, fields Fields) (DocRef, error) {
	if err := ctx.Err(); err != nil {
		return DocRef{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(OpCreate, coll.Path()); err != nil {
		return DocRef{}, err
	}

	data, err := Encode(fields, m.clock.Now())
	if err != nil {
		return DocRef{}, err
	}
	ref := coll.Doc(uuid.NewString())
	m.put(ref, data)
	return ref, nil
}

func (m *Memory) Get(ctx context.Context, ref DocRef) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(OpGet, ref.Path()); err != nil {
		return Snapshot{}, err
	}
	return m.snapshot(ref), nil
}

func (m *Memory) Set(ctx context.Context, ref DocRef, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(OpSet, ref.Path()); err != nil {
		return err
	}

	data, err := Encode(fields, m.clock.Now())
	if err != nil {
		return err
	}
	m.put(ref, data)
	return nil
}

func (m *Memory) Update(ctx context.Context, ref DocRef, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(OpUpdate, ref.Path()); err != nil {
		return err
	}

	doc, ok := m.docs[ref.Parent().Path()][ref.ID()]
	if !ok {
		return fmt.Errorf("update %s: %w", ref, ErrNotFound)
	}
	patch, err := Encode(fields, m.clock.Now())
	if err != nil {
		return err
	}
	merged, err := Merge(doc.data, patch)
	if err != nil {
		return err
	}
	doc.data = merged
	m.notify(ref)
	return nil
}

func (m *Memory) Delete(ctx context.Context, ref DocRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(OpDelete, ref.Path()); err != nil {
		return err
	}

	docs := m.docs[ref.Parent().Path()]
	if _, ok := docs[ref.ID()]; !ok {
		return nil
	}
	delete(docs, ref.ID())
	if len(docs) == 0 {
		delete(m.docs, ref.Parent().Path())
	}
	m.notify(ref)
	return nil
}

func (m *Memory) Query(ctx context.Context, coll CollectionRef, field string, value any) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(OpQuery, coll.Path()); err != nil {
		return nil, err
	}

	want, err := normalize(value)
	if err != nil {
		return nil, err
	}
	var out []Snapshot
	for _, snap := range m.list(coll) {
		var doc map[string]any
		if err := json.Unmarshal(snap.Data, &doc); err != nil {
			return nil, fmt.Errorf("query %s: %w", coll, err)
		}
		if got, ok := doc[field]; ok && reflect.DeepEqual(got, want) {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (m *Memory) WatchDocument(ctx context.Context, ref DocRef) (*Watch[Snapshot], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(OpWatch, ref.Path()); err != nil {
		return nil, err
	}

	path := ref.Path()
	var w *Watch[Snapshot]
	w = NewWatch[Snapshot](func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.docWatches[path], w)
		if len(m.docWatches[path]) == 0 {
			delete(m.docWatches, path)
		}
	})
	if m.docWatches[path] == nil {
		m.docWatches[path] = make(map[*Watch[Snapshot]]struct{})
	}
	m.docWatches[path][w] = struct{}{}
	w.Push(m.snapshot(ref))
	return w, nil
}

func (m *Memory) WatchCollection(ctx context.Context, coll CollectionRef) (*Watch[[]Snapshot], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(OpWatch, coll.Path()); err != nil {
		return nil, err
	}

	path := coll.Path()
	var w *Watch[[]Snapshot]
	w = NewWatch[[]Snapshot](func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.collWatches[path], w)
		if len(m.collWatches[path]) == 0 {
			delete(m.collWatches, path)
		}
	})
	if m.collWatches[path] == nil {
		m.collWatches[path] = make(map[*Watch[[]Snapshot]]struct{})
	}
	m.collWatches[path][w] = struct{}{}
	w.Push(m.list(coll))
	return w, nil
}

// WatchCount returns the number of live watches, for tests and stats.
func (m *Memory) WatchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ws := range m.docWatches {
		n += len(ws)
	}
	for _, ws := range m.collWatches {
		n += len(ws)
	}
	return n
}

// Close stops every live watch. Further calls fail with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	var docWatches []*Watch[Snapshot]
	for _, ws := range m.docWatches {
		for w := range ws {
			docWatches = append(docWatches, w)
		}
	}
	var collWatches []*Watch[[]Snapshot]
	for _, ws := range m.collWatches {
		for w := range ws {
			collWatches = append(collWatches, w)
		}
	}
	m.mu.Unlock()

	for _, w := range docWatches {
		w.Stop()
	}
	for _, w := range collWatches {
		w.Stop()
	}
	log.Debug().Int("watches", len(docWatches)+len(collWatches)).Msg("memory store closed")
	return nil
}

// put stores data at ref, keeping the original position of an existing document.
// Caller holds m.mu.
func (m *Memory) put(ref DocRef, data json.RawMessage) {
	coll := ref.Parent().Path()
	if m.docs[coll] == nil {
		m.docs[coll] = make(map[string]*memDoc)
	}
	if doc, ok := m.docs[coll][ref.ID()]; ok {
		doc.data = data
	} else {
		m.seq++
		m.docs[coll][ref.ID()] = &memDoc{data: data, seq: m.seq}
	}
	m.notify(ref)
}

// Caller holds m.mu.
func (m *Memory) notify(ref DocRef) {
	if ws := m.docWatches[ref.Path()]; len(ws) > 0 {
		snap := m.snapshot(ref)
		for w := range ws {
			w.Push(snap)
		}
	}
	if ws := m.collWatches[ref.Parent().Path()]; len(ws) > 0 {
		for w := range ws {
			w.Push(m.list(ref.Parent()))
		}
	}
}

// Caller holds m.mu.
func (m *Memory) snapshot(ref DocRef) Snapshot {
	doc, ok := m.docs[ref.Parent().Path()][ref.ID()]
	if !ok {
		return Snapshot{Ref: ref}
	}
	return Snapshot{Ref: ref, Exists: true, Data: doc.data}
}

// list returns the collection in insertion order. Caller holds m.mu.
func (m *Memory) list(coll CollectionRef) []Snapshot {
	docs := m.docs[coll.Path()]
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return docs[ids[i]].seq < docs[ids[j]].seq })

	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, Snapshot{Ref: coll.Doc(id), Exists: true, Data: docs[id].data})
	}
	return out
}

// normalize converts a query value into the shape json.Unmarshal produces.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode query value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode query value: %w", err)
	}
	return out, nil
}
