package docstore

import (
	"context"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
)

// MemoryStore is an in-process Store used by tests and single-process demos
type MemoryStore struct {
	clock clockwork.Clock

	mu     sync.RWMutex
	docs   map[string]*Document
	closed bool

	subs *subscriberSet
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		clock: clock,
		docs:  make(map[string]*Document),
		subs:  newSubscriberSet(),
	}
}

func (m *MemoryStore) Get(ctx context.Context, path string) (*Document, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	doc, ok := m.docs[path]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

func (m *MemoryStore) Set(ctx context.Context, path string, fields map[string]any, opts ...SetOption) error {
	if err := validatePath(path); err != nil {
		return err
	}
	o := applySetOptions(opts)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	next := fields
	if existing, ok := m.docs[path]; ok && o.merge {
		next = mergeFields(existing.Fields, fields)
	}
	doc := (&Document{Path: path, Fields: next, UpdateTime: m.clock.Now()}).Clone()
	m.docs[path] = doc

	// Publishing under the write lock keeps per-path delivery in write order
	m.subs.publish(doc)
	return nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, path string, fn func(*Document)) (Unsubscribe, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	s := newSubscriber(path, fn)
	m.subs.add(s)
	if doc, ok := m.docs[path]; ok {
		s.push(doc)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subs.remove(s)
			s.close()
		})
	}, nil
}

func (m *MemoryStore) List(ctx context.Context, collection string) ([]*Document, error) {
	if err := validatePath(collection); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	var docs []*Document
	for path, doc := range m.docs {
		if Parent(path) == collection {
			docs = append(docs, doc.Clone())
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].Path < docs[j].Path
	})
	return docs, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.subs.closeAll()
	return nil
}
