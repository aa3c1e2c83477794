package docstore

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"classroom/internal/observability"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. It keeps the read-modify-write window
// of the real backend: a Get returns a copy and a later UpdateFields replaces
// whole fields, so concurrent writers can lose updates the same way.
type MemoryStore struct {
	mu     sync.Mutex
	docs   map[string]map[string]json.RawMessage
	subs   map[string]map[*memorySub]struct{}
	writes atomic.Int64

	// OnRead, when set, runs after Get has taken its snapshot and before it
	// returns. Tests use it to park readers inside the race window.
	OnRead func(id string)
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]map[string]json.RawMessage),
		subs: make(map[string]map[*memorySub]struct{}),
	}
}

// Writes returns the number of committed write operations.
func (s *MemoryStore) Writes() int64 {
	return s.writes.Load()
}

// Put stores a document under id with the given fields, replacing any existing one.
func (s *MemoryStore) Put(id string, fields map[string]any) error {
	encoded, err := encodeFields(fields)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = encoded
	s.notifyLocked(id)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Document, error) {
	s.mu.Lock()
	fields, ok := s.docs[id]
	var doc *Document
	if ok {
		doc = &Document{ID: id, Exists: true, Fields: cloneFields(fields)}
	}
	hook := s.OnRead
	s.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return doc, nil
}

func (s *MemoryStore) UpdateFields(_ context.Context, id string, fields map[string]any) error {
	encoded, err := encodeFields(fields)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	for name, raw := range encoded {
		doc[name] = raw
	}
	s.commitLocked(id)
	return nil
}

func (s *MemoryStore) AddToSetField(_ context.Context, id, field, value string) error {
	return s.mutateSet(id, field, func(set []string) ([]string, bool) {
		return addToSet(set, value)
	})
}

func (s *MemoryStore) RemoveFromSetField(_ context.Context, id, field, value string) error {
	return s.mutateSet(id, field, func(set []string) ([]string, bool) {
		return removeFromSet(set, value)
	})
}

// mutateSet applies fn under the store lock, which makes set mutations atomic.
func (s *MemoryStore) mutateSet(id, field string, fn func([]string) ([]string, bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	set, err := decodeSet(doc[field])
	if err != nil {
		return err
	}
	next, changed := fn(set)
	if !changed {
		return nil
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return err
	}
	doc[field] = raw
	s.commitLocked(id)
	return nil
}

func (s *MemoryStore) Create(_ context.Context, fields map[string]any) (string, error) {
	encoded, err := encodeFields(fields)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = encoded
	s.commitLocked(id)
	return id, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return ErrNotFound
	}
	delete(s.docs, id)
	s.commitLocked(id)
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, id string, onChange func(*Document)) (Unsubscribe, error) {
	sub := &memorySub{
		onChange: onChange,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	if s.subs[id] == nil {
		s.subs[id] = make(map[*memorySub]struct{})
	}
	s.subs[id][sub] = struct{}{}
	sub.push(s.snapshotLocked(id))
	s.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[id], sub)
			if len(s.subs[id]) == 0 {
				delete(s.subs, id)
			}
			s.mu.Unlock()
			close(sub.done)
		})
	}

	go sub.run()
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-sub.done:
		}
	}()

	return unsubscribe, nil
}

func (s *MemoryStore) commitLocked(id string) {
	s.writes.Add(1)
	s.notifyLocked(id)
}

// notifyLocked enqueues the current snapshot for every subscriber of id.
// Enqueueing under the store lock keeps delivery in commit order.
func (s *MemoryStore) notifyLocked(id string) {
	subs := s.subs[id]
	if len(subs) == 0 {
		return
	}
	snapshot := s.snapshotLocked(id)
	for sub := range subs {
		sub.push(snapshot)
	}
}

func (s *MemoryStore) snapshotLocked(id string) *Document {
	fields, ok := s.docs[id]
	if !ok {
		return &Document{ID: id}
	}
	return &Document{ID: id, Exists: true, Fields: cloneFields(fields)}
}

type memorySub struct {
	onChange func(*Document)

	mu     sync.Mutex
	queue  []*Document
	signal chan struct{}
	done   chan struct{}
}

func (m *memorySub) push(doc *Document) {
	m.mu.Lock()
	m.queue = append(m.queue, doc)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *memorySub) run() {
	for {
		select {
		case <-m.done:
			return
		case <-m.signal:
		}
		m.mu.Lock()
		batch := m.queue
		m.queue = nil
		m.mu.Unlock()

		for _, doc := range batch {
			select {
			case <-m.done:
				return
			default:
			}
			m.deliver(doc)
		}
	}
}

func (m *memorySub) deliver(doc *Document) {
	defer func() {
		if r := recover(); r != nil {
			observability.GlobalLogger.Error("panic in document subscriber",
				"document_id", doc.ID, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	m.onChange(doc)
}
