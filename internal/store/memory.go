package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// subBuffer is the per-subscriber event buffer. A subscriber that falls this
// far behind is dropped rather than allowed to block writers.
const subBuffer = 256

// errSubscriberDropped is reported by Err on a subscription that was evicted
// for falling behind, so consumers can tell the eviction from a clean Close.
var errSubscriberDropped = errors.New("store: subscriber dropped: event buffer full")

// Memory is an in-process Store used by tests and local development. Ids are
// random UUIDs and timestamps come from a strictly monotonic clock, so two
// writes in the same wall-clock instant still have a defined order.
type Memory struct {
	mu     sync.Mutex
	docs   map[string][]Document // per path, ascending by timestamp
	subs   map[string]map[int64]*memorySub
	nextID int64
	lastTS time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		docs: make(map[string][]Document),
		subs: make(map[string]map[int64]*memorySub),
	}
}

// now returns a timestamp strictly later than any previously issued one.
func (m *Memory) now() time.Time {
	ts := time.Now()
	if !ts.After(m.lastTS) {
		ts = m.lastTS.Add(time.Nanosecond)
	}
	m.lastTS = ts
	return ts
}

// Add inserts a new document under path with a fresh id and timestamp.
func (m *Memory) Add(ctx context.Context, path string, fields map[string]any) (string, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return "", time.Time{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc := Document{
		ID:        uuid.NewString(),
		Timestamp: m.now(),
		Fields:    cloneFields(fields),
	}
	m.docs[path] = append(m.docs[path], doc)
	m.publish(path, Event{Type: Added, Doc: doc})
	return doc.ID, doc.Timestamp, nil
}

// Set overwrites (or creates) the document with the given id. An overwrite is
// delivered to subscribers as Modified, a creation as Added.
func (m *Memory) Set(ctx context.Context, path, id string, fields map[string]any) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc := Document{ID: id, Timestamp: m.now(), Fields: cloneFields(fields)}

	existing := false
	list := m.docs[path]
	for i := range list {
		if list[i].ID == id {
			// re-timestamped writes move to the tail to keep the slice ordered
			list = append(list[:i], list[i+1:]...)
			existing = true
			break
		}
	}
	m.docs[path] = append(list, doc)

	if existing {
		m.publish(path, Event{Type: Modified, Doc: doc})
	} else {
		m.publish(path, Event{Type: Added, Doc: doc})
	}
	return doc.Timestamp, nil
}

// Delete removes the document with the given id, or reports ErrNotFound.
func (m *Memory) Delete(ctx context.Context, path, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.docs[path]
	for i := range list {
		if list[i].ID == id {
			removed := list[i]
			m.docs[path] = append(list[:i], list[i+1:]...)
			m.publish(path, Event{Type: Removed, Doc: Document{ID: removed.ID, Timestamp: removed.Timestamp}})
			return nil
		}
	}
	return ErrNotFound
}

// List returns a copy of the documents under path, oldest first.
func (m *Memory) List(ctx context.Context, path string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.docs[path]
	out := make([]Document, len(list))
	copy(out, list)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Subscribe registers a change stream over path. The current contents are
// replayed as Added events before any live change is delivered.
func (m *Memory) Subscribe(ctx context.Context, path string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	sub := &memorySub{
		store: m,
		path:  path,
		id:    m.nextID,
		// room for the snapshot replay plus a live buffer
		ch: make(chan Event, len(m.docs[path])+subBuffer),
	}
	if _, ok := m.subs[path]; !ok {
		m.subs[path] = make(map[int64]*memorySub)
	}
	m.subs[path][sub.id] = sub

	// snapshot replay happens under the same lock, so no live event can be
	// interleaved ahead of it
	for _, doc := range m.docs[path] {
		sub.ch <- Event{Type: Added, Doc: doc}
	}
	return sub, nil
}

// publish delivers an event to every subscriber of path. Subscribers whose
// buffer is full are unregistered with errSubscriberDropped, mirroring
// best-effort hub delivery.
func (m *Memory) publish(path string, ev Event) {
	for id, sub := range m.subs[path] {
		select {
		case sub.ch <- ev:
		default:
			delete(m.subs[path], id)
			sub.err = errSubscriberDropped
			sub.closed = true
			close(sub.ch)
		}
	}
}

type memorySub struct {
	store *Memory
	path  string
	id    int64
	ch    chan Event

	// guarded by store.mu
	closed bool
	err    error
}

func (s *memorySub) Events() <-chan Event { return s.ch }

func (s *memorySub) Err() error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	return s.err
}

func (s *memorySub) Close() error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if subs, ok := s.store.subs[s.path]; ok {
		delete(subs, s.id)
	}
	close(s.ch)
	return nil
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
