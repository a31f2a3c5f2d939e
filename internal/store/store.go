// Package store abstracts the document database the chat engine writes to.
// Collections are addressed by slash-separated logical paths such as
// "messages/{ownerId}/{peerId}" or "recentMessages/{ownerId}/messages"; the
// store assigns document ids and timestamps at write time and delivers
// per-collection change streams ordered by that timestamp.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a referenced document does not exist.
var ErrNotFound = errors.New("store: document not found")

// Document is one stored record. Timestamp is assigned by the store on every
// write; Fields holds the caller-supplied payload.
type Document struct {
	ID        string
	Timestamp time.Time
	Fields    map[string]any
}

// EventType identifies the kind of change delivered on a subscription.
type EventType int

const (
	Added EventType = iota
	Modified
	Removed
)

func (t EventType) String() string {
	switch t {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// Event is one change delivered on a subscription. For Removed events only
// Doc.ID is guaranteed to be populated.
type Event struct {
	Type EventType
	Doc  Document
}

// Subscription is a live change stream over one collection path. Events are
// delivered in store order: an initial snapshot of existing documents as Added
// events (ascending by timestamp), then live changes as they happen. The
// channel is closed when the subscription ends; Err reports why when the
// termination was not a clean Close.
type Subscription interface {
	Events() <-chan Event
	// Err returns the stream error, if any, once Events is closed.
	Err() error
	// Close releases the stream. Safe to call more than once.
	Close() error
}

// Store is the document database interface consumed by the chat engine.
// All operations address a collection by its logical path.
type Store interface {
	// Add inserts a document with a store-assigned id and timestamp.
	Add(ctx context.Context, path string, fields map[string]any) (id string, ts time.Time, err error)

	// Set overwrites the document with the given id, creating it if absent.
	// The full payload replaces whatever was stored before; the timestamp is
	// refreshed on every call.
	Set(ctx context.Context, path, id string, fields map[string]any) (time.Time, error)

	// Delete removes one document. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, path, id string) error

	// List returns the documents under path ordered by timestamp ascending.
	List(ctx context.Context, path string) ([]Document, error)

	// Subscribe opens an ordered change stream over path.
	Subscribe(ctx context.Context, path string) (Subscription, error)
}
