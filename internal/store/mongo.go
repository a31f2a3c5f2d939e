package store

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Mongo is the MongoDB-backed Store. Each path root ("messages",
// "recentMessages") maps to one collection; documents carry their full
// logical path in a "parent" field so nested collection paths share a
// physical collection and an index.
type Mongo struct {
	db *mongo.Database
}

// NewMongo returns a Store over the given database.
func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{db: db}
}

// mongoDoc is the physical document layout.
type mongoDoc struct {
	ID        string         `bson:"_id"`
	Parent    string         `bson:"parent"`
	Timestamp time.Time      `bson:"timestamp"`
	Fields    map[string]any `bson:"fields"`
}

func (d mongoDoc) document() Document {
	return Document{ID: d.ID, Timestamp: d.Timestamp, Fields: d.Fields}
}

// rootOf extracts the collection name from a logical path.
func rootOf(path string) (string, error) {
	root, _, _ := strings.Cut(path, "/")
	if root == "" {
		return "", fmt.Errorf("store: invalid collection path %q", path)
	}
	return root, nil
}

func (m *Mongo) collection(path string) (*mongo.Collection, error) {
	root, err := rootOf(path)
	if err != nil {
		return nil, err
	}
	return m.db.Collection(root), nil
}

// Add inserts a document with a fresh ObjectID-derived id and a server-side
// timestamp taken at write time.
func (m *Mongo) Add(ctx context.Context, path string, fields map[string]any) (string, time.Time, error) {
	coll, err := m.collection(path)
	if err != nil {
		return "", time.Time{}, err
	}

	doc := mongoDoc{
		ID:        bson.NewObjectID().Hex(),
		Parent:    path,
		Timestamp: time.Now().UTC(),
		Fields:    fields,
	}
	if _, err := coll.InsertOne(ctx, doc); err != nil {
		return "", time.Time{}, fmt.Errorf("store: insert into %s: %w", path, err)
	}
	return doc.ID, doc.Timestamp, nil
}

// Set overwrites the document with the given id, creating it when absent.
func (m *Mongo) Set(ctx context.Context, path, id string, fields map[string]any) (time.Time, error) {
	coll, err := m.collection(path)
	if err != nil {
		return time.Time{}, err
	}

	doc := mongoDoc{
		ID:        id,
		Parent:    path,
		Timestamp: time.Now().UTC(),
		Fields:    fields,
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := coll.ReplaceOne(ctx, bson.M{"_id": id, "parent": path}, doc, opts); err != nil {
		return time.Time{}, fmt.Errorf("store: set %s/%s: %w", path, id, err)
	}
	return doc.Timestamp, nil
}

// Delete removes one document; absent documents report ErrNotFound.
func (m *Mongo) Delete(ctx context.Context, path, id string) error {
	coll, err := m.collection(path)
	if err != nil {
		return err
	}

	res, err := coll.DeleteOne(ctx, bson.M{"_id": id, "parent": path})
	if err != nil {
		return fmt.Errorf("store: delete %s/%s: %w", path, id, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns the documents under path ordered by timestamp ascending.
func (m *Mongo) List(ctx context.Context, path string) ([]Document, error) {
	coll, err := m.collection(path)
	if err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.M{"timestamp": 1})
	cursor, err := coll.Find(ctx, bson.M{"parent": path}, opts)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", path, err)
	}
	defer cursor.Close(ctx)

	var raw []mongoDoc
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", path, err)
	}
	docs := make([]Document, 0, len(raw))
	for _, d := range raw {
		docs = append(docs, d.document())
	}
	return docs, nil
}

// changeEvent is the subset of a change stream event the pump needs.
type changeEvent struct {
	OperationType string    `bson:"operationType"`
	FullDocument  *mongoDoc `bson:"fullDocument"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
}

// Subscribe opens an ordered change stream over path. The stream is opened
// before the snapshot query so nothing written in between is lost; duplicates
// are folded out by document id.
func (m *Mongo) Subscribe(ctx context.Context, path string) (Subscription, error) {
	coll, err := m.collection(path)
	if err != nil {
		return nil, err
	}

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "replace", "update", "delete"}}}},
		}}},
	}
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := coll.Watch(streamCtx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("store: watch %s: %w", path, err)
	}

	sub := &mongoSub{
		ch:     make(chan Event, subBuffer),
		cancel: cancel,
	}
	go sub.pump(streamCtx, m, coll, stream, path)
	return sub, nil
}

type mongoSub struct {
	ch     chan Event
	cancel context.CancelFunc

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *mongoSub) Events() <-chan Event { return s.ch }

func (s *mongoSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *mongoSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	return nil
}

func (s *mongoSub) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil && !s.closed {
		s.err = err
	}
}

// emit delivers one event unless the subscription has been torn down.
func (s *mongoSub) emit(ctx context.Context, ev Event) bool {
	select {
	case s.ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *mongoSub) pump(ctx context.Context, m *Mongo, coll *mongo.Collection, stream *mongo.ChangeStream, path string) {
	defer close(s.ch)
	defer stream.Close(context.WithoutCancel(ctx))

	// ids this subscription has delivered an Added for; used both to fold
	// snapshot/stream duplicates and to scope delete events, which carry no
	// document body, to this path
	seen := make(map[string]bool)

	docs, err := m.List(ctx, path)
	if err != nil {
		s.setErr(err)
		return
	}
	for _, doc := range docs {
		seen[doc.ID] = true
		if !s.emit(ctx, Event{Type: Added, Doc: doc}) {
			return
		}
	}

	for stream.Next(ctx) {
		var ev changeEvent
		if err := stream.Decode(&ev); err != nil {
			log.Printf("store: skipping undecodable change event on %s: %v", path, err)
			continue
		}

		switch ev.OperationType {
		case "insert", "replace", "update":
			if ev.FullDocument == nil || ev.FullDocument.Parent != path {
				continue
			}
			doc := ev.FullDocument.document()
			if ev.OperationType == "insert" && seen[doc.ID] {
				// already delivered by the snapshot query
				continue
			}
			kind := Modified
			if !seen[doc.ID] {
				seen[doc.ID] = true
				kind = Added
			}
			if !s.emit(ctx, Event{Type: kind, Doc: doc}) {
				return
			}
		case "delete":
			if !seen[ev.DocumentKey.ID] {
				continue
			}
			delete(seen, ev.DocumentKey.ID)
			if !s.emit(ctx, Event{Type: Removed, Doc: Document{ID: ev.DocumentKey.ID}}) {
				return
			}
		}
	}

	if err := stream.Err(); err != nil && ctx.Err() == nil {
		s.setErr(err)
	}
}
