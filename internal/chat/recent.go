package chat

import (
	"context"
	"log"
	"sort"

	"mirrorchat/internal/store"
)

// Entry is the full payload of one recent-conversation row. Upserts always
// overwrite the whole row, so callers must supply every display field on
// every write — the index does not remember them otherwise.
type Entry struct {
	Text            string
	FromID          string
	ToID            string
	Email           string
	ProfileImageURL string
}

// RecentIndex is the denormalized inbox: at most one entry per (owner, peer)
// pair, always reflecting the most recent send or delete-tombstone for that
// peer. Entries are overwritten in place, never appended and never removed.
type RecentIndex struct {
	store store.Store
}

// NewRecentIndex returns an index over the given store.
func NewRecentIndex(s store.Store) *RecentIndex {
	return &RecentIndex{store: s}
}

// Upsert overwrites owner's entry for peer with the given payload. The entry
// is keyed by peer id, so repeated upserts can never create a second row.
func (r *RecentIndex) Upsert(ctx context.Context, ownerID, peerID string, e Entry) error {
	_, err := r.store.Set(ctx, recentPath(ownerID), peerID, map[string]any{
		fieldText:            e.Text,
		fieldFromID:          e.FromID,
		fieldToID:            e.ToID,
		fieldEmail:           e.Email,
		fieldProfileImageURL: e.ProfileImageURL,
	})
	return err
}

// MarkDeleted overwrites owner's entry for peer with the deletion sentinel
// and a fresh timestamp. The row itself stays; earlier messages of the pair
// are not restored. e.Text is ignored.
func (r *RecentIndex) MarkDeleted(ctx context.Context, ownerID, peerID string, e Entry) error {
	e.Text = DeletedText
	return r.Upsert(ctx, ownerID, peerID, e)
}

// List returns owner's inbox rows, most recent conversation first. Malformed
// entries are skipped and logged.
func (r *RecentIndex) List(ctx context.Context, ownerID string) ([]RecentMessage, error) {
	docs, err := r.store.List(ctx, recentPath(ownerID))
	if err != nil {
		return nil, err
	}
	rows := make([]RecentMessage, 0, len(docs))
	for _, doc := range docs {
		row, err := recentFromDoc(doc)
		if err != nil {
			log.Printf("chat: skipping malformed recent entry in %s: %v", recentPath(ownerID), err)
			continue
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp.After(rows[j].Timestamp) })
	return rows, nil
}

// Subscribe opens a live change stream over owner's inbox, used to keep a
// conversation list fresh without polling.
func (r *RecentIndex) Subscribe(ctx context.Context, ownerID string) (store.Subscription, error) {
	return r.store.Subscribe(ctx, recentPath(ownerID))
}
