package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mirrorchat/internal/store"
)

func TestRecentIndexSingleRowPerPeer(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemory()
	idx := NewRecentIndex(docs)

	for _, text := range []string{"first", "second", "third"} {
		err := idx.Upsert(ctx, "u2", "u1", Entry{
			Text:            text,
			FromID:          "u1",
			ToID:            "u2",
			Email:           "alice@example.com",
			ProfileImageURL: "https://img.example.com/alice.png",
		})
		require.NoError(t, err)
	}

	rows, err := idx.List(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, rows, 1, "repeated upserts must never create a second row")
	require.Equal(t, "u1", rows[0].PeerID)
	require.Equal(t, "third", rows[0].Text)
	require.Equal(t, "alice@example.com", rows[0].Email)
}

func TestRecentIndexMarkDeleted(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemory()
	idx := NewRecentIndex(docs)

	entry := Entry{Text: "hello", FromID: "u1", ToID: "u2", Email: "bob@example.com"}
	require.NoError(t, idx.Upsert(ctx, "u1", "u2", entry))

	before, err := idx.List(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, idx.MarkDeleted(ctx, "u1", "u2", entry))

	rows, err := idx.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rows, 1, "tombstone overwrites, never removes the row")
	require.Equal(t, DeletedText, rows[0].Text)
	require.Equal(t, "bob@example.com", rows[0].Email)
	require.True(t, rows[0].Timestamp.After(before[0].Timestamp), "tombstone carries a fresh timestamp")
}

func TestRecentIndexListNewestFirst(t *testing.T) {
	ctx := context.Background()
	idx := NewRecentIndex(store.NewMemory())

	require.NoError(t, idx.Upsert(ctx, "u1", "u2", Entry{Text: "older"}))
	require.NoError(t, idx.Upsert(ctx, "u1", "u3", Entry{Text: "newer"}))

	rows, err := idx.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "u3", rows[0].PeerID, "most recent conversation first")
}

func TestRecentMessageDerivedFields(t *testing.T) {
	r := RecentMessage{Email: "john.doe@example.com"}
	require.Equal(t, "John.doe", r.Username())

	require.Empty(t, RecentMessage{}.Username())

	now := time.Now()
	cases := []struct {
		age  time.Duration
		want string
	}{
		{30 * time.Second, "just now"},
		{5 * time.Minute, "5m ago"},
		{3 * time.Hour, "3h ago"},
		{2 * 24 * time.Hour, "2d ago"},
		{3 * 7 * 24 * time.Hour, "3w ago"},
	}
	for _, tc := range cases {
		r := RecentMessage{Timestamp: now.Add(-tc.age)}
		require.Equal(t, tc.want, r.TimeAgo(now))
	}
}
