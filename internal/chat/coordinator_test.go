package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mirrorchat/internal/directory"
	"mirrorchat/internal/store"
)

func testDirectory() *directory.Memory {
	dir := directory.NewMemory()
	dir.Put(directory.Profile{ID: "u1", Email: "alice@example.com", ProfileImageURL: "https://img.example.com/alice.png"})
	dir.Put(directory.Profile{ID: "u2", Email: "bob@example.com", ProfileImageURL: "https://img.example.com/bob.png"})
	return dir
}

func newTestCoordinator(docs store.Store) *Coordinator {
	logs := NewConversationLog(docs)
	recent := NewRecentIndex(docs)
	return NewCoordinator(logs, recent, testDirectory())
}

func TestSendFansOutToAllFourLocations(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemory()
	coord := newTestCoordinator(docs)

	msg, err := coord.Send(ctx, "u1", "u2", "hi")
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)

	// sender's log
	senderLog, err := docs.List(ctx, "messages/u1/u2")
	require.NoError(t, err)
	require.Len(t, senderLog, 1)
	require.Equal(t, "u1", senderLog[0].Fields["fromId"])
	require.Equal(t, "u2", senderLog[0].Fields["toId"])
	require.Equal(t, "hi", senderLog[0].Fields["text"])

	// recipient's mirrored log: same logical message, independent document
	mirror, err := docs.List(ctx, "messages/u2/u1")
	require.NoError(t, err)
	require.Len(t, mirror, 1)
	require.Equal(t, "u1", mirror[0].Fields["fromId"])
	require.Equal(t, "hi", mirror[0].Fields["text"])
	require.NotEqual(t, senderLog[0].ID, mirror[0].ID)

	// sender's inbox shows the recipient's display fields
	senderRecent, err := docs.List(ctx, "recentMessages/u1/messages")
	require.NoError(t, err)
	require.Len(t, senderRecent, 1)
	require.Equal(t, "u2", senderRecent[0].ID)
	require.Equal(t, "hi", senderRecent[0].Fields["text"])
	require.Equal(t, "bob@example.com", senderRecent[0].Fields["email"])

	// recipient's inbox shows the sender's display fields
	recipRecent, err := docs.List(ctx, "recentMessages/u2/messages")
	require.NoError(t, err)
	require.Len(t, recipRecent, 1)
	require.Equal(t, "u1", recipRecent[0].ID)
	require.Equal(t, "hi", recipRecent[0].Fields["text"])
	require.Equal(t, "alice@example.com", recipRecent[0].Fields["email"])
}

func TestSendRepeatedKeepsSingleInboxRow(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemory()
	coord := newTestCoordinator(docs)

	for _, text := range []string{"one", "two", "three"} {
		_, err := coord.Send(ctx, "u1", "u2", text)
		require.NoError(t, err)
	}

	rows, err := docs.List(ctx, "recentMessages/u2/messages")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "u1", rows[0].ID)
	require.Equal(t, "three", rows[0].Fields["text"])
}

func TestSendValidation(t *testing.T) {
	ctx := context.Background()
	coord := newTestCoordinator(store.NewMemory())

	_, err := coord.Send(ctx, "u1", "u2", "")
	require.ErrorIs(t, err, ErrEmptyText)

	_, err = coord.Send(ctx, "", "u2", "hi")
	require.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = coord.Send(ctx, "u1", "ghost", "hi")
	require.ErrorIs(t, err, directory.ErrUserNotFound)
}

// faultyStore fails writes on selected paths while letting everything else
// through, to exercise partial fan-out.
type faultyStore struct {
	store.Store
	failAdd map[string]bool
	failSet map[string]bool
	addTried []string
	setTried []string
}

var errInjected = errors.New("injected store failure")

func (f *faultyStore) Add(ctx context.Context, path string, fields map[string]any) (string, time.Time, error) {
	f.addTried = append(f.addTried, path)
	if f.failAdd[path] {
		return "", time.Time{}, errInjected
	}
	return f.Store.Add(ctx, path, fields)
}

func (f *faultyStore) Set(ctx context.Context, path, id string, fields map[string]any) (time.Time, error) {
	f.setTried = append(f.setTried, path)
	if f.failSet[path] {
		return time.Time{}, errInjected
	}
	return f.Store.Set(ctx, path, id, fields)
}

func TestSendPartialFailureContinuesIndependentSteps(t *testing.T) {
	ctx := context.Background()
	faulty := &faultyStore{
		Store:   store.NewMemory(),
		failAdd: map[string]bool{"messages/u1/u2": true},
		failSet: map[string]bool{},
	}
	coord := newTestCoordinator(faulty)

	_, err := coord.Send(ctx, "u1", "u2", "hi")
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, "sender log write", stepErr.Step)
	require.ErrorIs(t, err, errInjected)

	// the mirror write and both inbox upserts were still attempted
	require.Equal(t, []string{"messages/u1/u2", "messages/u2/u1"}, faulty.addTried)
	require.Equal(t, []string{"recentMessages/u1/messages", "recentMessages/u2/messages"}, faulty.setTried)

	// recipient still has the message even though the sender's copy failed
	mirror, listErr := faulty.List(ctx, "messages/u2/u1")
	require.NoError(t, listErr)
	require.Len(t, mirror, 1)
}

func TestSendSurfacesFirstOfSeveralFailures(t *testing.T) {
	ctx := context.Background()
	faulty := &faultyStore{
		Store:   store.NewMemory(),
		failAdd: map[string]bool{"messages/u2/u1": true},
		failSet: map[string]bool{"recentMessages/u2/messages": true},
	}
	coord := newTestCoordinator(faulty)

	_, err := coord.Send(ctx, "u1", "u2", "hi")
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, "recipient log write", stepErr.Step, "first failed step wins")
}

func TestDeleteMirrorsAndTombstones(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemory()
	coord := newTestCoordinator(docs)

	msg, err := coord.Send(ctx, "u1", "u2", "regret this")
	require.NoError(t, err)

	require.NoError(t, coord.Delete(ctx, msg, "u1", "u2"))

	senderLog, err := docs.List(ctx, "messages/u1/u2")
	require.NoError(t, err)
	require.Empty(t, senderLog)

	// the mirror document has its own id, so deleting by the sender-side id
	// leaves it in place; its owner removes it from their own screen
	mirror, err := docs.List(ctx, "messages/u2/u1")
	require.NoError(t, err)
	require.Len(t, mirror, 1)

	tombstones, err := docs.List(ctx, "recentMessages/u1/messages")
	require.NoError(t, err)
	require.Len(t, tombstones, 1)
	require.Equal(t, DeletedText, tombstones[0].Fields["text"])

	tombstones, err = docs.List(ctx, "recentMessages/u2/messages")
	require.NoError(t, err)
	require.Len(t, tombstones, 1)
	require.Equal(t, DeletedText, tombstones[0].Fields["text"])
}

func TestDeleteRequiresMessageID(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemory()
	coord := newTestCoordinator(docs)

	_, err := coord.Send(ctx, "u1", "u2", "hello")
	require.NoError(t, err)

	err = coord.Delete(ctx, Message{}, "u1", "u2")
	require.ErrorIs(t, err, ErrMissingMessageID)

	// nothing was tombstoned: the abort happens before any step runs
	rows, err := docs.List(ctx, "recentMessages/u1/messages")
	require.NoError(t, err)
	require.Equal(t, "hello", rows[0].Fields["text"])
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemory()
	coord := newTestCoordinator(docs)

	msg, err := coord.Send(ctx, "u1", "u2", "gone")
	require.NoError(t, err)

	require.NoError(t, coord.Delete(ctx, msg, "u1", "u2"))
	// deleting an already-deleted message succeeds end to end
	require.NoError(t, coord.Delete(ctx, msg, "u1", "u2"))
}
