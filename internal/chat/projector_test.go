package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mirrorchat/internal/store"
)

// fakeSub hands the projector a scripted event stream.
type fakeSub struct {
	ch     chan store.Event
	err    error
	closed int
}

func (f *fakeSub) Events() <-chan store.Event { return f.ch }
func (f *fakeSub) Err() error                 { return f.err }
func (f *fakeSub) Close() error {
	f.closed++
	return nil
}

type fakeSource struct {
	sub    store.Subscription
	subErr error
}

func (f *fakeSource) Subscribe(ctx context.Context, ownerID, peerID string) (store.Subscription, error) {
	if f.subErr != nil {
		return nil, f.subErr
	}
	return f.sub, nil
}

func addedEvent(id, from, to, text string, ts time.Time) store.Event {
	return store.Event{Type: store.Added, Doc: store.Document{
		ID:        id,
		Timestamp: ts,
		Fields:    map[string]any{"fromId": from, "toId": to, "text": text},
	}}
}

func waitForRevision(t *testing.T, p *Projector, want uint64) {
	t.Helper()
	require.Eventually(t, func() bool { return p.Revision() >= want },
		2*time.Second, 5*time.Millisecond)
}

func TestProjectorOrdersOutOfOrderEvents(t *testing.T) {
	base := time.Now()
	sub := &fakeSub{ch: make(chan store.Event, 8)}
	p, err := OpenProjector(context.Background(), &fakeSource{sub: sub}, "u1", "u2")
	require.NoError(t, err)
	defer p.Close()

	// delivery order t3, t1, t2; view must still read t1, t2, t3
	sub.ch <- addedEvent("m3", "u1", "u2", "third", base.Add(3*time.Second))
	sub.ch <- addedEvent("m1", "u1", "u2", "first", base.Add(1*time.Second))
	sub.ch <- addedEvent("m2", "u2", "u1", "second", base.Add(2*time.Second))

	waitForRevision(t, p, 3)
	msgs := p.Messages()
	require.Len(t, msgs, 3)
	require.Equal(t, []string{"m1", "m2", "m3"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestProjectorIgnoresModifiedAndDuplicates(t *testing.T) {
	base := time.Now()
	sub := &fakeSub{ch: make(chan store.Event, 8)}
	p, err := OpenProjector(context.Background(), &fakeSource{sub: sub}, "u1", "u2")
	require.NoError(t, err)
	defer p.Close()

	sub.ch <- addedEvent("m1", "u1", "u2", "hello", base)
	waitForRevision(t, p, 1)

	// duplicate add and a modification both leave the view untouched
	sub.ch <- addedEvent("m1", "u1", "u2", "hello", base)
	sub.ch <- store.Event{Type: store.Modified, Doc: store.Document{
		ID: "m1", Timestamp: base, Fields: map[string]any{"fromId": "u1", "toId": "u2", "text": "edited"},
	}}
	sub.ch <- addedEvent("m2", "u1", "u2", "next", base.Add(time.Second))

	waitForRevision(t, p, 2)
	msgs := p.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "hello", msgs[0].Text, "modifications are ignored")
	require.Equal(t, uint64(2), p.Revision())
}

func TestProjectorRemovesByID(t *testing.T) {
	base := time.Now()
	sub := &fakeSub{ch: make(chan store.Event, 8)}
	p, err := OpenProjector(context.Background(), &fakeSource{sub: sub}, "u1", "u2")
	require.NoError(t, err)
	defer p.Close()

	sub.ch <- addedEvent("m1", "u1", "u2", "one", base)
	sub.ch <- addedEvent("m2", "u1", "u2", "two", base.Add(time.Second))
	waitForRevision(t, p, 2)

	sub.ch <- store.Event{Type: store.Removed, Doc: store.Document{ID: "m1"}}
	waitForRevision(t, p, 3)

	msgs := p.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "m2", msgs[0].ID)

	// removal of an unknown id is a no-op
	sub.ch <- store.Event{Type: store.Removed, Doc: store.Document{ID: "ghost"}}
	sub.ch <- addedEvent("m3", "u1", "u2", "three", base.Add(2*time.Second))
	waitForRevision(t, p, 4)
	require.Len(t, p.Messages(), 2)
}

func TestProjectorSkipsMalformedEvents(t *testing.T) {
	base := time.Now()
	sub := &fakeSub{ch: make(chan store.Event, 8)}
	p, err := OpenProjector(context.Background(), &fakeSource{sub: sub}, "u1", "u2")
	require.NoError(t, err)
	defer p.Close()

	// payload without the message shape: skipped, stream continues
	sub.ch <- store.Event{Type: store.Added, Doc: store.Document{
		ID: "bad", Timestamp: base, Fields: map[string]any{"unexpected": true},
	}}
	sub.ch <- addedEvent("m1", "u1", "u2", "fine", base.Add(time.Second))

	waitForRevision(t, p, 1)
	msgs := p.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "m1", msgs[0].ID)
	require.Equal(t, StateLive, p.State())
}

func TestProjectorSoftDeleteFilter(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemory()
	coord := newTestCoordinator(docs)
	logs := NewConversationLog(docs)

	_, err := coord.Send(ctx, "u1", "u2", "DELETE")
	require.NoError(t, err)
	_, err = coord.Send(ctx, "u1", "u2", "visible")
	require.NoError(t, err)

	// the marker is persisted in the log...
	stored, err := docs.List(ctx, "messages/u1/u2")
	require.NoError(t, err)
	require.Len(t, stored, 2)

	// ...but never surfaces in the projected view, regardless of case
	p, err := OpenProjector(ctx, logs, "u1", "u2")
	require.NoError(t, err)
	defer p.Close()

	waitForRevision(t, p, 1)
	msgs := p.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "visible", msgs[0].Text)
}

func TestProjectorDeleteThenReopenNeverShowsMessage(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemory()
	coord := newTestCoordinator(docs)
	logs := NewConversationLog(docs)

	doomed, err := coord.Send(ctx, "u1", "u2", "doomed")
	require.NoError(t, err)
	_, err = coord.Send(ctx, "u1", "u2", "kept")
	require.NoError(t, err)

	require.NoError(t, coord.Delete(ctx, doomed, "u1", "u2"))

	// the view is rebuilt from scratch on reopen; the deleted message is gone
	p, err := OpenProjector(ctx, logs, "u1", "u2")
	require.NoError(t, err)
	defer p.Close()

	waitForRevision(t, p, 1)
	msgs := p.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "kept", msgs[0].Text)
}

func TestProjectorLiveEndToEnd(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemory()
	coord := newTestCoordinator(docs)
	logs := NewConversationLog(docs)

	// both participants' open views see a send
	sender, err := OpenProjector(ctx, logs, "u1", "u2")
	require.NoError(t, err)
	defer sender.Close()
	recipient, err := OpenProjector(ctx, logs, "u2", "u1")
	require.NoError(t, err)
	defer recipient.Close()

	_, err = coord.Send(ctx, "u1", "u2", "hi")
	require.NoError(t, err)

	waitForRevision(t, sender, 1)
	waitForRevision(t, recipient, 1)
	require.Equal(t, "hi", sender.Messages()[0].Text)
	require.Equal(t, "hi", recipient.Messages()[0].Text)
}

func TestProjectorDiscard(t *testing.T) {
	base := time.Now()
	sub := &fakeSub{ch: make(chan store.Event, 8)}
	p, err := OpenProjector(context.Background(), &fakeSource{sub: sub}, "u1", "u2")
	require.NoError(t, err)
	defer p.Close()

	sub.ch <- addedEvent("m1", "u1", "u2", "hi", base)
	waitForRevision(t, p, 1)

	// optimistic local removal, before any Removed event arrives
	p.Discard("m1")
	require.Empty(t, p.Messages())
	require.Equal(t, uint64(2), p.Revision())

	// the eventual stream event for the same id is a no-op
	sub.ch <- store.Event{Type: store.Removed, Doc: store.Document{ID: "m1"}}
	sub.ch <- addedEvent("m2", "u1", "u2", "next", base.Add(time.Second))
	waitForRevision(t, p, 3)
	require.Len(t, p.Messages(), 1)
}

func TestProjectorCloseIsIdempotent(t *testing.T) {
	sub := &fakeSub{ch: make(chan store.Event, 1)}
	p, err := OpenProjector(context.Background(), &fakeSource{sub: sub}, "u1", "u2")
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	require.Equal(t, StateClosed, p.State())
	require.Equal(t, 2, sub.closed)

	// events after close no longer touch the view
	sub.ch <- addedEvent("m1", "u1", "u2", "late", time.Now())
	close(sub.ch)
	require.Eventually(t, func() bool { return len(p.Messages()) == 0 }, time.Second, 5*time.Millisecond)
	require.Equal(t, uint64(0), p.Revision())
}

func TestProjectorStreamErrorIsTerminal(t *testing.T) {
	streamErr := errors.New("stream torn down")
	sub := &fakeSub{ch: make(chan store.Event, 1), err: streamErr}
	p, err := OpenProjector(context.Background(), &fakeSource{sub: sub}, "u1", "u2")
	require.NoError(t, err)

	close(sub.ch)
	require.Eventually(t, func() bool { return p.State() == StateErrored },
		time.Second, 5*time.Millisecond)
	require.ErrorIs(t, p.Err(), streamErr)

	// no automatic reconnect: the projector stays errored
	require.NoError(t, p.Close())
	require.Equal(t, StateErrored, p.State())
}

func TestProjectorOpenFailure(t *testing.T) {
	subErr := errors.New("subscribe refused")
	_, err := OpenProjector(context.Background(), &fakeSource{subErr: subErr}, "u1", "u2")
	require.ErrorIs(t, err, subErr)
}
