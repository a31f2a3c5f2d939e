package chat

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"

	"mirrorchat/internal/store"
)

// ChangeSource is anything a projector can subscribe to; in production this
// is a *ConversationLog.
type ChangeSource interface {
	Subscribe(ctx context.Context, ownerID, peerID string) (store.Subscription, error)
}

// ProjectorState tracks one projector's lifecycle.
type ProjectorState int32

const (
	StateIdle ProjectorState = iota
	StateSubscribing
	StateLive
	StateClosed
	// StateErrored is terminal: a failed stream is not reconnected, the
	// caller must open a fresh projector.
	StateErrored
)

func (s ProjectorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribing:
		return "subscribing"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

// Projector bridges one conversation log's change stream into an in-memory
// ordered message list plus a monotonic revision counter that drives UI
// refresh and scroll-to-bottom. The view lives exactly as long as one open
// conversation: it starts empty, is discarded on Close, and is rebuilt from
// scratch by opening a new projector.
type Projector struct {
	mu        sync.Mutex
	state     ProjectorState
	view      []Message
	revision  uint64
	streamErr error

	sub     store.Subscription
	updates chan struct{}
}

// OpenProjector starts an empty view over (ownerID, peerID), opens the
// change subscription and begins applying events. The returned projector is
// Live; the caller owns it and must Close it when the conversation view is
// torn down.
func OpenProjector(ctx context.Context, src ChangeSource, ownerID, peerID string) (*Projector, error) {
	p := &Projector{
		state:   StateSubscribing,
		updates: make(chan struct{}, 1),
	}
	sub, err := src.Subscribe(ctx, ownerID, peerID)
	if err != nil {
		p.state = StateErrored
		p.streamErr = err
		return nil, err
	}
	p.sub = sub
	p.state = StateLive
	go p.pump(sub)
	return p, nil
}

func (p *Projector) pump(sub store.Subscription) {
	for ev := range sub.Events() {
		p.apply(ev)
	}
	if err := sub.Err(); err != nil {
		p.mu.Lock()
		if p.state == StateLive {
			p.state = StateErrored
			p.streamErr = err
		}
		p.mu.Unlock()
		p.notify()
	}
}

func (p *Projector) apply(ev store.Event) {
	switch ev.Type {
	case store.Added:
		m, err := messageFromDoc(ev.Doc)
		if err != nil {
			// skipped, not fatal: the stream keeps going
			log.Printf("chat: projector skipping event: %v", err)
			return
		}
		// legacy soft-delete convention: stored but never displayed
		if strings.EqualFold(m.Text, softDeleteMarker) {
			return
		}
		p.insert(m)
	case store.Modified:
		// messages are immutable; edits are not a thing this view renders
	case store.Removed:
		p.remove(ev.Doc.ID)
	}
}

// insert places m in timestamp order. The store delivers events in creation
// order so this is normally an append, but a racing stream may hand events
// out of order and the view must still end up sorted.
func (p *Projector) insert(m Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateLive {
		return
	}
	for _, existing := range p.view {
		if existing.ID == m.ID {
			return
		}
	}
	i := sort.Search(len(p.view), func(i int) bool {
		return p.view[i].Timestamp.After(m.Timestamp)
	})
	p.view = append(p.view, Message{})
	copy(p.view[i+1:], p.view[i:])
	p.view[i] = m
	p.revision++
	p.notify()
}

func (p *Projector) remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateLive {
		return
	}
	for i := range p.view {
		if p.view[i].ID == id {
			p.view = append(p.view[:i], p.view[i+1:]...)
			p.revision++
			p.notify()
			return
		}
	}
}

// Discard removes a message from the view immediately, without waiting for
// the store's Removed event. Used for optimistic local removal on delete;
// the eventual stream event for the same id becomes a no-op.
func (p *Projector) Discard(messageID string) {
	p.remove(messageID)
}

// Messages returns a copy of the current view, ordered by creation time.
func (p *Projector) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.view))
	copy(out, p.view)
	return out
}

// Revision returns the change counter. It increases on every applied change,
// so a UI can compare revisions to decide whether to re-render and scroll.
func (p *Projector) Revision() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.revision
}

// State reports the lifecycle state.
func (p *Projector) State() ProjectorState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the stream error once the projector is Errored.
func (p *Projector) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streamErr
}

// Updates signals after every applied change (coalesced). Receivers read the
// current view and revision when woken.
func (p *Projector) Updates() <-chan struct{} {
	return p.updates
}

func (p *Projector) notify() {
	select {
	case p.updates <- struct{}{}:
	default:
	}
}

// Close releases the subscription and freezes the view. Safe to call more
// than once; closing an errored projector leaves it errored.
func (p *Projector) Close() error {
	p.mu.Lock()
	if p.state == StateLive || p.state == StateSubscribing {
		p.state = StateClosed
	}
	sub := p.sub
	p.mu.Unlock()
	if sub != nil {
		return sub.Close()
	}
	return nil
}
