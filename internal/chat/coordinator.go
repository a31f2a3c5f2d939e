package chat

import (
	"context"
	"fmt"
	"log"
	"strings"

	"mirrorchat/internal/directory"
)

// Coordinator is the only component that writes to both the conversation
// logs and the recent-conversation index. Every user-visible send or delete
// fans out to four denormalized locations: the sender's log, the recipient's
// mirrored log, and both participants' inbox entries.
//
// The fan-out is not transactional. Steps are issued in a fixed order and a
// failed step does not stop later independent steps, so partial completion is
// possible (the sender may see a message the recipient never received). Each
// step's failure is logged distinctly and the first one is returned to the
// caller; nothing is rolled back and nothing is retried here.
//
// A single Coordinator issues operations for one (from, to) pair in call
// order. Nothing orders operations across coordinator instances.
type Coordinator struct {
	logs   *ConversationLog
	recent *RecentIndex
	dir    directory.Resolver
}

// NewCoordinator wires a coordinator over the given log, index and profile
// resolver.
func NewCoordinator(logs *ConversationLog, recent *RecentIndex, dir directory.Resolver) *Coordinator {
	return &Coordinator{logs: logs, recent: recent, dir: dir}
}

// Send delivers one message from fromID to toID. On success the returned
// Message is the sender-side copy with its store-assigned id and timestamp.
// On partial failure the first failed step's error is returned; steps that
// did succeed are left in place.
func (c *Coordinator) Send(ctx context.Context, fromID, toID, text string) (Message, error) {
	if fromID == "" {
		return Message{}, ErrNotAuthenticated
	}
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrEmptyText
	}

	// both parties must resolve before anything is written; a send to an
	// unknown recipient is fatal, unlike deletes
	sender, err := c.dir.GetProfile(ctx, fromID)
	if err != nil {
		return Message{}, fmt.Errorf("chat: resolve sender %s: %w", fromID, err)
	}
	recipient, err := c.dir.GetProfile(ctx, toID)
	if err != nil {
		return Message{}, fmt.Errorf("chat: resolve recipient %s: %w", toID, err)
	}

	var firstErr error
	fail := func(step string, err error) {
		stepErr := &StepError{Step: step, Err: err}
		log.Printf("%v", stepErr)
		if firstErr == nil {
			firstErr = stepErr
		}
	}

	msg := Message{FromID: fromID, ToID: toID, Text: text}

	// step 1: sender's log
	saved, err := c.logs.Append(ctx, fromID, toID, msg)
	if err != nil {
		fail("sender log write", err)
	}

	// step 2: recipient's mirrored log, attempted even if step 1 failed so
	// the recipient still gets the message
	if _, err := c.logs.Append(ctx, toID, fromID, msg); err != nil {
		fail("recipient log write", err)
	}

	// step 3: sender's inbox entry shows the recipient's display fields
	if err := c.recent.Upsert(ctx, fromID, toID, Entry{
		Text:            text,
		FromID:          fromID,
		ToID:            toID,
		Email:           recipient.Email,
		ProfileImageURL: recipient.ProfileImageURL,
	}); err != nil {
		fail("sender recent entry", err)
	}

	// step 4: recipient's inbox entry shows the sender's display fields
	if err := c.recent.Upsert(ctx, toID, fromID, Entry{
		Text:            text,
		FromID:          fromID,
		ToID:            toID,
		Email:           sender.Email,
		ProfileImageURL: sender.ProfileImageURL,
	}); err != nil {
		fail("recipient recent entry", err)
	}

	return saved, firstErr
}

// Delete removes a message from both participants' logs and overwrites both
// inbox entries with the deletion tombstone. A message that was never
// persisted cannot be deleted remotely; that is the only condition that
// aborts the whole operation. Callers remove the message from their own open
// view unconditionally (see Projector.Discard) — remote outcomes do not gate
// the local removal.
func (c *Coordinator) Delete(ctx context.Context, m Message, fromID, toID string) error {
	if fromID == "" {
		return ErrNotAuthenticated
	}
	if m.ID == "" {
		return ErrMissingMessageID
	}

	// display fields for the tombstones; lookups are best-effort here since
	// a missing profile should not keep a deletion from propagating
	sender, err := c.dir.GetProfile(ctx, fromID)
	if err != nil {
		log.Printf("chat: tombstone profile lookup for %s failed: %v", fromID, err)
	}
	recipient, err := c.dir.GetProfile(ctx, toID)
	if err != nil {
		log.Printf("chat: tombstone profile lookup for %s failed: %v", toID, err)
	}

	var firstErr error
	fail := func(step string, err error) {
		stepErr := &StepError{Step: step, Err: err}
		log.Printf("%v", stepErr)
		if firstErr == nil {
			firstErr = stepErr
		}
	}

	if err := c.logs.Remove(ctx, fromID, toID, m.ID); err != nil {
		fail("sender log delete", err)
	}
	if err := c.logs.Remove(ctx, toID, fromID, m.ID); err != nil {
		fail("recipient log delete", err)
	}

	if err := c.recent.MarkDeleted(ctx, fromID, toID, Entry{
		FromID:          fromID,
		ToID:            toID,
		Email:           recipient.Email,
		ProfileImageURL: recipient.ProfileImageURL,
	}); err != nil {
		fail("sender recent tombstone", err)
	}
	if err := c.recent.MarkDeleted(ctx, toID, fromID, Entry{
		FromID:          fromID,
		ToID:            toID,
		Email:           sender.Email,
		ProfileImageURL: sender.ProfileImageURL,
	}); err != nil {
		fail("recipient recent tombstone", err)
	}

	return firstErr
}
