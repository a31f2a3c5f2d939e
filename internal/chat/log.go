package chat

import (
	"context"
	"errors"
	"log"
	"strings"

	"mirrorchat/internal/store"
)

// ConversationLog is the ordered message history between two parties, stored
// under the owner's namespace keyed by peer. Every logical message exists
// twice, once per participant's namespace; this type only ever touches the
// one it is addressed with — mirroring is the coordinator's job.
type ConversationLog struct {
	store store.Store
}

// NewConversationLog returns a log over the given store.
func NewConversationLog(s store.Store) *ConversationLog {
	return &ConversationLog{store: s}
}

// Append writes one message into owner's log for peer and returns it with the
// store-assigned id and timestamp filled in. The message's FromID/ToID record
// the true direction, which for a mirrored copy is the reverse of the
// owner/peer orientation.
func (l *ConversationLog) Append(ctx context.Context, ownerID, peerID string, m Message) (Message, error) {
	if strings.TrimSpace(m.Text) == "" {
		return Message{}, ErrEmptyText
	}
	if ownerID == "" || peerID == "" {
		return Message{}, ErrNotAuthenticated
	}

	id, ts, err := l.store.Add(ctx, messagesPath(ownerID, peerID), map[string]any{
		fieldFromID: m.FromID,
		fieldToID:   m.ToID,
		fieldText:   m.Text,
	})
	if err != nil {
		return Message{}, err
	}
	m.ID = id
	m.Timestamp = ts
	return m, nil
}

// Remove deletes one message document from owner's log. Deleting a message
// that is already gone is a success: deletion is idempotent.
func (l *ConversationLog) Remove(ctx context.Context, ownerID, peerID, messageID string) error {
	if messageID == "" {
		return ErrMissingMessageID
	}
	err := l.store.Delete(ctx, messagesPath(ownerID, peerID), messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// Subscribe opens a live change stream over owner's log for peer, ordered by
// creation timestamp. The caller must Close the subscription when the
// conversation view is torn down.
func (l *ConversationLog) Subscribe(ctx context.Context, ownerID, peerID string) (store.Subscription, error) {
	return l.store.Subscribe(ctx, messagesPath(ownerID, peerID))
}

// Messages returns the current contents of owner's log for peer, oldest
// first. Documents that fail to decode are skipped and logged.
func (l *ConversationLog) Messages(ctx context.Context, ownerID, peerID string) ([]Message, error) {
	docs, err := l.store.List(ctx, messagesPath(ownerID, peerID))
	if err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(docs))
	for _, doc := range docs {
		m, err := messageFromDoc(doc)
		if err != nil {
			log.Printf("chat: skipping malformed message in %s: %v", messagesPath(ownerID, peerID), err)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
