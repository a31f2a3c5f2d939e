// Package chat implements the message synchronization and conversation-state
// engine: per-conversation logs, the recent-conversation index, the dual-write
// coordinator that keeps both participants' copies in step, and the live view
// projector that materializes a change stream into a renderable message list.
package chat

import (
	"fmt"
	"strings"
	"time"

	"mirrorchat/internal/store"
)

// Document field names. The layout is shared with the pre-existing mobile
// client, so these are wire constants, not free to change.
const (
	fieldFromID          = "fromId"
	fieldToID            = "toId"
	fieldText            = "text"
	fieldEmail           = "email"
	fieldProfileImageURL = "profileImageUrl"
)

// DeletedText is the sentinel a recent-conversation entry is overwritten with
// when the last message of the pair is deleted.
const DeletedText = "Message was deleted"

// softDeleteMarker is a legacy display convention: messages whose text equals
// this string (case-insensitively) are stored but never shown. Preserved for
// compatibility with existing clients; do not extend.
const softDeleteMarker = "delete"

// messagesPath is the conversation log collection for owner's view of peer.
func messagesPath(ownerID, peerID string) string {
	return "messages/" + ownerID + "/" + peerID
}

// recentPath is the recent-conversation collection for owner. Entries within
// it are keyed by peer id.
func recentPath(ownerID string) string {
	return "recentMessages/" + ownerID + "/messages"
}

// Message is one chat message. ID and Timestamp are store-assigned and empty
// until the message has been persisted. Messages are never edited.
type Message struct {
	ID        string    `json:"id"`
	FromID    string    `json:"fromId"`
	ToID      string    `json:"toId"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// messageFromDoc decodes a stored document into a Message. A document that
// does not carry the expected shape yields ErrDecode; callers on a stream
// skip such events rather than failing the stream.
func messageFromDoc(doc store.Document) (Message, error) {
	fromID, ok1 := doc.Fields[fieldFromID].(string)
	toID, ok2 := doc.Fields[fieldToID].(string)
	text, ok3 := doc.Fields[fieldText].(string)
	if !ok1 || !ok2 || !ok3 {
		return Message{}, fmt.Errorf("%w: document %s", ErrDecode, doc.ID)
	}
	return Message{
		ID:        doc.ID,
		FromID:    fromID,
		ToID:      toID,
		Text:      text,
		Timestamp: doc.Timestamp,
	}, nil
}

// RecentMessage is one inbox row: the latest message state for an
// (owner, peer) pair plus the peer's denormalized display fields.
type RecentMessage struct {
	PeerID          string    `json:"peerId"`
	FromID          string    `json:"fromId"`
	ToID            string    `json:"toId"`
	Text            string    `json:"text"`
	Email           string    `json:"email"`
	ProfileImageURL string    `json:"profileImageUrl"`
	Timestamp       time.Time `json:"timestamp"`
}

func recentFromDoc(doc store.Document) (RecentMessage, error) {
	text, ok := doc.Fields[fieldText].(string)
	if !ok {
		return RecentMessage{}, fmt.Errorf("%w: recent entry %s", ErrDecode, doc.ID)
	}
	fromID, _ := doc.Fields[fieldFromID].(string)
	toID, _ := doc.Fields[fieldToID].(string)
	email, _ := doc.Fields[fieldEmail].(string)
	avatar, _ := doc.Fields[fieldProfileImageURL].(string)
	return RecentMessage{
		PeerID:          doc.ID,
		FromID:          fromID,
		ToID:            toID,
		Text:            text,
		Email:           email,
		ProfileImageURL: avatar,
		Timestamp:       doc.Timestamp,
	}, nil
}

// Username derives a display name from the peer's email: the local part with
// its first letter capitalized. Computed at read time, never stored.
func (r RecentMessage) Username() string {
	local, _, _ := strings.Cut(r.Email, "@")
	if local == "" {
		return ""
	}
	return strings.ToUpper(local[:1]) + local[1:]
}

// TimeAgo renders the entry's timestamp relative to now, in the abbreviated
// style the inbox displays ("just now", "5m ago", "3d ago").
func (r RecentMessage) TimeAgo(now time.Time) string {
	d := now.Sub(r.Timestamp)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	case d < 365*24*time.Hour:
		return fmt.Sprintf("%dw ago", int(d.Hours()/(24*7)))
	default:
		return fmt.Sprintf("%dy ago", int(d.Hours()/(24*365)))
	}
}
