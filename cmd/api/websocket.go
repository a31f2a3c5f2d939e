package main

import (
	"html"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"mirrorchat/internal/chat"
	"mirrorchat/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // same-origin policy is enforced upstream
	},
}

// clientCommand is what a connected client may ask for mid-conversation.
type clientCommand struct {
	Type      string `json:"type"` // "send" or "delete"
	Text      string `json:"text,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

// viewUpdate is pushed to the client whenever the projected view changes.
type viewUpdate struct {
	Revision uint64         `json:"revision"`
	State    string         `json:"state"`
	Messages []chat.Message `json:"messages"`
	Error    string         `json:"error,omitempty"`
}

// handleConversationSocket opens one conversation as a websocket session: a
// projector materializes the live view and every change is pushed to the
// client; sends and deletes arriving from the client go through the
// coordinator. The projector lives exactly as long as the socket.
func (s *Server) handleConversationSocket(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing auth claims")
		return
	}
	peerID := mux.Vars(r)["peerId"]

	proj, err := chat.OpenProjector(r.Context(), s.logs, claims.UserID, peerID)
	if err != nil {
		log.Printf("open projector for %s/%s failed: %v", claims.UserID, peerID, err)
		writeError(w, http.StatusBadGateway, "failed to open conversation stream")
		return
	}
	defer proj.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	// status strings from best-effort operations the client asked for
	status := make(chan string, 8)
	done := make(chan struct{})

	// read pump: client commands until the socket drops
	go func() {
		defer close(done)
		for {
			var cmd clientCommand
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			switch cmd.Type {
			case "send":
				// fire-and-forget from the view's perspective: the result
				// lands in the store and flows back through the stream
				if _, err := s.coord.Send(r.Context(), claims.UserID, peerID, html.EscapeString(cmd.Text)); err != nil {
					select {
					case status <- err.Error():
					default:
					}
				}
			case "delete":
				err := s.coord.Delete(r.Context(), chat.Message{ID: cmd.MessageID}, claims.UserID, peerID)
				if err != nil {
					select {
					case status <- err.Error():
					default:
					}
				}
				// local removal is unconditional, whatever the remote outcome
				proj.Discard(cmd.MessageID)
			}
		}
	}()

	send := func(errText string) bool {
		update := viewUpdate{
			Revision: proj.Revision(),
			State:    proj.State().String(),
			Messages: proj.Messages(),
			Error:    errText,
		}
		if err := proj.Err(); err != nil && update.Error == "" {
			update.Error = err.Error()
		}
		return conn.WriteJSON(update) == nil
	}

	// initial snapshot, then one update per applied change
	if !send("") {
		return
	}
	for {
		select {
		case <-proj.Updates():
			if !send("") {
				return
			}
			if proj.State() == chat.StateErrored {
				return
			}
		case msg := <-status:
			if !send(msg) {
				return
			}
		case <-done:
			return
		}
	}
}
