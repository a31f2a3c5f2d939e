package main

import (
	"net/http"

	"github.com/gorilla/mux"

	"mirrorchat/internal/auth"
	"mirrorchat/internal/chat"
	"mirrorchat/internal/directory"
	"mirrorchat/internal/middleware"
)

// Server is the HTTP/WebSocket gateway over the chat engine. It owns no
// chat semantics of its own: every send and delete goes through the
// coordinator, every live view through a projector.
type Server struct {
	dir    directory.Directory
	logs   *chat.ConversationLog
	recent *chat.RecentIndex
	coord  *chat.Coordinator
	auth   *auth.JWTManager
}

// newServer returns a gateway wired with its collaborators.
func newServer(dir directory.Directory, logs *chat.ConversationLog, recent *chat.RecentIndex, coord *chat.Coordinator, jwtMgr *auth.JWTManager) *Server {
	return &Server{dir: dir, logs: logs, recent: recent, coord: coord, auth: jwtMgr}
}

// routes assembles the router. Register and login are rate limited; every
// other route requires a valid token.
func (s *Server) routes(limiter *middleware.LimiterStore) *mux.Router {
	r := mux.NewRouter()

	r.Handle("/api/register", middleware.RateLimit(limiter, http.HandlerFunc(s.handleRegister))).Methods(http.MethodPost)
	r.Handle("/api/login", middleware.RateLimit(limiter, http.HandlerFunc(s.handleLogin))).Methods(http.MethodPost)

	authed := func(h http.HandlerFunc) http.Handler {
		return middleware.Authenticate(s.auth, h)
	}
	r.Handle("/api/users", authed(s.handleListUsers)).Methods(http.MethodGet)
	r.Handle("/api/conversations", authed(s.handleListConversations)).Methods(http.MethodGet)
	r.Handle("/api/messages", authed(s.handleSendMessage)).Methods(http.MethodPost)
	r.Handle("/api/messages", authed(s.handleDeleteMessage)).Methods(http.MethodDelete)
	r.Handle("/api/conversations/{peerId}/history", authed(s.handleHistory)).Methods(http.MethodGet)
	r.Handle("/api/conversations/{peerId}/ws", authed(s.handleConversationSocket)).Methods(http.MethodGet)

	return r
}
