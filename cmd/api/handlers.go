package main

import (
	"encoding/json"
	"errors"
	"html"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"mirrorchat/internal/chat"
	"mirrorchat/internal/directory"
	"mirrorchat/internal/middleware"
)

type credentialsRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ProfileImageURL string `json:"profileImageUrl,omitempty"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type sendRequest struct {
	ToID string `json:"toId"`
	Text string `json:"text"`
}

type deleteRequest struct {
	MessageID string `json:"messageId"`
	ToID      string `json:"toId"`
}

// conversationRow is one inbox row with the read-time derived fields filled in.
type conversationRow struct {
	chat.RecentMessage
	Username string `json:"username"`
	TimeAgo  string `json:"timeAgo"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Printf("write response: %v", err)
		}
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// handleRegister creates an account and returns a token.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	profile, err := s.dir.Register(r.Context(), req.Email, req.Password, req.ProfileImageURL)
	if err != nil {
		if errors.Is(err, directory.ErrUserExists) {
			writeError(w, http.StatusConflict, "user already exists")
			return
		}
		log.Printf("register failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	token, expiresAt, err := s.auth.GenerateToken(profile.ID, profile.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{Token: token, UserID: profile.ID, ExpiresAt: expiresAt})
}

// handleLogin authenticates a user and returns a token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	profile, err := s.dir.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) || errors.Is(err, directory.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		log.Printf("login failed: %v", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	token, expiresAt, err := s.auth.GenerateToken(profile.ID, profile.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, UserID: profile.ID, ExpiresAt: expiresAt})
}

// handleListUsers returns everyone except the caller, for the new-message picker.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing auth claims")
		return
	}

	users, err := s.dir.ListUsers(r.Context(), claims.UserID)
	if err != nil {
		log.Printf("list users failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// handleListConversations returns the caller's inbox, most recent first.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing auth claims")
		return
	}

	rows, err := s.recent.List(r.Context(), claims.UserID)
	if err != nil {
		log.Printf("list conversations failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to read recent conversations")
		return
	}

	now := time.Now()
	out := make([]conversationRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, conversationRow{
			RecentMessage: row,
			Username:      row.Username(),
			TimeAgo:       row.TimeAgo(now),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSendMessage fans one message out through the coordinator.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing auth claims")
		return
	}
	var req sendRequest
	if !decodeBody(w, r, &req) {
		return
	}

	msg, err := s.coord.Send(r.Context(), claims.UserID, req.ToID, html.EscapeString(req.Text))
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyText):
			writeError(w, http.StatusBadRequest, "message text must not be empty")
		case errors.Is(err, directory.ErrUserNotFound):
			writeError(w, http.StatusNotFound, "recipient not found")
		default:
			// partial failures are already logged per step by the coordinator
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// handleDeleteMessage mirrors a deletion through the coordinator.
func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing auth claims")
		return
	}
	var req deleteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	err := s.coord.Delete(r.Context(), chat.Message{ID: req.MessageID}, claims.UserID, req.ToID)
	if err != nil {
		if errors.Is(err, chat.ErrMissingMessageID) {
			writeError(w, http.StatusBadRequest, "message id is required")
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHistory returns the caller's log for one peer, oldest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing auth claims")
		return
	}
	peerID := mux.Vars(r)["peerId"]

	msgs, err := s.logs.Messages(r.Context(), claims.UserID, peerID)
	if err != nil {
		log.Printf("history failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
