package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MeKo-Tech/defectscan/internal/auth"
	"github.com/MeKo-Tech/defectscan/internal/store"
)

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// registerHandler creates a user account.
func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Password == "" || req.Email == "" {
		authAttemptsTotal.WithLabelValues("register", "invalid").Inc()
		writeStatus(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	hash, err := auth.HashPassword(req.Password, s.bcryptCost)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		authAttemptsTotal.WithLabelValues("register", "invalid").Inc()
		writeStatus(w, http.StatusBadRequest,
			fmt.Sprintf("Password must be at most %d bytes", auth.MaxPasswordBytes))
		return
	}
	if err != nil {
		slog.Error("Failed to hash password", "error", err)
		writeStatus(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	u, err := s.users.Create(r.Context(), req.Username, hash, req.Email)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		authAttemptsTotal.WithLabelValues("register", "duplicate").Inc()
		writeStatus(w, http.StatusConflict, "Username or email already exists")
		return
	case err != nil:
		slog.Error("Failed to create user", "username", req.Username, "error", err)
		writeStatus(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	authAttemptsTotal.WithLabelValues("register", "success").Inc()
	slog.Info("User registered", "user_id", u.ID, "username", u.Username)
	writeStatus(w, http.StatusOK, "Registration successful")
}

// loginHandler verifies credentials and issues a token.
func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		authAttemptsTotal.WithLabelValues("login", "invalid").Inc()
		writeStatus(w, http.StatusBadRequest, "Missing username or password")
		return
	}

	u, err := s.users.GetByUsername(r.Context(), req.Username)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("Failed to look up user", "username", req.Username, "error", err)
		writeStatus(w, http.StatusInternalServerError, "Login failed")
		return
	}
	if u == nil || !auth.CheckPassword(u.PasswordHash, req.Password) {
		authAttemptsTotal.WithLabelValues("login", "rejected").Inc()
		writeStatus(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	token, err := s.issuer.Generate(u.ID)
	if err != nil {
		slog.Error("Failed to issue token", "user_id", u.ID, "error", err)
		writeStatus(w, http.StatusInternalServerError, "Login failed")
		return
	}

	authAttemptsTotal.WithLabelValues("login", "success").Inc()
	writeJSON(w, http.StatusOK, LoginResponse{
		Status:  1,
		Message: "Login successful",
		Token:   token,
		User:    UserInfo{ID: u.ID, Username: u.Username, Email: u.Email},
	})
}

// userInfoHandler returns the authenticated user's profile.
func (s *Server) userInfoHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, _ := userIDFrom(r.Context())
	u, err := s.users.GetByID(r.Context(), userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeStatus(w, http.StatusNotFound, "User not found")
		return
	case err != nil:
		slog.Error("Failed to load user", "user_id", userID, "error", err)
		writeStatus(w, http.StatusInternalServerError, err.Error())
		return
	}

	info := UserInfo{ID: u.ID, Username: u.Username, Email: u.Email}
	if !u.CreatedAt.IsZero() {
		info.CreatedAt = u.CreatedAt.Format(store.TimeLayout)
	}
	writeJSON(w, http.StatusOK, UserInfoResponse{Status: 1, User: info})
}
