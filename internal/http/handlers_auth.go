package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"risparmi/internal/auth"
	"risparmi/internal/core"
	"risparmi/internal/storage"
)

const minPasswordLength = 8

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerResponse struct {
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := (core.User{Username: req.Username}).Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Password) < minPasswordLength {
		respondError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to process password")
		return
	}

	user, err := s.repo.CreateUser(r.Context(), req.Username, hash)
	if errors.Is(err, storage.ErrUsernameTaken) {
		respondError(w, http.StatusConflict, "username already taken")
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to create user", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	slog.InfoContext(r.Context(), "User registered", "user", user.Username)
	respondJSON(w, http.StatusCreated, registerResponse{
		Username:  user.Username,
		CreatedAt: user.CreatedAt,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := s.repo.FindUserByUsername(r.Context(), req.Username)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to look up user", "error", err)
		respondError(w, http.StatusInternalServerError, "login failed")
		return
	}

	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.auth.IssueToken(user.Username)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to issue token", "error", err)
		respondError(w, http.StatusInternalServerError, "login failed")
		return
	}

	respondJSON(w, http.StatusOK, loginResponse{Token: token})
}
