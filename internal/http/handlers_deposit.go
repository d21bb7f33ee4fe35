package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"risparmi/internal/amqp"
	"risparmi/internal/auth"
	"risparmi/internal/core"
	"risparmi/internal/storage"
)

const dateLayout = "2006-01-02"

type createDepositRequest struct {
	Date         string   `json:"date"`
	Amount       float64  `json:"amount"`
	IsTotal      bool     `json:"is_total"`
	CurrentTotal *float64 `json:"current_total"`
}

type depositResponse struct {
	ID           int64    `json:"id"`
	Date         string   `json:"date"`
	Amount       float64  `json:"amount"`
	IsTotal      bool     `json:"is_total"`
	CurrentTotal *float64 `json:"current_total,omitempty"`
}

type depositListResponse struct {
	Deposits []depositResponse `json:"deposits"`
	Count    int               `json:"count"`
}

func toDepositResponse(rec core.DepositRecord) depositResponse {
	return depositResponse{
		ID:           rec.ID,
		Date:         rec.Date.Format(dateLayout),
		Amount:       rec.Amount,
		IsTotal:      rec.IsTotal,
		CurrentTotal: rec.CurrentTotal,
	}
}

// publish notifies the backup worker; failures are logged, never surfaced,
// because the periodic backlog scan picks up what the queue misses.
func (s *Server) publish(ctx context.Context, msg *amqp.ExportMessage) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish export message",
			"kind", msg.Kind, "error", err)
	}
}

func (s *Server) handleCreateDeposit(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing user")
		return
	}

	var req createDepositRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	// A non-zero asserted balance implies a total record even when the
	// flag is unset; a zero value without the flag is discarded.
	if req.CurrentTotal != nil && *req.CurrentTotal != 0 {
		req.IsTotal = true
	}
	if !req.IsTotal {
		req.CurrentTotal = nil
	}

	rec := core.DepositRecord{
		User:         user,
		Date:         date,
		Amount:       req.Amount,
		IsTotal:      req.IsTotal,
		CurrentTotal: req.CurrentTotal,
	}

	saved, err := s.repo.SaveDeposit(r.Context(), rec)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrInvalidAmount),
			errors.Is(err, core.ErrInvalidDate),
			errors.Is(err, core.ErrEmptyUser),
			errors.Is(err, core.ErrTotalMismatch):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			slog.ErrorContext(r.Context(), "Failed to save deposit", "user", user, "error", err)
			respondError(w, http.StatusInternalServerError, "failed to save deposit")
		}
		return
	}

	s.publish(r.Context(), amqp.NewDepositSyncMessage(saved.ID, 1))

	slog.InfoContext(r.Context(), "Deposit saved",
		"user", user, "deposit_id", saved.ID, "amount", saved.Amount, "is_total", saved.IsTotal)
	respondJSON(w, http.StatusCreated, toDepositResponse(saved))
}

func (s *Server) handleListDeposits(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing user")
		return
	}

	records, err := s.repo.ListDeposits(r.Context(), user)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list deposits", "user", user, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list deposits")
		return
	}

	resp := depositListResponse{Deposits: make([]depositResponse, 0, len(records)), Count: len(records)}
	for _, rec := range records {
		resp.Deposits = append(resp.Deposits, toDepositResponse(rec))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteDeposit(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing user")
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid deposit id")
		return
	}

	err = s.repo.DeleteDeposit(r.Context(), user, id)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "deposit not found")
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to delete deposit",
			"user", user, "deposit_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to delete deposit")
		return
	}

	s.publish(r.Context(), amqp.NewUserMirrorMessage(user))

	slog.InfoContext(r.Context(), "Deposit deleted", "user", user, "deposit_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteAllDeposits(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing user")
		return
	}

	deleted, err := s.repo.DeleteAllDeposits(r.Context(), user)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to delete deposits", "user", user, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to delete deposits")
		return
	}

	s.publish(r.Context(), amqp.NewUserMirrorMessage(user))

	slog.InfoContext(r.Context(), "Deposit log cleared", "user", user, "deleted", deleted)
	respondJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}
