package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"risparmi/internal/auth"
	"risparmi/internal/core"
	"risparmi/internal/projection"
)

// defaultForecastYears is the horizon used when the query omits one.
const defaultForecastYears = 10

type historyResponse struct {
	AnnualRate float64             `json:"annual_rate"`
	Points     []core.BalancePoint `json:"points"`
	// Cumulative holds one growth-free running total per record, aligned
	// with the deposit list.
	Cumulative []float64 `json:"cumulative"`
}

type forecastResponse struct {
	Initial             float64                 `json:"initial"`
	MonthlyContribution float64                 `json:"monthly_contribution"`
	Years               int                     `json:"years"`
	Scenarios           []core.ForecastScenario `json:"scenarios"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing user")
		return
	}

	rate := s.historyRate
	if raw := r.URL.Query().Get("rate"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "rate must be a number")
			return
		}
		rate = parsed
	}

	records, err := s.repo.ListDeposits(r.Context(), user)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list deposits", "user", user, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load deposits")
		return
	}
	if len(records) == 0 {
		respondError(w, http.StatusUnprocessableEntity, "no deposits recorded")
		return
	}

	points, err := projection.Reconstruct(records, rate)
	if err != nil {
		if errors.Is(err, projection.ErrInvalidParameter) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "Failed to reconstruct history",
			"user", user, "annual_rate", rate, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to reconstruct history")
		return
	}

	cumulative, err := projection.Cumulative(records)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to compute running totals")
		return
	}

	respondJSON(w, http.StatusOK, historyResponse{
		AnnualRate: rate,
		Points:     points,
		Cumulative: cumulative,
	})
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing user")
		return
	}

	query := r.URL.Query()

	monthly, err := strconv.ParseFloat(query.Get("monthly"), 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "monthly must be a number")
		return
	}

	years := defaultForecastYears
	if raw := query.Get("years"); raw != "" {
		years, err = strconv.Atoi(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "years must be an integer")
			return
		}
	}

	records, err := s.repo.ListDeposits(r.Context(), user)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list deposits", "user", user, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load deposits")
		return
	}
	if len(records) == 0 {
		respondError(w, http.StatusUnprocessableEntity, "no deposits recorded")
		return
	}

	// The forecast seeds from the plain cumulative balance, without any
	// growth applied to the past.
	running, err := projection.Cumulative(records)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	initial := running[len(running)-1]
	lastDate := records[len(records)-1].Date

	scenarios, err := projection.RunScenarios(initial, monthly, years, lastDate, s.scenarios)
	if err != nil {
		if errors.Is(err, projection.ErrInvalidParameter) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "Failed to run forecast",
			"user", user, "years", years, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to run forecast")
		return
	}

	respondJSON(w, http.StatusOK, forecastResponse{
		Initial:             initial,
		MonthlyContribution: monthly,
		Years:               years,
		Scenarios:           scenarios,
	})
}
