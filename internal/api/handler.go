// Package api provides HTTP handlers for the capdeploy API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ashureev/capdeploy/internal/dialogue"
	"github.com/ashureev/capdeploy/internal/domain"
	"github.com/ashureev/capdeploy/internal/executor"
	"github.com/ashureev/capdeploy/internal/plan"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Handler provides common handler utilities.
type Handler struct {
	exec       *executor.Executor
	controller *dialogue.Controller
	ranker     plan.Ranker
	logger     *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(exec *executor.Executor, controller *dialogue.Controller, ranker plan.Ranker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		exec:       exec,
		controller: controller,
		ranker:     ranker,
		logger:     logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// lifecycleError writes err with the status of the lifecycle error it wraps.
// Unknown errors are logged and reported as internal errors.
func (h *Handler) lifecycleError(w http.ResponseWriter, r *http.Request, userID string, err error) {
	var insufficient *domain.InsufficientFundsError
	switch {
	case errors.As(err, &insufficient):
		JSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":     "insufficient_funds",
			"asset":     insufficient.Asset,
			"available": insufficient.Available,
			"required":  insufficient.Required,
		})
	case errors.Is(err, domain.ErrPlanNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNoPendingPlan),
		errors.Is(err, domain.ErrPlanIDMismatch),
		errors.Is(err, domain.ErrPlanNotPending):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidAmount):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNoCandidates):
		Error(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrDebitFailed):
		Error(w, http.StatusServiceUnavailable, "debit failed, nothing was executed")
	default:
		h.logger.Error("Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"user_id", userID,
			"error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
