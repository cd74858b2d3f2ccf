package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ashureev/capdeploy/internal/domain"
	"github.com/ashureev/capdeploy/internal/identity"
	"github.com/ashureev/capdeploy/internal/plan"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// PlanHandler serves the conversational and direct plan endpoints.
type PlanHandler struct {
	*Handler
}

// NewPlanHandler creates a new plan handler.
func NewPlanHandler(base *Handler) *PlanHandler {
	return &PlanHandler{Handler: base}
}

// RegisterRoutes registers plan routes.
func (h *PlanHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/messages", h.Message)
		r.Get("/session", h.Session)
		r.Get("/candidates", h.Candidates)
		r.Post("/plans/{id}/confirm", h.Confirm)
		r.Post("/plans/cancel", h.Cancel)
		r.Post("/plans/adjust", h.Adjust)
		r.Get("/positions", h.Positions)
		r.Get("/balances", h.Balances)
		r.Post("/balances/credit", h.Credit)
	})
}

type messageRequest struct {
	Text string `json:"text"`
}

// Message runs one chat message through the dialogue controller.
func (h *PlanHandler) Message(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req messageRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}

	reply, err := h.controller.Handle(r.Context(), userID, req.Text)
	if err != nil {
		h.logger.Error("Message failed",
			"user_id", userID,
			"remote_ip", identity.IPFromRequest(r),
			"error", err)
		JSON(w, http.StatusInternalServerError, reply)
		return
	}
	JSON(w, http.StatusOK, reply)
}

// Session returns the user's session, pending plan and holdings.
func (h *PlanHandler) Session(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	v, err := h.exec.View(r.Context(), userID)
	if err != nil {
		h.lifecycleError(w, r, userID, err)
		return
	}
	JSON(w, http.StatusOK, v)
}

// Candidates lists ranked yield sources. Query parameters: asset (required),
// chain, risk and limit.
func (h *PlanHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	q := plan.Query{
		Asset: strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("asset"))),
		Chain: strings.ToLower(strings.TrimSpace(r.URL.Query().Get("chain"))),
	}
	if q.Asset == "" {
		Error(w, http.StatusBadRequest, "asset is required")
		return
	}
	if raw := r.URL.Query().Get("risk"); raw != "" {
		risk, ok := domain.ParseRisk(raw)
		if !ok {
			Error(w, http.StatusBadRequest, "risk must be low, medium or high")
			return
		}
		q.Risk = risk
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		q.Limit = n
	}

	cands, err := h.ranker.Rank(r.Context(), q)
	if err != nil {
		h.lifecycleError(w, r, userID, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"candidates": cands})
}

// Confirm applies the plan named in the path if it is the pending one.
func (h *PlanHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	planID := chi.URLParam(r, "id")

	p, positions, err := h.exec.Apply(r.Context(), userID, planID)
	if err != nil {
		h.lifecycleError(w, r, userID, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"plan":      p,
		"positions": positions,
	})
}

// Cancel declines the pending plan.
func (h *PlanHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	p, err := h.exec.Cancel(r.Context(), userID)
	if err != nil {
		h.lifecycleError(w, r, userID, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"plan": p})
}

type adjustRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Adjust replaces the pending plan with one for a different amount.
func (h *PlanHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	var req adjustRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.exec.Adjust(r.Context(), userID, req.Amount)
	if err != nil {
		h.lifecycleError(w, r, userID, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"plan": p})
}

// Positions lists the user's positions.
func (h *PlanHandler) Positions(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	v, err := h.exec.View(r.Context(), userID)
	if err != nil {
		h.lifecycleError(w, r, userID, err)
		return
	}
	positions := v.Positions
	if positions == nil {
		positions = []domain.Position{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"positions": positions})
}

// Balances returns the user's ledger balances.
func (h *PlanHandler) Balances(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	v, err := h.exec.View(r.Context(), userID)
	if err != nil {
		h.lifecycleError(w, r, userID, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"balances": v.Balances})
}

type creditRequest struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// Credit adds funds to the user's ledger.
func (h *PlanHandler) Credit(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	var req creditRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Asset) == "" {
		Error(w, http.StatusBadRequest, "asset is required")
		return
	}
	balances, err := h.exec.Credit(r.Context(), userID, req.Asset, req.Amount)
	if err != nil {
		h.lifecycleError(w, r, userID, err)
		return
	}
	h.logger.Info("Balance credited", "user_id", userID, "asset", strings.ToUpper(req.Asset), "amount", req.Amount.String())
	JSON(w, http.StatusOK, map[string]interface{}{"balances": balances})
}
