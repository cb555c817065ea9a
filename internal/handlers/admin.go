package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"otcdesk/internal/middleware"
)

type promoteRequest struct {
	Username string `json:"username"`
}

func (h *Handler) PromoteModerator(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req promoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	target, err := h.users.GetByUsername(req.Username)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if err := h.users.Promote(r.Context(), userID, target.ID); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "promoted"})
}

func (h *Handler) AdminListDeals(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.ListOpen())
}

func (h *Handler) AdminListDisputes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.disputes.ListOpen())
}

// MarkPaid records an out-of-band fiat payment, for gateways the invoice
// watcher does not cover.
func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	deal, err := h.engine.MarkExternallyPaid(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, deal)
}

func (h *Handler) ReserveDeal(w http.ResponseWriter, r *http.Request) {
	h.dealAction(w, r, h.engine.Reserve)
}

func (h *Handler) ReleaseDeal(w http.ResponseWriter, r *http.Request) {
	h.dealAction(w, r, h.engine.Release)
}

func (h *Handler) CompleteDeal(w http.ResponseWriter, r *http.Request) {
	h.dealAction(w, r, h.engine.Complete)
}

func (h *Handler) AssignDispute(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	dispute, err := h.disputes.Assign(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dispute)
}

type resolveRequest struct {
	SellerAmount string `json:"seller_amount"`
	BuyerAmount  string `json:"buyer_amount"`
}

// ResolveDispute splits the escrow and closes both the deal and the dispute
// record. Both halves are idempotent, so a retry after a partial failure
// converges instead of paying twice.
func (h *Handler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	sellerAmt, err := decimal.NewFromString(req.SellerAmount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid seller amount")
		return
	}
	buyerAmt, err := decimal.NewFromString(req.BuyerAmount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid buyer amount")
		return
	}
	dealID := chi.URLParam(r, "id")
	deal, err := h.engine.ResolveDispute(r.Context(), dealID, userID, sellerAmt, buyerAmt)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	dispute, err := h.disputes.GetByDeal(dealID)
	if err == nil {
		dispute, err = h.disputes.Resolve(r.Context(), dispute.ID, userID, sellerAmt, buyerAmt)
		if err != nil {
			respondServiceError(w, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"deal":    deal,
		"dispute": dispute,
	})
}
