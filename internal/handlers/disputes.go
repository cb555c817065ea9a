package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"otcdesk/internal/middleware"
	"otcdesk/internal/models"
)

type openDisputeRequest struct {
	Reason  string `json:"reason"`
	Comment string `json:"comment"`
}

// OpenDispute freezes the deal and creates the dispute record. The engine
// validates the actor and the dispute window before the record is written.
func (h *Handler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req openDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	dealID := chi.URLParam(r, "id")
	deal, err := h.engine.OpenDispute(r.Context(), dealID, userID, req.Reason)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	dispute, err := h.disputes.Open(r.Context(), dealID, userID, req.Reason, req.Comment)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"deal":    deal,
		"dispute": dispute,
	})
}

func (h *Handler) GetDispute(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	dispute, err := h.disputes.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if !h.canViewDispute(userID, dispute) {
		respondError(w, http.StatusForbidden, "not a party to this dispute")
		return
	}
	respondJSON(w, http.StatusOK, dispute)
}

func (h *Handler) GetDealDispute(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	dispute, err := h.disputes.GetByDeal(chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if !h.canViewDispute(userID, dispute) {
		respondError(w, http.StatusForbidden, "not a party to this dispute")
		return
	}
	respondJSON(w, http.StatusOK, dispute)
}

type evidenceRequest struct {
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

func (h *Handler) AddEvidence(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req evidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	dispute, err := h.disputes.AddEvidence(r.Context(), chi.URLParam(r, "id"), userID, models.EvidenceKind(req.Kind), req.Content)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, dispute)
}

type disputeMessageRequest struct {
	Text string `json:"text"`
}

func (h *Handler) AddDisputeMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req disputeMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	dispute, err := h.disputes.AddMessage(r.Context(), chi.URLParam(r, "id"), userID, req.Text)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, dispute)
}

func (h *Handler) canViewDispute(userID string, dispute models.Dispute) bool {
	if h.users.IsModerator(userID) {
		return true
	}
	deal, err := h.engine.Get(dispute.DealID)
	if err != nil {
		return false
	}
	return deal.IsParty(userID)
}
