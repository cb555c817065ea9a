package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"otcdesk/internal/middleware"
	"otcdesk/internal/models"
	"otcdesk/internal/money"
)

type directDealRequest struct {
	BuyerUsername string `json:"buyer_username"`
	CashAmount    string `json:"cash_amount"`
}

// CreateDirectDeal opens a deal between the caller (seller) and a named
// buyer, skipping the public order book.
func (h *Handler) CreateDirectDeal(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req directDealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	fiatMinor, err := money.ParseMinor(req.CashAmount)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	buyer, err := h.users.GetByUsername(req.BuyerUsername)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	deal, err := h.engine.CreateDirectDeal(r.Context(), userID, buyer.ID, fiatMinor)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, deal)
}

type offerRequest struct {
	CashAmount string `json:"cash_amount"`
}

func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req offerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	fiatMinor, err := money.ParseMinor(req.CashAmount)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	deal, err := h.engine.CreateOffer(r.Context(), chi.URLParam(r, "id"), userID, fiatMinor)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, deal)
}

func (h *Handler) ListDeals(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	respondJSON(w, http.StatusOK, h.engine.ListForUser(userID))
}

func (h *Handler) GetDeal(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	deal, err := h.engine.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if !deal.IsParty(userID) && !h.users.IsModerator(userID) {
		respondError(w, http.StatusForbidden, "not a party to this deal")
		return
	}
	respondJSON(w, http.StatusOK, deal)
}

func (h *Handler) GetDealByTicket(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	deal, err := h.engine.GetByTicket(chi.URLParam(r, "ticket"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if !deal.IsParty(userID) && !h.users.IsModerator(userID) {
		respondError(w, http.StatusForbidden, "not a party to this deal")
		return
	}
	respondJSON(w, http.StatusOK, deal)
}

func (h *Handler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	h.dealAction(w, r, h.engine.AcceptOffer)
}

func (h *Handler) DeclineOffer(w http.ResponseWriter, r *http.Request) {
	h.dealAction(w, r, h.engine.DeclineOffer)
}

func (h *Handler) CancelDeal(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	force := r.URL.Query().Get("force") == "true" && h.users.IsModerator(userID)
	deal, err := h.engine.Cancel(r.Context(), chi.URLParam(r, "id"), userID, force)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, deal)
}

// ConfirmCash records the caller's half of the cash hand-off confirmation.
// The engine credits the buyer once both halves are in.
func (h *Handler) ConfirmCash(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	dealID := chi.URLParam(r, "id")
	deal, err := h.engine.Get(dealID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if userID == deal.BuyerID {
		deal, err = h.engine.ConfirmBuyerCash(r.Context(), dealID, userID)
	} else {
		deal, err = h.engine.ConfirmSellerCash(r.Context(), dealID, userID)
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, deal)
}

func (h *Handler) RequestBankQR(w http.ResponseWriter, r *http.Request) {
	h.dealAction(w, r, h.engine.RequestBankQR)
}

type chooseBankRequest struct {
	Bank string `json:"bank"`
}

func (h *Handler) ChooseBank(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req chooseBankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	deal, err := h.engine.ChooseBank(r.Context(), chi.URLParam(r, "id"), userID, req.Bank)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, deal)
}

type attachFileRequest struct {
	FileID string `json:"file_id"`
}

func (h *Handler) AttachQR(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req attachFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	deal, err := h.engine.AttachQR(r.Context(), chi.URLParam(r, "id"), userID, req.FileID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, deal)
}

func (h *Handler) ConfirmBuyerReady(w http.ResponseWriter, r *http.Request) {
	h.dealAction(w, r, h.engine.ConfirmBuyerReady)
}

func (h *Handler) AttachPayoutPhoto(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req attachFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	deal, err := h.engine.AttachPayoutPhoto(r.Context(), chi.URLParam(r, "id"), userID, req.FileID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, deal)
}

// dealAction wraps the engine calls whose request carries nothing beyond the
// deal id and the authenticated actor.
func (h *Handler) dealAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, dealID, actorID string) (models.Deal, error)) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	deal, err := action(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, deal)
}
