package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"
)

func (h *Handler) GetRates(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.rates.Current())
}

type setRateRequest struct {
	Rate string `json:"rate"`
}

func (h *Handler) SetRate(w http.ResponseWriter, r *http.Request) {
	var req setRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	rate, err := decimal.NewFromString(req.Rate)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rate")
		return
	}
	snap, err := h.rates.SetRate(r.Context(), rate)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

type setFeesRequest struct {
	SellerFeePct   string `json:"seller_fee_pct"`
	BuyerFeePct    string `json:"buyer_fee_pct"`
	WithdrawFeePct string `json:"withdraw_fee_pct"`
}

func (h *Handler) SetFees(w http.ResponseWriter, r *http.Request) {
	var req setFeesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	seller, err := decimal.NewFromString(req.SellerFeePct)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid seller fee")
		return
	}
	buyer, err := decimal.NewFromString(req.BuyerFeePct)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid buyer fee")
		return
	}
	withdraw, err := decimal.NewFromString(req.WithdrawFeePct)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid withdraw fee")
		return
	}
	snap, err := h.rates.SetFees(r.Context(), seller, buyer, withdraw)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}
