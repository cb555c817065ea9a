package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"otcdesk/internal/middleware"
	"otcdesk/internal/models"
	"otcdesk/internal/money"
	"otcdesk/internal/services"
	"otcdesk/internal/validator"
)

type advertRequest struct {
	Side         string   `json:"side"`
	Price        string   `json:"price"`
	Volume       string   `json:"volume"`
	MinCash      string   `json:"min_cash"`
	MaxCash      string   `json:"max_cash"`
	PaymentRails []string `json:"payment_rails"`
	Terms        string   `json:"terms"`
	Active       *bool    `json:"active,omitempty"`
}

func (req advertRequest) toInput() (services.AdvertInput, error) {
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		return services.AdvertInput{}, err
	}
	volume, err := decimal.NewFromString(req.Volume)
	if err != nil {
		return services.AdvertInput{}, err
	}
	minMinor, err := money.ParseMinor(req.MinCash)
	if err != nil {
		return services.AdvertInput{}, err
	}
	maxMinor, err := money.ParseMinor(req.MaxCash)
	if err != nil {
		return services.AdvertInput{}, err
	}
	if err := validator.ValidateTerms(req.Terms); err != nil {
		return services.AdvertInput{}, err
	}
	if err := validator.ValidateRails(req.PaymentRails); err != nil {
		return services.AdvertInput{}, err
	}
	return services.AdvertInput{
		Side:         models.AdvertSide(req.Side),
		Price:        price,
		Volume:       volume,
		MinFiatMinor: minMinor,
		MaxFiatMinor: maxMinor,
		PaymentRails: req.PaymentRails,
		Terms:        req.Terms,
	}, nil
}

func (h *Handler) CreateAdvert(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req advertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	input, err := req.toInput()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	advert, err := h.adverts.Create(r.Context(), userID, input)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, advert)
}

func (h *Handler) UpdateAdvert(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req advertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	input, err := req.toInput()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	advert, err := h.adverts.Update(r.Context(), chi.URLParam(r, "id"), userID, input, active)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, advert)
}

func (h *Handler) DeleteAdvert(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.adverts.Delete(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) GetAdvert(w http.ResponseWriter, r *http.Request) {
	advert, err := h.adverts.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, advert)
}

func (h *Handler) ListAdverts(w http.ResponseWriter, r *http.Request) {
	side := models.AdvertSide(r.URL.Query().Get("side"))
	if side != models.SideBuy && side != models.SideSell {
		respondError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}
	respondJSON(w, http.StatusOK, h.adverts.ListActive(side))
}

func (h *Handler) ListOwnAdverts(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	respondJSON(w, http.StatusOK, h.adverts.ListForOwner(userID))
}
