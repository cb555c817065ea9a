package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"otcdesk/internal/config"
	"otcdesk/internal/middleware"
	"otcdesk/internal/websocket"
)

type Handler struct {
	cfg      config.Config
	users    UserRegistry
	engine   DealEngine
	adverts  AdvertBook
	disputes DisputeDesk
	rates    RateBoard
	hub      *websocket.Hub
}

func New(cfg config.Config, users UserRegistry, engine DealEngine, adverts AdvertBook, disputes DisputeDesk, rates RateBoard, hub *websocket.Hub) *Handler {
	return &Handler{
		cfg:      cfg,
		users:    users,
		engine:   engine,
		adverts:  adverts,
		disputes: disputes,
		rates:    rates,
		hub:      hub,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.Logger)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.cfg.AllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.With(middleware.Auth(h.cfg.JWTSecret)).Get("/me", h.Me)
	})

	router.Group(func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))

		r.Get("/balance", h.GetBalance)
		r.Get("/balance/events", h.ListBalanceEvents)
		r.Post("/balance/deposit", h.Deposit)
		r.Post("/balance/withdraw", h.Withdraw)
		r.Post("/balance/transfer", h.Transfer)

		r.Get("/rates", h.GetRates)

		r.Get("/adverts", h.ListAdverts)
		r.Post("/adverts", h.CreateAdvert)
		r.Get("/adverts/mine", h.ListOwnAdverts)
		r.Get("/adverts/{id}", h.GetAdvert)
		r.Put("/adverts/{id}", h.UpdateAdvert)
		r.Delete("/adverts/{id}", h.DeleteAdvert)
		r.Post("/adverts/{id}/offers", h.CreateOffer)

		r.Post("/deals", h.CreateDirectDeal)
		r.Get("/deals", h.ListDeals)
		r.Get("/deals/{id}", h.GetDeal)
		r.Get("/deals/ticket/{ticket}", h.GetDealByTicket)
		r.Post("/deals/{id}/accept", h.AcceptOffer)
		r.Post("/deals/{id}/decline", h.DeclineOffer)
		r.Post("/deals/{id}/cancel", h.CancelDeal)
		r.Post("/deals/{id}/confirm", h.ConfirmCash)

		r.Post("/deals/{id}/qr/request", h.RequestBankQR)
		r.Post("/deals/{id}/qr/bank", h.ChooseBank)
		r.Post("/deals/{id}/qr/attach", h.AttachQR)
		r.Post("/deals/{id}/qr/ready", h.ConfirmBuyerReady)
		r.Post("/deals/{id}/qr/photo", h.AttachPayoutPhoto)

		r.Post("/deals/{id}/dispute", h.OpenDispute)
		r.Get("/deals/{id}/dispute", h.GetDealDispute)
		r.Get("/disputes/{id}", h.GetDispute)
		r.Post("/disputes/{id}/evidence", h.AddEvidence)
		r.Post("/disputes/{id}/messages", h.AddDisputeMessage)
	})

	router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))
		r.Use(middleware.RequireModerator(h.users))

		r.Post("/users/promote", h.PromoteModerator)
		r.Get("/deals", h.AdminListDeals)
		r.Post("/deals/{id}/paid", h.MarkPaid)
		r.Post("/deals/{id}/reserve", h.ReserveDeal)
		r.Post("/deals/{id}/release", h.ReleaseDeal)
		r.Post("/deals/{id}/complete", h.CompleteDeal)
		r.Post("/deals/{id}/resolve", h.ResolveDispute)
		r.Get("/disputes", h.AdminListDisputes)
		r.Post("/disputes/{id}/assign", h.AssignDispute)
		r.Post("/rates", h.SetRate)
		r.Post("/fees", h.SetFees)
	})

	router.Get("/ws/events", h.WSEvents)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}
