package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"otcdesk/internal/config"
	"otcdesk/internal/db"
	"otcdesk/internal/handlers"
	"otcdesk/internal/payments"
	"otcdesk/internal/services"
	"otcdesk/internal/snapshot"
	"otcdesk/internal/watchers"
	"otcdesk/internal/websocket"
)

func main() {
	cfg := config.Load()

	store, closeStore, err := openSnapshotStore(cfg)
	if err != nil {
		log.Fatalf("failed to open snapshot store: %v", err)
	}
	defer closeStore()

	state, err := store.Load(context.Background())
	if err != nil {
		log.Fatalf("failed to load state: %v", err)
	}

	rates := services.NewRateService(state, store)
	if err := seedRates(cfg, rates); err != nil {
		log.Fatalf("failed to seed rates: %v", err)
	}

	users := services.NewUserService(state, store)
	hub := websocket.NewHub()

	var invoices services.InvoiceProvider
	var payouts services.PayoutProvider
	var gateway *payments.Client
	if cfg.GatewayURL != "" {
		gateway = payments.NewClient(cfg.GatewayURL, cfg.GatewayAPIKey, cfg.GatewayStoreID)
		invoices = gateway
		payouts = gateway
	}

	engine := services.NewLedger(state, store, rates, users, hub, services.LedgerOptions{
		DealTTL:      cfg.DealTTL,
		OfferTTL:     cfg.OfferTTL,
		DisputeDelay: cfg.DisputeDelay,
		Invoices:     invoices,
		Payouts:      payouts,
	})
	adverts := services.NewAdvertService(state, store, engine)
	engine.AttachOrderBook(adverts)
	disputes := services.NewDisputeService(state, store, engine, users)

	handler := handlers.New(cfg, users, engine, adverts, disputes, rates, hub)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	watcherCtx, stopWatchers := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	runWatcher(&wg, watcherCtx, watchers.NewExpiryWatcher(engine, cfg.ExpiryInterval))
	runWatcher(&wg, watcherCtx, watchers.NewDisputeTimerWatcher(engine, cfg.DisputeInterval))
	if gateway != nil {
		runWatcher(&wg, watcherCtx, watchers.NewInvoiceWatcher(engine, gateway, engine, cfg.InvoiceInterval))
	}

	go func() {
		log.Printf("otcdesk API listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	stopWatchers()
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}

type runner interface {
	Run(ctx context.Context)
}

func runWatcher(wg *sync.WaitGroup, ctx context.Context, w runner) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()
}

func openSnapshotStore(cfg config.Config) (snapshot.Store, func(), error) {
	switch cfg.SnapshotBackend {
	case "pebble":
		store, err := snapshot.OpenPebbleStore(cfg.SnapshotPath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "postgres":
		database, err := db.Connect(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := snapshot.NewPostgresStore(database)
		if err := store.EnsureSchema(context.Background()); err != nil {
			database.Close()
			return nil, nil, err
		}
		return store, func() { database.Close() }, nil
	default:
		return snapshot.NewFileStore(cfg.SnapshotPath), func() {}, nil
	}
}

// seedRates installs the configured rate and fees on an empty state. A state
// that already carries a rate keeps it: operator updates outlive restarts.
func seedRates(cfg config.Config, rates *services.RateService) error {
	if !rates.Current().Rate.IsZero() {
		return nil
	}
	rate, err := decimal.NewFromString(cfg.Rate)
	if err != nil {
		return err
	}
	seller, err := decimal.NewFromString(cfg.SellerFeePct)
	if err != nil {
		return err
	}
	buyer, err := decimal.NewFromString(cfg.BuyerFeePct)
	if err != nil {
		return err
	}
	withdraw, err := decimal.NewFromString(cfg.WithdrawFeePct)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if _, err := rates.SetRate(ctx, rate); err != nil {
		return err
	}
	_, err = rates.SetFees(ctx, seller, buyer, withdraw)
	return err
}
