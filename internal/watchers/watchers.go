package watchers

import (
	"context"
	"log"
	"time"

	"otcdesk/internal/models"
	"otcdesk/internal/payments"
)

// Watchers are fixed-interval polling loops. Each iteration's errors are
// logged and swallowed so a single failed call never stops the loop; the
// loops exit only when their context is canceled.

func loop(ctx context.Context, name string, interval time.Duration, iterate func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := iterate(ctx); err != nil {
				log.Printf("%s watcher: %v", name, err)
			}
		}
	}
}

type DealExpirer interface {
	ExpireOffers(ctx context.Context) (int, error)
}

// ExpiryWatcher cancels PENDING offers past their deadline, refunding
// reserved escrow and restoring advert volume.
type ExpiryWatcher struct {
	engine   DealExpirer
	interval time.Duration
}

func NewExpiryWatcher(engine DealExpirer, interval time.Duration) *ExpiryWatcher {
	return &ExpiryWatcher{engine: engine, interval: interval}
}

func (w *ExpiryWatcher) Run(ctx context.Context) {
	loop(ctx, "offer expiry", w.interval, func(ctx context.Context) error {
		expired, err := w.engine.ExpireOffers(ctx)
		if expired > 0 {
			log.Printf("offer expiry watcher: expired %d offers", expired)
		}
		return err
	})
}

type DisputeNotifier interface {
	NotifyDisputeWindows(ctx context.Context) (int, error)
}

// DisputeTimerWatcher fires the one-time dispute-window notification once a
// PAID deal's cooldown elapses. Idempotent through the deal's notified flag.
type DisputeTimerWatcher struct {
	engine   DisputeNotifier
	interval time.Duration
}

func NewDisputeTimerWatcher(engine DisputeNotifier, interval time.Duration) *DisputeTimerWatcher {
	return &DisputeTimerWatcher{engine: engine, interval: interval}
}

func (w *DisputeTimerWatcher) Run(ctx context.Context) {
	loop(ctx, "dispute timer", w.interval, func(ctx context.Context) error {
		_, err := w.engine.NotifyDisputeWindows(ctx)
		return err
	})
}

type InvoiceSource interface {
	ListAwaitingPayment(ctx context.Context) ([]models.Deal, error)
}

type PaymentMarker interface {
	MarkExternallyPaid(ctx context.Context, dealID string) (models.Deal, error)
}

type InvoiceFetcher interface {
	FetchInvoices(ctx context.Context, ids []string) ([]payments.Invoice, error)
}

// InvoiceWatcher polls the payment gateway for deals awaiting confirmation
// and marks them paid on settlement.
type InvoiceWatcher struct {
	deals    InvoiceSource
	provider InvoiceFetcher
	engine   PaymentMarker
	interval time.Duration
}

func NewInvoiceWatcher(deals InvoiceSource, provider InvoiceFetcher, engine PaymentMarker, interval time.Duration) *InvoiceWatcher {
	return &InvoiceWatcher{deals: deals, provider: provider, engine: engine, interval: interval}
}

func (w *InvoiceWatcher) Run(ctx context.Context) {
	loop(ctx, "invoice", w.interval, func(ctx context.Context) error {
		waiting, err := w.deals.ListAwaitingPayment(ctx)
		if err != nil {
			return err
		}
		if len(waiting) == 0 {
			return nil
		}
		byInvoice := make(map[string]string, len(waiting))
		ids := make([]string, 0, len(waiting))
		for _, deal := range waiting {
			byInvoice[deal.InvoiceID] = deal.ID
			ids = append(ids, deal.InvoiceID)
		}
		invoices, err := w.provider.FetchInvoices(ctx, ids)
		if err != nil {
			return err
		}
		for _, invoice := range invoices {
			if !invoice.Paid() {
				continue
			}
			dealID := byInvoice[invoice.ID]
			if dealID == "" {
				continue
			}
			if _, err := w.engine.MarkExternallyPaid(ctx, dealID); err != nil {
				log.Printf("invoice watcher: mark deal %s paid: %v", dealID, err)
			}
		}
		return nil
	})
}
