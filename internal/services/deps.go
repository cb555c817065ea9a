package services

import (
	"context"

	"github.com/shopspring/decimal"

	"otcdesk/internal/models"
	"otcdesk/internal/payments"
	"otcdesk/internal/snapshot"
	"otcdesk/internal/websocket"
)

// SnapshotStore is the persistence slice a service needs: every mutator ends
// with a synchronous Persist of the section the service owns.
type SnapshotStore interface {
	Persist(ctx context.Context, patch snapshot.Patch) error
}

// Rates supplies the current quote snapshot for deal pricing.
type Rates interface {
	Current() models.RateSnapshot
}

// OrderBook is the slice of the advert service the deal engine drives.
// Volume is reduced when an offer is created and restored if the deal never
// completes; the engine calls these outside its own lock.
type OrderBook interface {
	Get(advertID string) (models.Advert, error)
	ReduceVolume(ctx context.Context, advertID string, units decimal.Decimal) error
	RestoreVolume(ctx context.Context, advertID string, units decimal.Decimal) error
}

// InvoiceProvider creates payment-gateway invoices for the buyer's fiat leg.
type InvoiceProvider interface {
	CreateInvoice(ctx context.Context, amountMinor int64, description string) (payments.Invoice, error)
}

// PayoutProvider sends withdrawn funds out through the payment gateway.
type PayoutProvider interface {
	Transfer(ctx context.Context, destination string, amountMinor int64) (string, error)
}

// Privileges answers moderator checks for privileged engine operations.
type Privileges interface {
	IsModerator(userID string) bool
}

// EventHub receives best-effort notifications after a mutation commits.
type EventHub interface {
	BroadcastBalance(userID string, update websocket.BalanceUpdate)
	BroadcastDeal(userID string, event websocket.DealEvent)
}

// DealSource is the slice of the deal engine the dispute service reads to
// check that an author is a party to the contested deal.
type DealSource interface {
	Get(dealID string) (models.Deal, error)
}

// BalanceSource exposes spendable balances for advert visibility checks.
type BalanceSource interface {
	Balance(userID string) decimal.Decimal
}
