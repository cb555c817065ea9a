package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"otcdesk/internal/models"
	"otcdesk/internal/payments"
	"otcdesk/internal/snapshot"
	"otcdesk/internal/websocket"
)

type stubStore struct {
	persists  int
	persistFn func(ctx context.Context, patch snapshot.Patch) error
}

func (s *stubStore) Persist(ctx context.Context, patch snapshot.Patch) error {
	s.persists++
	if s.persistFn != nil {
		return s.persistFn(ctx, patch)
	}
	return nil
}

type stubHub struct{}

func (stubHub) BroadcastBalance(string, websocket.BalanceUpdate) {}
func (stubHub) BroadcastDeal(string, websocket.DealEvent)       {}

type stubPrivileges struct{ mods map[string]bool }

func (s stubPrivileges) IsModerator(userID string) bool { return s.mods[userID] }

type stubRates struct{ snap models.RateSnapshot }

func (s stubRates) Current() models.RateSnapshot { return s.snap }

type stubInvoices struct {
	createFn func(ctx context.Context, amountMinor int64, description string) (payments.Invoice, error)
}

func (s stubInvoices) CreateInvoice(ctx context.Context, amountMinor int64, description string) (payments.Invoice, error) {
	if s.createFn == nil {
		return payments.Invoice{ID: "inv-1", Status: "New", PayURL: "https://pay.example/inv-1"}, nil
	}
	return s.createFn(ctx, amountMinor, description)
}

type stubPayouts struct {
	destinations []string
	amounts      []int64
	transferFn   func(ctx context.Context, destination string, amountMinor int64) (string, error)
}

func (s *stubPayouts) Transfer(ctx context.Context, destination string, amountMinor int64) (string, error) {
	s.destinations = append(s.destinations, destination)
	s.amounts = append(s.amounts, amountMinor)
	if s.transferFn != nil {
		return s.transferFn(ctx, destination, amountMinor)
	}
	return "payout-1", nil
}

// stubBook stands in for the advert service when a test needs the order-book
// calls to fail on demand.
type stubBook struct {
	advert     models.Advert
	restoreErr error
	restores   int
}

func (s *stubBook) Get(string) (models.Advert, error) { return s.advert, nil }

func (s *stubBook) ReduceVolume(context.Context, string, decimal.Decimal) error { return nil }

func (s *stubBook) RestoreVolume(context.Context, string, decimal.Decimal) error {
	s.restores++
	return s.restoreErr
}

func dec(t *testing.T, raw string) decimal.Decimal {
	t.Helper()
	value, err := decimal.NewFromString(raw)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", raw, err)
	}
	return value
}

// fixture wires a ledger and an order book against stub collaborators, with
// a controllable clock.
type fixture struct {
	engine  *Ledger
	adverts *AdvertService
	store   *stubStore
	now     time.Time
}

func newFixture(t *testing.T, rate, feePct string) *fixture {
	t.Helper()
	f := &fixture{
		store: &stubStore{},
		now:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	state := snapshot.NewState()
	rates := stubRates{snap: models.RateSnapshot{
		Rate:           dec(t, rate),
		SellerFeePct:   dec(t, feePct),
		BuyerFeePct:    dec(t, feePct),
		WithdrawFeePct: dec(t, "1"),
		Version:        1,
	}}
	f.engine = NewLedger(state, f.store, rates, stubPrivileges{mods: map[string]bool{"mod": true}}, stubHub{}, LedgerOptions{
		DealTTL:      24 * time.Hour,
		OfferTTL:     30 * time.Minute,
		DisputeDelay: time.Hour,
	})
	f.engine.now = func() time.Time { return f.now }
	f.adverts = NewAdvertService(state, f.store, f.engine)
	f.engine.AttachOrderBook(f.adverts)
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) fund(t *testing.T, userID, amount string) {
	t.Helper()
	if _, err := f.engine.Deposit(context.Background(), userID, dec(t, amount)); err != nil {
		t.Fatalf("fund %s with %s: %v", userID, amount, err)
	}
}

func (f *fixture) balance(userID string) string {
	return f.engine.Balance(userID).String()
}

// paidDeal runs a direct deal up to PAID with escrow held.
func (f *fixture) paidDeal(t *testing.T, sellerID, buyerID string) models.Deal {
	t.Helper()
	ctx := context.Background()
	deal, err := f.engine.CreateDirectDeal(ctx, sellerID, buyerID, 5000)
	if err != nil {
		t.Fatalf("create deal: %v", err)
	}
	deal, err = f.engine.MarkExternallyPaid(ctx, deal.ID)
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	return deal
}

func mustEqual(t *testing.T, got, want decimal.Decimal, label string) {
	t.Helper()
	if !got.Equal(want) {
		t.Fatalf("%s = %s, want %s", label, got, want)
	}
}
