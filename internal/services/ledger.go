package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"otcdesk/internal/models"
	"otcdesk/internal/money"
	"otcdesk/internal/snapshot"
	"otcdesk/internal/websocket"
)

// Ledger is the custodial balance ledger and deal engine in one lock domain.
// Every public mutator acquires the lock for the full
// read-modify-write-persist sequence, making each operation a serialized
// transaction. Calls into the order book happen outside the lock; the lock
// order across services is adverts before ledger, never the reverse.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	events   []models.BalanceEvent
	deals    map[string]models.Deal
	dealSeq  int64

	store      SnapshotStore
	rates      Rates
	privileges Privileges
	hub        EventHub
	invoices   InvoiceProvider // nil when no payment gateway is configured
	payouts    PayoutProvider  // nil when no payment gateway is configured
	book       OrderBook       // bound after construction, see AttachOrderBook

	dealTTL      time.Duration
	offerTTL     time.Duration
	disputeDelay time.Duration

	now func() time.Time
}

type LedgerOptions struct {
	DealTTL      time.Duration
	OfferTTL     time.Duration
	DisputeDelay time.Duration
	Invoices     InvoiceProvider
	Payouts      PayoutProvider
}

func NewLedger(state *snapshot.State, store SnapshotStore, rates Rates, privileges Privileges, hub EventHub, opts LedgerOptions) *Ledger {
	balances := make(map[string]decimal.Decimal, len(state.Balances))
	for user, balance := range state.Balances {
		balances[user] = balance
	}
	deals := make(map[string]models.Deal, len(state.Deals))
	for id, deal := range state.Deals {
		deals[id] = deal
	}
	return &Ledger{
		balances:     balances,
		events:       append([]models.BalanceEvent(nil), state.Events...),
		deals:        deals,
		dealSeq:      state.DealSeq,
		store:        store,
		rates:        rates,
		privileges:   privileges,
		hub:          hub,
		invoices:     opts.Invoices,
		payouts:      opts.Payouts,
		dealTTL:      opts.DealTTL,
		offerTTL:     opts.OfferTTL,
		disputeDelay: opts.DisputeDelay,
		now:          time.Now,
	}
}

// AttachOrderBook binds the advert service after both services are
// constructed; the two depend on each other, so one side is bound late.
func (l *Ledger) AttachOrderBook(book OrderBook) {
	l.book = book
}

// Balance returns the user's spendable balance. Escrowed funds are already
// debited and therefore never spendable.
func (l *Ledger) Balance(userID string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

// Events returns the user's balance-event history, newest first.
func (l *Ledger) Events(userID string, limit, offset int) []models.BalanceEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	matched := make([]models.BalanceEvent, 0, limit)
	skipped := 0
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].UserID != userID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		matched = append(matched, l.events[i])
		if limit > 0 && len(matched) >= limit {
			break
		}
	}
	return matched
}

func (l *Ledger) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%w: deposit must be positive", ErrValidation)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.creditLocked(userID, amount, models.EventDeposit, "", "")
	if err := l.persistLocked(ctx); err != nil {
		return decimal.Zero, err
	}
	balance := l.balances[userID]
	l.broadcastBalance(userID, balance)
	return balance, nil
}

// Withdraw debits the requested amount plus the withdrawal fee from the
// current rate snapshot and, when a payout gateway and destination are
// present, sends the fiat value out through it. A failed gateway transfer is
// compensated by crediting the funds back. Returns the fee taken.
func (l *Ledger) Withdraw(ctx context.Context, userID, destination string, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%w: withdrawal must be positive", ErrValidation)
	}
	snap := l.rates.Current()
	fee := amount.Mul(snap.WithdrawFeePct).Div(oneHundred)
	l.mu.Lock()
	if err := l.debitLocked(userID, amount.Add(fee), models.EventWithdraw, "", "withdrawal incl. fee "+fee.String()); err != nil {
		l.mu.Unlock()
		return decimal.Zero, err
	}
	if err := l.persistLocked(ctx); err != nil {
		l.mu.Unlock()
		return decimal.Zero, err
	}
	balance := l.balances[userID]
	l.mu.Unlock()
	l.broadcastBalance(userID, balance)

	if l.payouts == nil || destination == "" {
		return fee, nil
	}
	fiatMinor := money.DecimalToMinor(amount.Mul(snap.Rate))
	if _, terr := l.payouts.Transfer(ctx, destination, fiatMinor); terr != nil {
		// compensate the debit: the funds never left the desk
		l.mu.Lock()
		l.creditLocked(userID, amount.Add(fee), models.EventDeposit, "", "withdrawal reversal")
		perr := l.persistLocked(ctx)
		balance = l.balances[userID]
		l.mu.Unlock()
		l.broadcastBalance(userID, balance)
		if perr != nil {
			return decimal.Zero, errors.Join(fmt.Errorf("gateway transfer: %w", terr), perr)
		}
		return decimal.Zero, fmt.Errorf("gateway transfer: %w", terr)
	}
	return fee, nil
}

// Transfer moves units between two custodial balances.
func (l *Ledger) Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: transfer must be positive", ErrValidation)
	}
	if fromID == toID {
		return fmt.Errorf("%w: cannot transfer to self", ErrValidation)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debitLocked(fromID, amount, models.EventTransferOut, "", "transfer to "+toID); err != nil {
		return err
	}
	l.creditLocked(toID, amount, models.EventTransferIn, "", "transfer from "+fromID)
	if err := l.persistLocked(ctx); err != nil {
		return err
	}
	l.broadcastBalance(fromID, l.balances[fromID])
	l.broadcastBalance(toID, l.balances[toID])
	return nil
}

func (l *Ledger) Get(dealID string) (models.Deal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dealLocked(dealID)
}

func (l *Ledger) GetByTicket(ticket string) (models.Deal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, deal := range l.deals {
		if deal.Ticket == ticket {
			return deal, nil
		}
	}
	return models.Deal{}, fmt.Errorf("%w: deal %s", ErrNotFound, ticket)
}

func (l *Ledger) ListForUser(userID string) []models.Deal {
	l.mu.Lock()
	defer l.mu.Unlock()
	deals := make([]models.Deal, 0)
	for _, deal := range l.deals {
		if deal.IsParty(userID) || deal.InitiatorID == userID {
			deals = append(deals, deal)
		}
	}
	sortDeals(deals)
	return deals
}

// ListOpen returns every non-terminal deal, for moderator overview.
func (l *Ledger) ListOpen() []models.Deal {
	l.mu.Lock()
	defer l.mu.Unlock()
	deals := make([]models.Deal, 0)
	for _, deal := range l.deals {
		if !deal.Status.Terminal() {
			deals = append(deals, deal)
		}
	}
	sortDeals(deals)
	return deals
}

// ListAwaitingPayment returns OPEN deals carrying a gateway invoice, for the
// invoice watcher.
func (l *Ledger) ListAwaitingPayment(ctx context.Context) ([]models.Deal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	deals := make([]models.Deal, 0)
	for _, deal := range l.deals {
		if deal.Status == models.DealOpen && deal.InvoiceID != "" {
			deals = append(deals, deal)
		}
	}
	sortDeals(deals)
	return deals, nil
}

// --- internals ---

func (l *Ledger) dealLocked(dealID string) (models.Deal, error) {
	deal, ok := l.deals[dealID]
	if !ok {
		return models.Deal{}, fmt.Errorf("%w: deal %s", ErrNotFound, dealID)
	}
	return deal, nil
}

func (l *Ledger) creditLocked(userID string, amount decimal.Decimal, kind models.BalanceEventKind, dealID, note string) {
	l.balances[userID] = l.balances[userID].Add(amount)
	l.appendEventLocked(userID, amount, kind, dealID, note)
}

func (l *Ledger) debitLocked(userID string, amount decimal.Decimal, kind models.BalanceEventKind, dealID, note string) error {
	balance := l.balances[userID]
	if balance.LessThan(amount) {
		return fmt.Errorf("%w: balance %s, need %s", ErrInsufficientFunds, balance, amount)
	}
	l.balances[userID] = balance.Sub(amount)
	l.appendEventLocked(userID, amount.Neg(), kind, dealID, note)
	return nil
}

func (l *Ledger) appendEventLocked(userID string, amount decimal.Decimal, kind models.BalanceEventKind, dealID, note string) {
	l.events = append(l.events, models.BalanceEvent{
		ID:        uuid.NewString(),
		UserID:    userID,
		Amount:    amount,
		Kind:      kind,
		DealID:    dealID,
		Note:      note,
		CreatedAt: l.now().UTC(),
	})
}

func (l *Ledger) persistLocked(ctx context.Context) error {
	balances := make(map[string]decimal.Decimal, len(l.balances))
	for user, balance := range l.balances {
		balances[user] = balance
	}
	deals := make(map[string]models.Deal, len(l.deals))
	for id, deal := range l.deals {
		deals[id] = deal
	}
	section := snapshot.LedgerSection{
		Balances: balances,
		Events:   append([]models.BalanceEvent(nil), l.events...),
		Deals:    deals,
		DealSeq:  l.dealSeq,
	}
	return l.store.Persist(ctx, snapshot.Patch{Ledger: &section})
}

func (l *Ledger) broadcastBalance(userID string, balance decimal.Decimal) {
	l.hub.BroadcastBalance(userID, websocket.BalanceUpdate{
		UserID:  userID,
		Balance: balance.String(),
	})
}

func (l *Ledger) broadcastDeal(deal models.Deal, note string) {
	event := websocket.DealEvent{
		Ticket:  deal.Ticket,
		Status:  string(deal.Status),
		QRStage: string(deal.QRStage),
		Note:    note,
	}
	l.hub.BroadcastDeal(deal.SellerID, event)
	if deal.BuyerID != "" {
		l.hub.BroadcastDeal(deal.BuyerID, event)
	}
}

func sortDeals(deals []models.Deal) {
	sort.Slice(deals, func(i, j int) bool {
		if deals[i].CreatedAt.Equal(deals[j].CreatedAt) {
			return deals[i].Ticket < deals[j].Ticket
		}
		return deals[i].CreatedAt.After(deals[j].CreatedAt)
	})
}

func formatFiat(minor int64) string {
	return money.FormatMinor(minor)
}
