package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"otcdesk/internal/models"
	"otcdesk/internal/money"
	"otcdesk/internal/snapshot"
)

var oneHundred = decimal.NewFromInt(100)

// RateService holds the current quote as an immutable snapshot. Updates
// replace the whole value; readers get a copy and never observe a half
// applied rate/fee combination.
type RateService struct {
	mu      sync.RWMutex
	current models.RateSnapshot
	store   SnapshotStore
}

func NewRateService(state *snapshot.State, store SnapshotStore) *RateService {
	return &RateService{current: state.Rate, store: store}
}

func (s *RateService) Current() models.RateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *RateService) SetRate(ctx context.Context, rate decimal.Decimal) (models.RateSnapshot, error) {
	if rate.LessThanOrEqual(decimal.Zero) {
		return models.RateSnapshot{}, fmt.Errorf("%w: rate must be positive", ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.current
	next.Rate = rate
	next.Version++
	next.UpdatedAt = time.Now().UTC()
	if err := s.store.Persist(ctx, snapshot.Patch{Rate: &next}); err != nil {
		return models.RateSnapshot{}, err
	}
	s.current = next
	return next, nil
}

// SetFees replaces all three fee percentages at once. Each must sit in
// [0, 100).
func (s *RateService) SetFees(ctx context.Context, seller, buyer, withdraw decimal.Decimal) (models.RateSnapshot, error) {
	for _, pct := range []decimal.Decimal{seller, buyer, withdraw} {
		if pct.IsNegative() || pct.GreaterThanOrEqual(oneHundred) {
			return models.RateSnapshot{}, fmt.Errorf("%w: fee percent out of range", ErrValidation)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.current
	next.SellerFeePct = seller
	next.BuyerFeePct = buyer
	next.WithdrawFeePct = withdraw
	next.Version++
	next.UpdatedAt = time.Now().UTC()
	if err := s.store.Persist(ctx, snapshot.Patch{Rate: &next}); err != nil {
		return models.RateSnapshot{}, err
	}
	s.current = next
	return next, nil
}

// UnitAmount converts a fiat amount into units under the given fee percent:
// base plus base*feePct/100. Returns base, fee and the fee-inclusive total.
func UnitAmount(snap models.RateSnapshot, fiatMinor int64, feePct decimal.Decimal) (base, fee, total decimal.Decimal) {
	base = money.MinorToDecimal(fiatMinor).Div(snap.Rate)
	fee = base.Mul(feePct).Div(oneHundred)
	total = base.Add(fee)
	return base, fee, total
}

// CashAmount is the inverse quote: the fiat value of a fee-inclusive unit
// amount, (units / (1 + feePct/100)) * rate, in minor units.
func CashAmount(snap models.RateSnapshot, units decimal.Decimal, feePct decimal.Decimal) int64 {
	divisor := decimal.NewFromInt(1).Add(feePct.Div(oneHundred))
	cash := units.Div(divisor).Mul(snap.Rate)
	return money.DecimalToMinor(cash)
}
