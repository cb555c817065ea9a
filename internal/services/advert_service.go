package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"otcdesk/internal/models"
	"otcdesk/internal/money"
	"otcdesk/internal/snapshot"
)

// AdvertService maintains the public order book. ReduceVolume and
// RestoreVolume are the only volume mutators and are driven by the deal
// engine's offer paths.
type AdvertService struct {
	mu      sync.Mutex
	adverts map[string]models.Advert
	seq     int64

	store    SnapshotStore
	balances BalanceSource
}

func NewAdvertService(state *snapshot.State, store SnapshotStore, balances BalanceSource) *AdvertService {
	adverts := make(map[string]models.Advert, len(state.Adverts))
	for id, advert := range state.Adverts {
		adverts[id] = advert
	}
	return &AdvertService{
		adverts:  adverts,
		seq:      state.AdvertSeq,
		store:    store,
		balances: balances,
	}
}

type AdvertInput struct {
	Side         models.AdvertSide
	Price        decimal.Decimal
	Volume       decimal.Decimal
	MinFiatMinor int64
	MaxFiatMinor int64
	PaymentRails []string
	Terms        string
}

func (in AdvertInput) validate() error {
	if in.Side != models.SideBuy && in.Side != models.SideSell {
		return fmt.Errorf("%w: side must be buy or sell", ErrValidation)
	}
	if in.Price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: price must be positive", ErrValidation)
	}
	if in.Volume.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: volume must be positive", ErrValidation)
	}
	if in.MinFiatMinor <= 0 || in.MaxFiatMinor < in.MinFiatMinor {
		return fmt.Errorf("%w: limits must satisfy 0 < min <= max", ErrValidation)
	}
	return nil
}

func (s *AdvertService) Create(ctx context.Context, ownerID string, in AdvertInput) (models.Advert, error) {
	if err := in.validate(); err != nil {
		return models.Advert{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	advert := models.Advert{
		ID:              uuid.NewString(),
		Ticket:          formatTicket("A", s.seq),
		OwnerID:         ownerID,
		Side:            in.Side,
		Price:           in.Price,
		TotalVolume:     in.Volume,
		RemainingVolume: in.Volume,
		MinFiatMinor:    in.MinFiatMinor,
		MaxFiatMinor:    in.MaxFiatMinor,
		PaymentRails:    in.PaymentRails,
		Terms:           in.Terms,
		Active:          true,
		CreatedAt:       time.Now().UTC(),
	}
	s.adverts[advert.ID] = advert
	if err := s.persistLocked(ctx); err != nil {
		delete(s.adverts, advert.ID)
		s.seq--
		return models.Advert{}, err
	}
	return advert, nil
}

// Update edits price, limits, terms, rails and the active flag. Changing
// the total volume shifts the remaining volume by the same delta, floored
// at zero.
func (s *AdvertService) Update(ctx context.Context, advertID, ownerID string, in AdvertInput, active bool) (models.Advert, error) {
	if err := in.validate(); err != nil {
		return models.Advert{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	advert, ok := s.adverts[advertID]
	if !ok {
		return models.Advert{}, fmt.Errorf("%w: advert %s", ErrNotFound, advertID)
	}
	if advert.OwnerID != ownerID {
		return models.Advert{}, fmt.Errorf("%w: not the advert owner", ErrPermissionDenied)
	}
	previous := advert
	delta := in.Volume.Sub(advert.TotalVolume)
	advert.Side = in.Side
	advert.Price = in.Price
	advert.TotalVolume = in.Volume
	advert.RemainingVolume = decimal.Max(decimal.Zero, advert.RemainingVolume.Add(delta))
	advert.MinFiatMinor = in.MinFiatMinor
	advert.MaxFiatMinor = in.MaxFiatMinor
	advert.PaymentRails = in.PaymentRails
	advert.Terms = in.Terms
	advert.Active = active
	s.refreshActive(&advert)
	s.adverts[advertID] = advert
	if err := s.persistLocked(ctx); err != nil {
		s.adverts[advertID] = previous
		return models.Advert{}, err
	}
	return advert, nil
}

func (s *AdvertService) Delete(ctx context.Context, advertID, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	advert, ok := s.adverts[advertID]
	if !ok {
		return fmt.Errorf("%w: advert %s", ErrNotFound, advertID)
	}
	if advert.OwnerID != ownerID {
		return fmt.Errorf("%w: not the advert owner", ErrPermissionDenied)
	}
	delete(s.adverts, advertID)
	if err := s.persistLocked(ctx); err != nil {
		s.adverts[advertID] = advert
		return err
	}
	return nil
}

func (s *AdvertService) Get(advertID string) (models.Advert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	advert, ok := s.adverts[advertID]
	if !ok {
		return models.Advert{}, fmt.Errorf("%w: advert %s", ErrNotFound, advertID)
	}
	return advert, nil
}

// ListActive returns the public index for one side. Visibility is derived:
// an advert disappears the moment its owner's spendable balance can no
// longer satisfy the advert's own minimum.
func (s *AdvertService) ListActive(side models.AdvertSide) []models.Advert {
	s.mu.Lock()
	defer s.mu.Unlock()
	listed := make([]models.Advert, 0)
	for _, advert := range s.adverts {
		if advert.Side != side || !advert.Active {
			continue
		}
		if !s.visibleLocked(advert) {
			continue
		}
		listed = append(listed, advert)
	}
	sortAdverts(listed)
	return listed
}

func (s *AdvertService) ListForOwner(ownerID string) []models.Advert {
	s.mu.Lock()
	defer s.mu.Unlock()
	listed := make([]models.Advert, 0)
	for _, advert := range s.adverts {
		if advert.OwnerID == ownerID {
			listed = append(listed, advert)
		}
	}
	sortAdverts(listed)
	return listed
}

// ReduceVolume reserves units against the advert when an offer is created.
func (s *AdvertService) ReduceVolume(ctx context.Context, advertID string, units decimal.Decimal) error {
	if units.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: units must be positive", ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	advert, ok := s.adverts[advertID]
	if !ok {
		return fmt.Errorf("%w: advert %s", ErrNotFound, advertID)
	}
	if advert.RemainingVolume.LessThan(units) {
		return fmt.Errorf("%w: advert volume %s, need %s", ErrInsufficientFunds, advert.RemainingVolume, units)
	}
	previous := advert
	advert.RemainingVolume = advert.RemainingVolume.Sub(units)
	s.refreshActive(&advert)
	s.adverts[advertID] = advert
	if err := s.persistLocked(ctx); err != nil {
		s.adverts[advertID] = previous
		return err
	}
	return nil
}

// RestoreVolume returns units reserved by an offer that never completed.
// A vanished advert is not an error for the caller: the cancellation that
// triggers the restore must still go through.
func (s *AdvertService) RestoreVolume(ctx context.Context, advertID string, units decimal.Decimal) error {
	if units.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: units must be positive", ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	advert, ok := s.adverts[advertID]
	if !ok {
		return nil
	}
	previous := advert
	advert.RemainingVolume = decimal.Min(advert.TotalVolume, advert.RemainingVolume.Add(units))
	s.adverts[advertID] = advert
	if err := s.persistLocked(ctx); err != nil {
		s.adverts[advertID] = previous
		return err
	}
	return nil
}

// refreshActive deactivates an advert that can no longer fill its own
// minimum. Deactivation is one-way here; the owner reactivates via Update.
func (s *AdvertService) refreshActive(advert *models.Advert) {
	if !advert.Active {
		return
	}
	remainingFiat := advert.RemainingVolume.Mul(advert.Price)
	if remainingFiat.LessThan(money.MinorToDecimal(advert.MinFiatMinor)) {
		advert.Active = false
	}
}

// visibleLocked applies the derived owner-balance rule for sell adverts:
// the owner must hold at least the units the minimum amount would draw.
func (s *AdvertService) visibleLocked(advert models.Advert) bool {
	remainingFiat := advert.RemainingVolume.Mul(advert.Price)
	if remainingFiat.LessThan(money.MinorToDecimal(advert.MinFiatMinor)) {
		return false
	}
	if advert.Side != models.SideSell {
		return true
	}
	minUnits := money.MinorToDecimal(advert.MinFiatMinor).Div(advert.Price)
	return s.balances.Balance(advert.OwnerID).GreaterThanOrEqual(minUnits)
}

func (s *AdvertService) persistLocked(ctx context.Context) error {
	adverts := make(map[string]models.Advert, len(s.adverts))
	for id, advert := range s.adverts {
		adverts[id] = advert
	}
	return s.store.Persist(ctx, snapshot.Patch{Adverts: &snapshot.AdvertsSection{
		Adverts:   adverts,
		AdvertSeq: s.seq,
	}})
}

func sortAdverts(adverts []models.Advert) {
	sort.Slice(adverts, func(i, j int) bool {
		if adverts[i].CreatedAt.Equal(adverts[j].CreatedAt) {
			return adverts[i].Ticket < adverts[j].Ticket
		}
		return adverts[i].CreatedAt.After(adverts[j].CreatedAt)
	})
}
