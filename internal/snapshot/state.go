package snapshot

import (
	"github.com/shopspring/decimal"

	"otcdesk/internal/models"
)

// State is the full durable state of the desk. It is loaded once at startup
// and written back, section by section, after every mutation.
type State struct {
	Users     map[string]models.User     `json:"users"`
	Balances  map[string]decimal.Decimal `json:"balances"`
	Events    []models.BalanceEvent      `json:"events"`
	Deals     map[string]models.Deal     `json:"deals"`
	DealSeq   int64                      `json:"deal_seq"`
	Adverts   map[string]models.Advert   `json:"adverts"`
	AdvertSeq int64                      `json:"advert_seq"`
	Disputes  map[string]models.Dispute  `json:"disputes"`
	Rate      models.RateSnapshot        `json:"rate"`
}

func NewState() *State {
	return &State{
		Users:    make(map[string]models.User),
		Balances: make(map[string]decimal.Decimal),
		Deals:    make(map[string]models.Deal),
		Adverts:  make(map[string]models.Advert),
		Disputes: make(map[string]models.Dispute),
	}
}

// Patch carries the sections a single service owns. Nil sections are left
// untouched by Persist, so each service writes only its own slice of state.
type Patch struct {
	Users    *UsersSection        `json:"users,omitempty"`
	Ledger   *LedgerSection       `json:"ledger,omitempty"`
	Adverts  *AdvertsSection      `json:"adverts,omitempty"`
	Disputes *DisputesSection     `json:"disputes,omitempty"`
	Rate     *models.RateSnapshot `json:"rate,omitempty"`
}

type UsersSection struct {
	Users map[string]models.User `json:"users"`
}

type LedgerSection struct {
	Balances map[string]decimal.Decimal `json:"balances"`
	Events   []models.BalanceEvent      `json:"events"`
	Deals    map[string]models.Deal     `json:"deals"`
	DealSeq  int64                      `json:"deal_seq"`
}

type AdvertsSection struct {
	Adverts   map[string]models.Advert `json:"adverts"`
	AdvertSeq int64                    `json:"advert_seq"`
}

type DisputesSection struct {
	Disputes map[string]models.Dispute `json:"disputes"`
}

func (s *State) apply(patch Patch) {
	if patch.Users != nil {
		s.Users = patch.Users.Users
	}
	if patch.Ledger != nil {
		s.Balances = patch.Ledger.Balances
		s.Events = patch.Ledger.Events
		s.Deals = patch.Ledger.Deals
		s.DealSeq = patch.Ledger.DealSeq
	}
	if patch.Adverts != nil {
		s.Adverts = patch.Adverts.Adverts
		s.AdvertSeq = patch.Adverts.AdvertSeq
	}
	if patch.Disputes != nil {
		s.Disputes = patch.Disputes.Disputes
	}
	if patch.Rate != nil {
		s.Rate = *patch.Rate
	}
}
