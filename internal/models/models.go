package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsModerator  bool      `json:"is_moderator"`
	CreatedAt    time.Time `json:"created_at"`
}

// DealStatus is the deal lifecycle state. Transitions happen only inside the
// deal engine; every other package treats the value as opaque.
type DealStatus string

const (
	DealPending   DealStatus = "PENDING"
	DealOpen      DealStatus = "OPEN"
	DealReserved  DealStatus = "RESERVED"
	DealPaid      DealStatus = "PAID"
	DealDispute   DealStatus = "DISPUTE"
	DealCompleted DealStatus = "COMPLETED"
	DealCanceled  DealStatus = "CANCELED"
	DealExpired   DealStatus = "EXPIRED"
)

func (s DealStatus) Terminal() bool {
	switch s {
	case DealCompleted, DealCanceled, DealExpired:
		return true
	case DealPending, DealOpen, DealReserved, DealPaid, DealDispute:
		return false
	}
	return false
}

// QRStage is the cash hand-off sub-state, meaningful only while a deal is PAID.
type QRStage string

const (
	QRIdle                 QRStage = "IDLE"
	QRAwaitingSellerBank   QRStage = "AWAITING_SELLER_BANK"
	QRAwaitingSellerAttach QRStage = "AWAITING_SELLER_ATTACH"
	QRAwaitingBuyerReady   QRStage = "AWAITING_BUYER_READY"
	QRAwaitingSellerPhoto  QRStage = "AWAITING_SELLER_PHOTO"
	QRReady                QRStage = "READY"
)

type Deal struct {
	ID     string `json:"id"`
	Ticket string `json:"ticket"`

	SellerID string `json:"seller_id"`
	BuyerID  string `json:"buyer_id,omitempty"`

	FiatMinor  int64           `json:"fiat_minor"`
	Rate       decimal.Decimal `json:"rate"`
	FeePct     decimal.Decimal `json:"fee_pct"`
	FeeUnits   decimal.Decimal `json:"fee_units"`
	UnitAmount decimal.Decimal `json:"unit_amount"`

	Status  DealStatus `json:"status"`
	QRStage QRStage    `json:"qr_stage"`

	Bank          string `json:"bank,omitempty"`
	QRFileID      string `json:"qr_file_id,omitempty"`
	PayoutPhotoID string `json:"payout_photo_id,omitempty"`

	BuyerCashConfirmed  bool `json:"buyer_cash_confirmed"`
	SellerCashConfirmed bool `json:"seller_cash_confirmed"`

	// PayoutCompleted flips false->true exactly once per deal and gates the
	// one-time credit of escrowed funds, on finalize and on dispute resolve.
	PayoutCompleted bool `json:"payout_completed"`
	// BalanceReserved marks that the seller's escrow debit is currently held.
	BalanceReserved bool `json:"balance_reserved"`

	IsP2P    bool   `json:"is_p2p"`
	AdvertID string `json:"advert_id,omitempty"`
	// InitiatorID is the party who proposed the offer; the counterpart is
	// the one entitled to accept it.
	InitiatorID string `json:"initiator_id,omitempty"`
	// VolumeReturned guards against restoring advert volume twice.
	VolumeReturned bool `json:"volume_returned,omitempty"`

	InvoiceID     string `json:"invoice_id,omitempty"`
	InvoicePayURL string `json:"invoice_pay_url,omitempty"`

	DisputeOpenedBy    string     `json:"dispute_opened_by,omitempty"`
	DisputeOpenedAt    *time.Time `json:"dispute_opened_at,omitempty"`
	DisputeAvailableAt *time.Time `json:"dispute_available_at,omitempty"`
	DisputeNotified    bool       `json:"dispute_notified"`

	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	OfferExpiresAt *time.Time `json:"offer_expires_at,omitempty"`
}

// IsParty reports whether userID is the deal's seller or buyer.
func (d Deal) IsParty(userID string) bool {
	return userID == d.SellerID || (d.BuyerID != "" && userID == d.BuyerID)
}

type BalanceEventKind string

const (
	EventDeposit       BalanceEventKind = "deposit"
	EventWithdraw      BalanceEventKind = "withdraw"
	EventEscrowReserve BalanceEventKind = "escrow_reserve"
	EventEscrowRelease BalanceEventKind = "escrow_release"
	EventDealPayout    BalanceEventKind = "deal_payout"
	EventDisputePayout BalanceEventKind = "dispute_payout"
	EventTransferIn    BalanceEventKind = "transfer_in"
	EventTransferOut   BalanceEventKind = "transfer_out"
)

// BalanceEvent is one append-only audit record, never mutated after creation.
type BalanceEvent struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Amount    decimal.Decimal  `json:"amount"`
	Kind      BalanceEventKind `json:"kind"`
	DealID    string           `json:"deal_id,omitempty"`
	Note      string           `json:"note,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

type AdvertSide string

const (
	SideBuy  AdvertSide = "buy"
	SideSell AdvertSide = "sell"
)

type Advert struct {
	ID      string     `json:"id"`
	Ticket  string     `json:"ticket"`
	OwnerID string     `json:"owner_id"`
	Side    AdvertSide `json:"side"`

	Price           decimal.Decimal `json:"price"`
	TotalVolume     decimal.Decimal `json:"total_volume"`
	RemainingVolume decimal.Decimal `json:"remaining_volume"`

	MinFiatMinor int64 `json:"min_fiat_minor"`
	MaxFiatMinor int64 `json:"max_fiat_minor"`

	PaymentRails []string `json:"payment_rails,omitempty"`
	Terms        string   `json:"terms,omitempty"`

	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type EvidenceKind string

const (
	EvidencePhoto    EvidenceKind = "photo"
	EvidenceDocument EvidenceKind = "document"
	EvidenceText     EvidenceKind = "text"
)

type Evidence struct {
	Kind      EvidenceKind `json:"kind"`
	AuthorID  string       `json:"author_id"`
	Content   string       `json:"content"`
	CreatedAt time.Time    `json:"created_at"`
}

type DisputeMessage struct {
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type Dispute struct {
	ID       string `json:"id"`
	DealID   string `json:"deal_id"`
	OpenerID string `json:"opener_id"`
	Reason   string `json:"reason"`
	Comment  string `json:"comment,omitempty"`

	Evidence []Evidence       `json:"evidence,omitempty"`
	Messages []DisputeMessage `json:"messages,omitempty"`

	AssigneeID string     `json:"assignee_id,omitempty"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`

	Resolved     bool            `json:"resolved"`
	ResolverID   string          `json:"resolver_id,omitempty"`
	SellerPayout decimal.Decimal `json:"seller_payout"`
	BuyerPayout  decimal.Decimal `json:"buyer_payout"`

	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// RateSnapshot is an immutable quote: updates replace the whole value, readers
// always see a consistent rate/fee combination.
type RateSnapshot struct {
	Rate           decimal.Decimal `json:"rate"`
	SellerFeePct   decimal.Decimal `json:"seller_fee_pct"`
	BuyerFeePct    decimal.Decimal `json:"buyer_fee_pct"`
	WithdrawFeePct decimal.Decimal `json:"withdraw_fee_pct"`
	Version        int64           `json:"version"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
