package handlers

import (
	"context"

	"github.com/shopspring/decimal"

	"otcdesk/internal/models"
	"otcdesk/internal/services"
)

type UserRegistry interface {
	Register(ctx context.Context, username, passwordHash string) (models.User, error)
	Get(userID string) (models.User, error)
	GetByUsername(username string) (models.User, error)
	IsModerator(userID string) bool
	Promote(ctx context.Context, actorID, targetID string) error
}

// DealEngine is everything the HTTP layer drives on the ledger: balances,
// deal lifecycle, the cash hand-off ladder and moderator actions.
type DealEngine interface {
	Balance(userID string) decimal.Decimal
	Events(userID string, limit, offset int) []models.BalanceEvent
	Deposit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	Withdraw(ctx context.Context, userID, destination string, amount decimal.Decimal) (decimal.Decimal, error)
	Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal) error

	CreateDirectDeal(ctx context.Context, sellerID, buyerID string, fiatMinor int64) (models.Deal, error)
	CreateOffer(ctx context.Context, advertID, initiatorID string, fiatMinor int64) (models.Deal, error)
	AcceptOffer(ctx context.Context, dealID, actorID string) (models.Deal, error)
	DeclineOffer(ctx context.Context, dealID, actorID string) (models.Deal, error)
	Cancel(ctx context.Context, dealID, actorID string, force bool) (models.Deal, error)

	RequestBankQR(ctx context.Context, dealID, actorID string) (models.Deal, error)
	ChooseBank(ctx context.Context, dealID, actorID, bank string) (models.Deal, error)
	AttachQR(ctx context.Context, dealID, actorID, fileID string) (models.Deal, error)
	ConfirmBuyerReady(ctx context.Context, dealID, actorID string) (models.Deal, error)
	AttachPayoutPhoto(ctx context.Context, dealID, actorID, photoID string) (models.Deal, error)
	ConfirmBuyerCash(ctx context.Context, dealID, actorID string) (models.Deal, error)
	ConfirmSellerCash(ctx context.Context, dealID, actorID string) (models.Deal, error)

	MarkExternallyPaid(ctx context.Context, dealID string) (models.Deal, error)
	Reserve(ctx context.Context, dealID, actorID string) (models.Deal, error)
	Release(ctx context.Context, dealID, actorID string) (models.Deal, error)
	Complete(ctx context.Context, dealID, actorID string) (models.Deal, error)
	OpenDispute(ctx context.Context, dealID, actorID, reason string) (models.Deal, error)
	ResolveDispute(ctx context.Context, dealID, resolverID string, sellerAmt, buyerAmt decimal.Decimal) (models.Deal, error)

	Get(dealID string) (models.Deal, error)
	GetByTicket(ticket string) (models.Deal, error)
	ListForUser(userID string) []models.Deal
	ListOpen() []models.Deal
}

type AdvertBook interface {
	Create(ctx context.Context, ownerID string, in services.AdvertInput) (models.Advert, error)
	Update(ctx context.Context, advertID, ownerID string, in services.AdvertInput, active bool) (models.Advert, error)
	Delete(ctx context.Context, advertID, ownerID string) error
	Get(advertID string) (models.Advert, error)
	ListActive(side models.AdvertSide) []models.Advert
	ListForOwner(ownerID string) []models.Advert
}

type DisputeDesk interface {
	Open(ctx context.Context, dealID, openerID, reason, comment string) (models.Dispute, error)
	Get(disputeID string) (models.Dispute, error)
	GetByDeal(dealID string) (models.Dispute, error)
	AddEvidence(ctx context.Context, disputeID, authorID string, kind models.EvidenceKind, content string) (models.Dispute, error)
	AddMessage(ctx context.Context, disputeID, authorID, text string) (models.Dispute, error)
	Assign(ctx context.Context, disputeID, moderatorID string) (models.Dispute, error)
	Resolve(ctx context.Context, disputeID, resolverID string, sellerAmt, buyerAmt decimal.Decimal) (models.Dispute, error)
	ListOpen() []models.Dispute
}

type RateBoard interface {
	Current() models.RateSnapshot
	SetRate(ctx context.Context, rate decimal.Decimal) (models.RateSnapshot, error)
	SetFees(ctx context.Context, seller, buyer, withdraw decimal.Decimal) (models.RateSnapshot, error)
}
