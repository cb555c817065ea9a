package services

import (
	"context"
	"fmt"

	"otcdesk/internal/models"
)

// Cancel applies the cancellation matrix. The rules are deliberate business
// policy, preserved exactly:
//
//   - PENDING: either party (or force) cancels, the reservation is refunded
//     unconditionally.
//   - buyer: may cancel OPEN/RESERVED/PAID until the hand-off is READY.
//   - seller: may cancel OPEN/RESERVED/PAID, but not once the hand-off is
//     READY with the QR artifact attached.
//   - PAID refund goes to the seller only when the seller is the actor or
//     force is set; a buyer-initiated cancel leaves the escrow held so a
//     later arbitration can still award it.
//   - DISPUTE: force only; arbitration owns the regular path.
//
// force is the dispute/admin path and also the engine's own saga
// compensation; handlers gate it behind the moderator check.
func (l *Ledger) Cancel(ctx context.Context, dealID, actorID string, force bool) (models.Deal, error) {
	l.mu.Lock()
	deal, err := l.dealLocked(dealID)
	if err != nil {
		l.mu.Unlock()
		return models.Deal{}, err
	}
	if deal.Status.Terminal() {
		l.mu.Unlock()
		return models.Deal{}, fmt.Errorf("%w: deal is %s", ErrInvalidState, deal.Status)
	}
	isSeller := actorID == deal.SellerID
	isBuyer := deal.BuyerID != "" && actorID == deal.BuyerID
	if !isSeller && !isBuyer && !force {
		l.mu.Unlock()
		return models.Deal{}, fmt.Errorf("%w: not a party to this deal", ErrPermissionDenied)
	}

	refund := false
	switch deal.Status {
	case models.DealPending:
		refund = true
	case models.DealOpen, models.DealReserved:
		refund = true
	case models.DealPaid:
		if isBuyer && !force && deal.QRStage == models.QRReady {
			l.mu.Unlock()
			return models.Deal{}, fmt.Errorf("%w: hand-off already ready", ErrInvalidState)
		}
		if isSeller && deal.QRStage == models.QRReady && deal.QRFileID != "" {
			l.mu.Unlock()
			return models.Deal{}, fmt.Errorf("%w: hand-off already ready", ErrInvalidState)
		}
		// conditional refund: seller-initiated or forced cancels return the
		// escrow, a buyer-initiated cancel keeps it held for arbitration
		refund = isSeller || force
	case models.DealDispute:
		if !force {
			l.mu.Unlock()
			return models.Deal{}, fmt.Errorf("%w: deal is under dispute", ErrInvalidState)
		}
		refund = true
	case models.DealCompleted, models.DealCanceled, models.DealExpired:
		l.mu.Unlock()
		return models.Deal{}, fmt.Errorf("%w: deal is %s", ErrInvalidState, deal.Status)
	}

	refunded := false
	if refund && deal.BalanceReserved && !deal.PayoutCompleted {
		l.creditLocked(deal.SellerID, deal.UnitAmount, models.EventEscrowRelease, deal.ID, "refund for "+deal.Ticket)
		deal.BalanceReserved = false
		refunded = true
	}
	deal.Status = models.DealCanceled
	l.deals[deal.ID] = deal
	if err := l.persistLocked(ctx); err != nil {
		l.mu.Unlock()
		return models.Deal{}, err
	}
	sellerBalance := l.balances[deal.SellerID]
	l.mu.Unlock()

	l.restoreAdvertVolume(ctx, &deal)
	if refunded {
		l.broadcastBalance(deal.SellerID, sellerBalance)
	}
	l.broadcastDeal(deal, "deal canceled")
	return deal, nil
}
