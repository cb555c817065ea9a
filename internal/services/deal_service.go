package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"otcdesk/internal/models"
	"otcdesk/internal/money"
)

// CreateDirectDeal opens a direct sale: the seller's units against the
// buyer's cash, paid through the external gateway (or marked paid by a
// moderator). The deal starts OPEN; escrow is taken when payment lands.
func (l *Ledger) CreateDirectDeal(ctx context.Context, sellerID, buyerID string, fiatMinor int64) (models.Deal, error) {
	if fiatMinor <= 0 {
		return models.Deal{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if sellerID == buyerID {
		return models.Deal{}, fmt.Errorf("%w: seller and buyer must differ", ErrValidation)
	}
	snap := l.rates.Current()
	if snap.Rate.LessThanOrEqual(decimal.Zero) {
		return models.Deal{}, fmt.Errorf("%w: no exchange rate configured", ErrInvalidState)
	}
	_, fee, total := UnitAmount(snap, fiatMinor, snap.SellerFeePct)

	// Invoice creation is the only I/O and happens before any state exists,
	// so a gateway failure needs no compensation here.
	invoiceID, payURL := "", ""
	if l.invoices != nil && buyerID != "" {
		invoice, err := l.invoices.CreateInvoice(ctx, fiatMinor, "deal "+formatFiat(fiatMinor))
		if err != nil {
			return models.Deal{}, fmt.Errorf("create invoice: %w", err)
		}
		invoiceID, payURL = invoice.ID, invoice.PayURL
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now().UTC()
	expires := now.Add(l.dealTTL)
	l.dealSeq++
	deal := models.Deal{
		ID:            uuid.NewString(),
		Ticket:        formatTicket("D", l.dealSeq),
		SellerID:      sellerID,
		BuyerID:       buyerID,
		FiatMinor:     fiatMinor,
		Rate:          snap.Rate,
		FeePct:        snap.SellerFeePct,
		FeeUnits:      fee,
		UnitAmount:    total,
		Status:        models.DealOpen,
		QRStage:       models.QRIdle,
		InvoiceID:     invoiceID,
		InvoicePayURL: payURL,
		CreatedAt:     now,
		ExpiresAt:     &expires,
	}
	l.deals[deal.ID] = deal
	if err := l.persistLocked(ctx); err != nil {
		delete(l.deals, deal.ID)
		l.dealSeq--
		return models.Deal{}, err
	}
	l.broadcastDeal(deal, "deal created")
	return deal, nil
}

// CreateOffer proposes a deal against a public advert. Volume is reserved on
// the advert first; if recording the deal fails the reservation is restored.
// This is the two-phase convention between the order book and the engine.
func (l *Ledger) CreateOffer(ctx context.Context, advertID, initiatorID string, fiatMinor int64) (models.Deal, error) {
	if fiatMinor <= 0 {
		return models.Deal{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	advert, err := l.book.Get(advertID)
	if err != nil {
		return models.Deal{}, err
	}
	if !advert.Active {
		return models.Deal{}, fmt.Errorf("%w: advert is not active", ErrInvalidState)
	}
	if advert.OwnerID == initiatorID {
		return models.Deal{}, fmt.Errorf("%w: cannot take own advert", ErrValidation)
	}
	if fiatMinor < advert.MinFiatMinor || fiatMinor > advert.MaxFiatMinor {
		return models.Deal{}, fmt.Errorf("%w: amount out of advert limits %s..%s",
			ErrValidation, money.FormatMinor(advert.MinFiatMinor), money.FormatMinor(advert.MaxFiatMinor))
	}

	var sellerID, buyerID string
	switch advert.Side {
	case models.SideSell:
		sellerID, buyerID = advert.OwnerID, initiatorID
	case models.SideBuy:
		sellerID, buyerID = initiatorID, advert.OwnerID
	default:
		return models.Deal{}, fmt.Errorf("%w: unknown advert side %q", ErrValidation, advert.Side)
	}

	units := money.MinorToDecimal(fiatMinor).Div(advert.Price)
	if err := l.book.ReduceVolume(ctx, advertID, units); err != nil {
		return models.Deal{}, err
	}

	snap := l.rates.Current()
	feePct := snap.SellerFeePct
	base := units
	fee := base.Mul(feePct).Div(oneHundred)

	l.mu.Lock()
	now := l.now().UTC()
	offerExpires := now.Add(l.offerTTL)
	expires := now.Add(l.dealTTL)
	l.dealSeq++
	deal := models.Deal{
		ID:             uuid.NewString(),
		Ticket:         formatTicket("D", l.dealSeq),
		SellerID:       sellerID,
		BuyerID:        buyerID,
		FiatMinor:      fiatMinor,
		Rate:           advert.Price,
		FeePct:         feePct,
		FeeUnits:       fee,
		UnitAmount:     base.Add(fee),
		Status:         models.DealPending,
		QRStage:        models.QRIdle,
		IsP2P:          true,
		AdvertID:       advertID,
		InitiatorID:    initiatorID,
		CreatedAt:      now,
		ExpiresAt:      &expires,
		OfferExpiresAt: &offerExpires,
	}
	l.deals[deal.ID] = deal
	err = l.persistLocked(ctx)
	if err != nil {
		delete(l.deals, deal.ID)
		l.dealSeq--
	}
	l.mu.Unlock()
	if err != nil {
		if rerr := l.book.RestoreVolume(ctx, advertID, units); rerr != nil {
			return models.Deal{}, errors.Join(err, fmt.Errorf("restore advert volume: %w", rerr))
		}
		return models.Deal{}, err
	}
	l.broadcastDeal(deal, "offer created")
	return deal, nil
}

// AcceptOffer accepts a PENDING offer. Acceptance belongs to the party that
// did not initiate it. The seller's escrow is debited atomically with the
// move to PAID; if invoice creation fails afterwards, the acceptance is
// compensated with a forced cancel+refund and both errors are surfaced.
func (l *Ledger) AcceptOffer(ctx context.Context, dealID, actorID string) (models.Deal, error) {
	l.mu.Lock()
	deal, err := l.dealLocked(dealID)
	if err != nil {
		l.mu.Unlock()
		return models.Deal{}, err
	}
	if deal.Status != models.DealPending {
		l.mu.Unlock()
		return models.Deal{}, fmt.Errorf("%w: offer is %s", ErrInvalidState, deal.Status)
	}
	if !deal.IsParty(actorID) || actorID == deal.InitiatorID {
		l.mu.Unlock()
		return models.Deal{}, fmt.Errorf("%w: only the counterpart may accept", ErrPermissionDenied)
	}
	now := l.now().UTC()
	if deal.OfferExpiresAt != nil && now.After(*deal.OfferExpiresAt) {
		l.mu.Unlock()
		return models.Deal{}, fmt.Errorf("%w: offer expired", ErrInvalidState)
	}
	if err := l.debitLocked(deal.SellerID, deal.UnitAmount, models.EventEscrowReserve, deal.ID, "escrow for "+deal.Ticket); err != nil {
		l.mu.Unlock()
		return models.Deal{}, err
	}
	deal.Status = models.DealPaid
	deal.BalanceReserved = true
	disputeAt := now.Add(l.disputeDelay)
	deal.DisputeAvailableAt = &disputeAt
	l.deals[deal.ID] = deal
	if err := l.persistLocked(ctx); err != nil {
		// roll the in-memory debit back, nothing was made durable
		l.creditLocked(deal.SellerID, deal.UnitAmount, models.EventEscrowRelease, deal.ID, "escrow rollback")
		deal.Status = models.DealPending
		deal.BalanceReserved = false
		deal.DisputeAvailableAt = nil
		l.deals[deal.ID] = deal
		l.mu.Unlock()
		return models.Deal{}, err
	}
	sellerBalance := l.balances[deal.SellerID]
	l.mu.Unlock()
	l.broadcastBalance(deal.SellerID, sellerBalance)
	l.broadcastDeal(deal, "offer accepted")

	if l.invoices == nil {
		return deal, nil
	}
	invoice, err := l.invoices.CreateInvoice(ctx, deal.FiatMinor, "deal "+deal.Ticket)
	if err != nil {
		// Compensating step of the accept saga: undo the escrow debit and
		// cancel the deal. A failed compensation surfaces both errors.
		if _, cerr := l.Cancel(ctx, dealID, actorID, true); cerr != nil {
			return models.Deal{}, errors.Join(fmt.Errorf("create invoice: %w", err), fmt.Errorf("compensate: %w", cerr))
		}
		return models.Deal{}, fmt.Errorf("create invoice: %w", err)
	}
	l.mu.Lock()
	deal, derr := l.dealLocked(dealID)
	if derr == nil {
		deal.InvoiceID = invoice.ID
		deal.InvoicePayURL = invoice.PayURL
		l.deals[deal.ID] = deal
		derr = l.persistLocked(ctx)
	}
	l.mu.Unlock()
	if derr != nil {
		return models.Deal{}, derr
	}
	return deal, nil
}

// DeclineOffer cancels a PENDING offer. Either party may decline; the
// advert's reserved volume is restored.
func (l *Ledger) DeclineOffer(ctx context.Context, dealID, actorID string) (models.Deal, error) {
	l.mu.Lock()
	deal, err := l.dealLocked(dealID)
	if err != nil {
		l.mu.Unlock()
		return models.Deal{}, err
	}
	if deal.Status != models.DealPending {
		l.mu.Unlock()
		return models.Deal{}, fmt.Errorf("%w: offer is %s", ErrInvalidState, deal.Status)
	}
	if !deal.IsParty(actorID) {
		l.mu.Unlock()
		return models.Deal{}, fmt.Errorf("%w: not a party to this offer", ErrPermissionDenied)
	}
	deal, err = l.closePendingLocked(ctx, deal, models.DealCanceled)
	l.mu.Unlock()
	if err != nil {
		return models.Deal{}, err
	}
	l.restoreAdvertVolume(ctx, &deal)
	l.broadcastDeal(deal, "offer declined")
	return deal, nil
}

// MarkExternallyPaid records a confirmed gateway payment, reserving the
// seller's escrow if it was not already held. Called by the invoice watcher
// and by the moderator path.
func (l *Ledger) MarkExternallyPaid(ctx context.Context, dealID string) (models.Deal, error) {
	l.mu.Lock()
	deal, err := l.dealLocked(dealID)
	if err != nil {
		l.mu.Unlock()
		return models.Deal{}, err
	}
	if deal.Status != models.DealOpen && deal.Status != models.DealReserved {
		l.mu.Unlock()
		return models.Deal{}, fmt.Errorf("%w: deal is %s", ErrInvalidState, deal.Status)
	}
	if !deal.BalanceReserved {
		if err := l.debitLocked(deal.SellerID, deal.UnitAmount, models.EventEscrowReserve, deal.ID, "escrow for "+deal.Ticket); err != nil {
			l.mu.Unlock()
			return models.Deal{}, err
		}
		deal.BalanceReserved = true
	}
	deal.Status = models.DealPaid
	now := l.now().UTC()
	disputeAt := now.Add(l.disputeDelay)
	deal.DisputeAvailableAt = &disputeAt
	l.deals[deal.ID] = deal
	if err := l.persistLocked(ctx); err != nil {
		l.mu.Unlock()
		return models.Deal{}, err
	}
	sellerBalance := l.balances[deal.SellerID]
	l.mu.Unlock()
	l.broadcastBalance(deal.SellerID, sellerBalance)
	l.broadcastDeal(deal, "payment confirmed")
	return deal, nil
}

// Reserve moves an OPEN deal to RESERVED, debiting the seller's escrow up
// front. Seller or moderator only.
func (l *Ledger) Reserve(ctx context.Context, dealID, actorID string) (models.Deal, error) {
	l.mu.Lock()
	deal, err := l.dealLocked(dealID)
	if err != nil {
		l.mu.Unlock()
		return models.Deal{}, err
	}
	if actorID != deal.SellerID && !l.privileges.IsModerator(actorID) {
		l.mu.Unlock()
		return models.Deal{}, fmt.Errorf("%w: seller or moderator required", ErrPermissionDenied)
	}
	if deal.Status != models.DealOpen || deal.BalanceReserved {
		l.mu.Unlock()
		return models.Deal{}, fmt.Errorf("%w: deal is %s", ErrInvalidState, deal.Status)
	}
	if err := l.debitLocked(deal.SellerID, deal.UnitAmount, models.EventEscrowReserve, deal.ID, "escrow for "+deal.Ticket); err != nil {
		l.mu.Unlock()
		return models.Deal{}, err
	}
	deal.Status = models.DealReserved
	deal.BalanceReserved = true
	l.deals[deal.ID] = deal
	if err := l.persistLocked(ctx); err != nil {
		l.mu.Unlock()
		return models.Deal{}, err
	}
	sellerBalance := l.balances[deal.SellerID]
	l.mu.Unlock()
	l.broadcastBalance(deal.SellerID, sellerBalance)
	l.broadcastDeal(deal, "escrow reserved")
	return deal, nil
}

// Release refunds a held escrow and reopens the deal. Moderator only; the
// regular refund paths run through Cancel and ResolveDispute. The deal drops
// back to OPEN with the confirmations cleared, so a released escrow can never
// be followed by a payout.
func (l *Ledger) Release(ctx context.Context, dealID, actorID string) (models.Deal, error) {
	if !l.privileges.IsModerator(actorID) {
		return models.Deal{}, fmt.Errorf("%w: moderator required", ErrPermissionDenied)
	}
	l.mu.Lock()
	deal, err := l.dealLocked(dealID)
	if err != nil {
		l.mu.Unlock()
		return models.Deal{}, err
	}
	if deal.Status == models.DealDispute {
		l.mu.Unlock()
		return models.Deal{}, fmt.Errorf("%w: dispute in progress, resolve it instead", ErrInvalidState)
	}
	if !deal.BalanceReserved || deal.PayoutCompleted {
		l.mu.Unlock()
		return models.Deal{}, fmt.Errorf("%w: no escrow held", ErrInvalidState)
	}
	l.creditLocked(deal.SellerID, deal.UnitAmount, models.EventEscrowRelease, deal.ID, "escrow released for "+deal.Ticket)
	deal.BalanceReserved = false
	deal.BuyerCashConfirmed = false
	deal.SellerCashConfirmed = false
	if deal.Status == models.DealPaid || deal.Status == models.DealReserved {
		deal.Status = models.DealOpen
		deal.DisputeAvailableAt = nil
	}
	l.deals[deal.ID] = deal
	if err := l.persistLocked(ctx); err != nil {
		l.mu.Unlock()
		return models.Deal{}, err
	}
	sellerBalance := l.balances[deal.SellerID]
	l.mu.Unlock()
	l.broadcastBalance(deal.SellerID, sellerBalance)
	return deal, nil
}

// ConfirmBuyerCash sets the buyer's hand-off confirmation. The deal
// finalizes once both parties have confirmed; duplicate confirms are no-op
// successes.
func (l *Ledger) ConfirmBuyerCash(ctx context.Context, dealID, actorID string) (models.Deal, error) {
	return l.confirmCash(ctx, dealID, actorID, true)
}

// ConfirmSellerCash is the seller-side counterpart of ConfirmBuyerCash.
func (l *Ledger) ConfirmSellerCash(ctx context.Context, dealID, actorID string) (models.Deal, error) {
	return l.confirmCash(ctx, dealID, actorID, false)
}

func (l *Ledger) confirmCash(ctx context.Context, dealID, actorID string, buyer bool) (models.Deal, error) {
	l.mu.Lock()
	deal, err := l.dealLocked(dealID)
	if err != nil {
		l.mu.Unlock()
		return models.Deal{}, err
	}
	if deal.PayoutCompleted {
		// finalize already ran; a racing duplicate confirm succeeds quietly
		l.mu.Unlock()
		return deal, nil
	}
	if deal.Status != models.DealPaid && deal.Status != models.DealReserved {
		l.mu.Unlock()
		return models.Deal{}, fmt.Errorf("%w: deal is %s", ErrInvalidState, deal.Status)
	}
	if deal.Status == models.DealPaid && deal.QRStage != models.QRIdle && deal.QRStage != models.QRReady {
		l.mu.Unlock()
		return models.Deal{}, fmt.Errorf("%w: hand-off not ready", ErrInvalidState)
	}
	if buyer {
		if actorID != deal.BuyerID {
			l.mu.Unlock()
			return models.Deal{}, fmt.Errorf("%w: only the buyer may confirm", ErrPermissionDenied)
		}
		deal.BuyerCashConfirmed = true
	} else {
		if actorID != deal.SellerID {
			l.mu.Unlock()
			return models.Deal{}, fmt.Errorf("%w: only the seller may confirm", ErrPermissionDenied)
		}
		deal.SellerCashConfirmed = true
	}
	deal = l.finalizeLocked(deal)
	l.deals[deal.ID] = deal
	if err := l.persistLocked(ctx); err != nil {
		l.mu.Unlock()
		return models.Deal{}, err
	}
	var buyerBalance decimal.Decimal
	completed := deal.Status == models.DealCompleted
	if completed {
		buyerBalance = l.balances[deal.BuyerID]
	}
	l.mu.Unlock()
	if completed {
		l.broadcastBalance(deal.BuyerID, buyerBalance)
		l.broadcastDeal(deal, "deal completed")
	}
	return deal, nil
}

// finalizeLocked credits the buyer exactly once when both confirmations are
// in. PayoutCompleted is the idempotency guard against a double credit, and
// the payout only fires while the escrow is actually held.
func (l *Ledger) finalizeLocked(deal models.Deal) models.Deal {
	if deal.PayoutCompleted || !deal.BuyerCashConfirmed || !deal.SellerCashConfirmed {
		return deal
	}
	if !deal.BalanceReserved {
		return deal
	}
	if deal.Status != models.DealPaid && deal.Status != models.DealReserved {
		return deal
	}
	l.creditLocked(deal.BuyerID, deal.UnitAmount, models.EventDealPayout, deal.ID, "payout for "+deal.Ticket)
	deal.PayoutCompleted = true
	deal.BalanceReserved = false
	deal.Status = models.DealCompleted
	return deal
}

// Complete force-finalizes a deal, crediting the buyer regardless of the
// confirmation flags. Moderator only.
func (l *Ledger) Complete(ctx context.Context, dealID, actorID string) (models.Deal, error) {
	if !l.privileges.IsModerator(actorID) {
		return models.Deal{}, fmt.Errorf("%w: moderator required", ErrPermissionDenied)
	}
	l.mu.Lock()
	deal, err := l.dealLocked(dealID)
	if err != nil {
		l.mu.Unlock()
		return models.Deal{}, err
	}
	if deal.PayoutCompleted {
		l.mu.Unlock()
		return deal, nil
	}
	if deal.Status != models.DealPaid && deal.Status != models.DealReserved {
		l.mu.Unlock()
		return models.Deal{}, fmt.Errorf("%w: deal is %s", ErrInvalidState, deal.Status)
	}
	deal.BuyerCashConfirmed = true
	deal.SellerCashConfirmed = true
	deal = l.finalizeLocked(deal)
	l.deals[deal.ID] = deal
	if err := l.persistLocked(ctx); err != nil {
		l.mu.Unlock()
		return models.Deal{}, err
	}
	buyerBalance := l.balances[deal.BuyerID]
	l.mu.Unlock()
	l.broadcastBalance(deal.BuyerID, buyerBalance)
	l.broadcastDeal(deal, "deal completed")
	return deal, nil
}

// OpenDispute moves a funded deal into DISPUTE once the post-payment window
// has opened. The dispute record itself lives in the dispute service; the
// caller invokes both halves.
func (l *Ledger) OpenDispute(ctx context.Context, dealID, actorID, reason string) (models.Deal, error) {
	if reason == "" {
		return models.Deal{}, fmt.Errorf("%w: reason required", ErrValidation)
	}
	l.mu.Lock()
	deal, err := l.dealLocked(dealID)
	if err != nil {
		l.mu.Unlock()
		return models.Deal{}, err
	}
	if !deal.IsParty(actorID) {
		l.mu.Unlock()
		return models.Deal{}, fmt.Errorf("%w: not a party to this deal", ErrPermissionDenied)
	}
	if deal.Status != models.DealPaid && deal.Status != models.DealReserved {
		l.mu.Unlock()
		return models.Deal{}, fmt.Errorf("%w: deal is %s", ErrInvalidState, deal.Status)
	}
	now := l.now().UTC()
	if deal.DisputeAvailableAt != nil && now.Before(*deal.DisputeAvailableAt) {
		l.mu.Unlock()
		return models.Deal{}, fmt.Errorf("%w: dispute window opens at %s", ErrInvalidState, deal.DisputeAvailableAt.Format("15:04:05"))
	}
	deal.Status = models.DealDispute
	deal.DisputeOpenedBy = actorID
	deal.DisputeOpenedAt = &now
	l.deals[deal.ID] = deal
	if err := l.persistLocked(ctx); err != nil {
		l.mu.Unlock()
		return models.Deal{}, err
	}
	l.mu.Unlock()
	l.broadcastDeal(deal, "dispute opened")
	return deal, nil
}

// ResolveDispute is the money half of arbitration: it splits the escrowed
// amount between seller and buyer. sellerAmt+buyerAmt must not exceed the
// escrow; PayoutCompleted makes a retried resolution a no-op.
func (l *Ledger) ResolveDispute(ctx context.Context, dealID, resolverID string, sellerAmt, buyerAmt decimal.Decimal) (models.Deal, error) {
	if !l.privileges.IsModerator(resolverID) {
		return models.Deal{}, fmt.Errorf("%w: moderator required", ErrPermissionDenied)
	}
	if sellerAmt.IsNegative() || buyerAmt.IsNegative() {
		return models.Deal{}, fmt.Errorf("%w: split amounts must not be negative", ErrValidation)
	}
	l.mu.Lock()
	deal, err := l.dealLocked(dealID)
	if err != nil {
		l.mu.Unlock()
		return models.Deal{}, err
	}
	if deal.PayoutCompleted {
		l.mu.Unlock()
		return deal, nil
	}
	if deal.Status != models.DealDispute {
		l.mu.Unlock()
		return models.Deal{}, fmt.Errorf("%w: deal is %s", ErrInvalidState, deal.Status)
	}
	if sellerAmt.Add(buyerAmt).GreaterThan(deal.UnitAmount) {
		l.mu.Unlock()
		return models.Deal{}, fmt.Errorf("%w: split exceeds escrowed %s", ErrValidation, deal.UnitAmount)
	}
	if sellerAmt.IsPositive() {
		l.creditLocked(deal.SellerID, sellerAmt, models.EventDisputePayout, deal.ID, "dispute split for "+deal.Ticket)
	}
	if buyerAmt.IsPositive() {
		l.creditLocked(deal.BuyerID, buyerAmt, models.EventDisputePayout, deal.ID, "dispute split for "+deal.Ticket)
	}
	deal.PayoutCompleted = true
	deal.BalanceReserved = false
	deal.Status = models.DealCompleted
	l.deals[deal.ID] = deal
	if err := l.persistLocked(ctx); err != nil {
		l.mu.Unlock()
		return models.Deal{}, err
	}
	sellerBalance := l.balances[deal.SellerID]
	buyerBalance := l.balances[deal.BuyerID]
	l.mu.Unlock()
	l.broadcastBalance(deal.SellerID, sellerBalance)
	l.broadcastBalance(deal.BuyerID, buyerBalance)
	l.broadcastDeal(deal, "dispute resolved")
	return deal, nil
}

// ExpireOffers cancels every PENDING offer past its deadline, refunding any
// reservation and restoring advert volume. Returns how many were expired.
func (l *Ledger) ExpireOffers(ctx context.Context) (int, error) {
	now := l.now().UTC()
	l.mu.Lock()
	expired := make([]models.Deal, 0)
	for id, deal := range l.deals {
		if deal.Status != models.DealPending || deal.OfferExpiresAt == nil || now.Before(*deal.OfferExpiresAt) {
			continue
		}
		closed, err := l.closePendingLocked(ctx, deal, models.DealExpired)
		if err != nil {
			l.mu.Unlock()
			return len(expired), err
		}
		l.deals[id] = closed
		expired = append(expired, closed)
	}
	l.mu.Unlock()
	for i := range expired {
		l.restoreAdvertVolume(ctx, &expired[i])
		l.broadcastDeal(expired[i], "offer expired")
	}
	return len(expired), nil
}

// NotifyDisputeWindows sends the one-time "dispute window open" note for
// PAID deals whose cooldown has elapsed. Idempotent via DisputeNotified.
func (l *Ledger) NotifyDisputeWindows(ctx context.Context) (int, error) {
	now := l.now().UTC()
	l.mu.Lock()
	due := make([]models.Deal, 0)
	for id, deal := range l.deals {
		if deal.Status != models.DealPaid || deal.DisputeNotified {
			continue
		}
		if deal.DisputeAvailableAt == nil || now.Before(*deal.DisputeAvailableAt) {
			continue
		}
		deal.DisputeNotified = true
		l.deals[id] = deal
		due = append(due, deal)
	}
	var err error
	if len(due) > 0 {
		err = l.persistLocked(ctx)
	}
	l.mu.Unlock()
	if err != nil {
		return 0, err
	}
	for _, deal := range due {
		l.broadcastDeal(deal, "dispute window open")
	}
	return len(due), nil
}

// closePendingLocked moves a PENDING offer to its terminal status, refunding
// the reservation if one was taken. Volume restoration happens outside the
// lock via restoreAdvertVolume.
func (l *Ledger) closePendingLocked(ctx context.Context, deal models.Deal, status models.DealStatus) (models.Deal, error) {
	prior := deal
	refunded := false
	if deal.BalanceReserved && !deal.PayoutCompleted {
		l.creditLocked(deal.SellerID, deal.UnitAmount, models.EventEscrowRelease, deal.ID, "refund for "+deal.Ticket)
		deal.BalanceReserved = false
		refunded = true
	}
	deal.Status = status
	l.deals[deal.ID] = deal
	if err := l.persistLocked(ctx); err != nil {
		// roll the in-memory refund back, nothing was made durable
		if refunded {
			_ = l.debitLocked(prior.SellerID, prior.UnitAmount, models.EventEscrowReserve, prior.ID, "refund rollback")
		}
		l.deals[prior.ID] = prior
		return prior, err
	}
	return deal, nil
}

// restoreAdvertVolume gives the advert its reserved volume back, once per
// deal. Failures are not fatal to the caller's operation: the advert may
// legitimately be gone.
func (l *Ledger) restoreAdvertVolume(ctx context.Context, deal *models.Deal) {
	if !deal.IsP2P || deal.VolumeReturned || deal.AdvertID == "" {
		return
	}
	units := money.MinorToDecimal(deal.FiatMinor).Div(deal.Rate)
	if err := l.book.RestoreVolume(ctx, deal.AdvertID, units); err != nil {
		// a vanished advert returns nil, so this is a real failure; the flag
		// stays false and a later close attempt may retry
		log.Printf("restore volume for deal %s: %v", deal.Ticket, err)
		return
	}
	l.mu.Lock()
	if current, ok := l.deals[deal.ID]; ok {
		current.VolumeReturned = true
		l.deals[deal.ID] = current
		_ = l.persistLocked(ctx)
		*deal = current
	}
	l.mu.Unlock()
}
