package services

import (
	"context"
	"fmt"

	"otcdesk/internal/models"
)

// The QR hand-off walks a fixed ladder of sub-stages while the deal is PAID:
//
//	IDLE -> AWAITING_SELLER_BANK    buyer requests a payout bank
//	     -> AWAITING_SELLER_ATTACH  seller picks the bank
//	     -> AWAITING_BUYER_READY    seller attaches the QR code
//	     -> AWAITING_SELLER_PHOTO   buyer confirms being at the machine
//	     -> READY                   seller attaches the payout photo
//
// Each transition is guarded by actor identity and by the current stage;
// any other combination fails with a typed error.

// RequestBankQR starts the hand-off. Buyer only, from IDLE.
func (l *Ledger) RequestBankQR(ctx context.Context, dealID, actorID string) (models.Deal, error) {
	return l.qrTransition(ctx, dealID, actorID, qrStep{
		actorIsBuyer: true,
		from:         models.QRIdle,
		to:           models.QRAwaitingSellerBank,
		note:         "bank requested",
	})
}

// ChooseBank records the seller's bank choice.
func (l *Ledger) ChooseBank(ctx context.Context, dealID, actorID, bank string) (models.Deal, error) {
	if bank == "" {
		return models.Deal{}, fmt.Errorf("%w: bank required", ErrValidation)
	}
	return l.qrTransition(ctx, dealID, actorID, qrStep{
		from:  models.QRAwaitingSellerBank,
		to:    models.QRAwaitingSellerAttach,
		note:  "bank chosen",
		apply: func(d *models.Deal) { d.Bank = bank },
	})
}

// AttachQR stores the scannable payout code. Seller only.
func (l *Ledger) AttachQR(ctx context.Context, dealID, actorID, fileID string) (models.Deal, error) {
	if fileID == "" {
		return models.Deal{}, fmt.Errorf("%w: QR artifact required", ErrValidation)
	}
	return l.qrTransition(ctx, dealID, actorID, qrStep{
		from:  models.QRAwaitingSellerAttach,
		to:    models.QRAwaitingBuyerReady,
		note:  "QR attached",
		apply: func(d *models.Deal) { d.QRFileID = fileID },
	})
}

// ConfirmBuyerReady signals the buyer is in front of the cash machine.
func (l *Ledger) ConfirmBuyerReady(ctx context.Context, dealID, actorID string) (models.Deal, error) {
	return l.qrTransition(ctx, dealID, actorID, qrStep{
		actorIsBuyer: true,
		from:         models.QRAwaitingBuyerReady,
		to:           models.QRAwaitingSellerPhoto,
		note:         "buyer ready",
	})
}

// AttachPayoutPhoto completes the ladder; from READY either party may
// confirm the cash side independently.
func (l *Ledger) AttachPayoutPhoto(ctx context.Context, dealID, actorID, photoID string) (models.Deal, error) {
	if photoID == "" {
		return models.Deal{}, fmt.Errorf("%w: payout photo required", ErrValidation)
	}
	return l.qrTransition(ctx, dealID, actorID, qrStep{
		from:  models.QRAwaitingSellerPhoto,
		to:    models.QRReady,
		note:  "payout photo attached",
		apply: func(d *models.Deal) { d.PayoutPhotoID = photoID },
	})
}

type qrStep struct {
	actorIsBuyer bool
	from         models.QRStage
	to           models.QRStage
	note         string
	apply        func(*models.Deal)
}

func (l *Ledger) qrTransition(ctx context.Context, dealID, actorID string, step qrStep) (models.Deal, error) {
	l.mu.Lock()
	deal, err := l.dealLocked(dealID)
	if err != nil {
		l.mu.Unlock()
		return models.Deal{}, err
	}
	if deal.Status != models.DealPaid {
		l.mu.Unlock()
		return models.Deal{}, fmt.Errorf("%w: hand-off only runs on a PAID deal, got %s", ErrInvalidState, deal.Status)
	}
	want := deal.SellerID
	if step.actorIsBuyer {
		want = deal.BuyerID
	}
	if actorID != want {
		l.mu.Unlock()
		return models.Deal{}, fmt.Errorf("%w: wrong party for this hand-off step", ErrPermissionDenied)
	}
	if deal.QRStage != step.from {
		l.mu.Unlock()
		return models.Deal{}, fmt.Errorf("%w: hand-off is at %s", ErrInvalidState, deal.QRStage)
	}
	deal.QRStage = step.to
	if step.apply != nil {
		step.apply(&deal)
	}
	l.deals[deal.ID] = deal
	if err := l.persistLocked(ctx); err != nil {
		l.mu.Unlock()
		return models.Deal{}, err
	}
	l.mu.Unlock()
	l.broadcastDeal(deal, step.note)
	return deal, nil
}
