package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"otcdesk/internal/models"
)

func (f *fixture) readyDeal(t *testing.T, sellerID, buyerID string) models.Deal {
	t.Helper()
	ctx := context.Background()
	deal := f.paidDeal(t, sellerID, buyerID)
	for _, step := range []func() (models.Deal, error){
		func() (models.Deal, error) { return f.engine.RequestBankQR(ctx, deal.ID, buyerID) },
		func() (models.Deal, error) { return f.engine.ChooseBank(ctx, deal.ID, sellerID, "bank") },
		func() (models.Deal, error) { return f.engine.AttachQR(ctx, deal.ID, sellerID, "qr-1") },
		func() (models.Deal, error) { return f.engine.ConfirmBuyerReady(ctx, deal.ID, buyerID) },
		func() (models.Deal, error) { return f.engine.AttachPayoutPhoto(ctx, deal.ID, sellerID, "ph-1") },
	} {
		var err error
		if deal, err = step(); err != nil {
			t.Fatalf("hand-off step: %v", err)
		}
	}
	return deal
}

func TestCancelOpenDealByBuyer(t *testing.T) {
	f := newFixture(t, "100", "0")
	ctx := context.Background()
	deal, err := f.engine.CreateDirectDeal(ctx, "seller", "buyer", 5000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	canceled, err := f.engine.Cancel(ctx, deal.ID, "buyer", false)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != models.DealCanceled {
		t.Fatalf("status = %s", canceled.Status)
	}
}

func TestCancelStrangerRejected(t *testing.T) {
	f := newFixture(t, "100", "0")
	ctx := context.Background()
	deal, err := f.engine.CreateDirectDeal(ctx, "seller", "buyer", 5000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.engine.Cancel(ctx, deal.ID, "mallory", false); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestSellerCancelOfPaidRefunds(t *testing.T) {
	f := newFixture(t, "100", "0")
	f.fund(t, "seller", "50")
	deal := f.paidDeal(t, "seller", "buyer")
	canceled, err := f.engine.Cancel(context.Background(), deal.ID, "seller", false)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.BalanceReserved {
		t.Fatal("escrow still marked held")
	}
	mustEqual(t, f.engine.Balance("seller"), dec(t, "50"), "seller refunded")
}

func TestBuyerCancelOfPaidKeepsEscrowHeld(t *testing.T) {
	f := newFixture(t, "100", "0")
	f.fund(t, "seller", "50")
	deal := f.paidDeal(t, "seller", "buyer")
	canceled, err := f.engine.Cancel(context.Background(), deal.ID, "buyer", false)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != models.DealCanceled {
		t.Fatalf("status = %s", canceled.Status)
	}
	// the escrow stays held for arbitration, the seller is not refunded
	mustEqual(t, f.engine.Balance("seller"), dec(t, "0"), "seller balance after buyer cancel")
	if !canceled.BalanceReserved {
		t.Fatal("escrow released on buyer cancel")
	}
}

func TestSellerCannotCancelAtReadyWithQR(t *testing.T) {
	f := newFixture(t, "100", "0")
	f.fund(t, "seller", "50")
	deal := f.readyDeal(t, "seller", "buyer")
	if _, err := f.engine.Cancel(context.Background(), deal.ID, "seller", false); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestBuyerCannotCancelAtReady(t *testing.T) {
	f := newFixture(t, "100", "0")
	f.fund(t, "seller", "50")
	deal := f.readyDeal(t, "seller", "buyer")
	if _, err := f.engine.Cancel(context.Background(), deal.ID, "buyer", false); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestForceCancelDisputedDealRefunds(t *testing.T) {
	f := newFixture(t, "100", "0")
	f.fund(t, "seller", "50")
	deal := f.paidDeal(t, "seller", "buyer")
	ctx := context.Background()
	f.advance(2 * time.Hour)
	if _, err := f.engine.OpenDispute(ctx, deal.ID, "buyer", "no cash"); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if _, err := f.engine.Cancel(ctx, deal.ID, "seller", false); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("party cancel of dispute: err = %v", err)
	}
	canceled, err := f.engine.Cancel(ctx, deal.ID, "mod", true)
	if err != nil {
		t.Fatalf("force cancel: %v", err)
	}
	if canceled.Status != models.DealCanceled {
		t.Fatalf("status = %s", canceled.Status)
	}
	mustEqual(t, f.engine.Balance("seller"), dec(t, "50"), "seller refunded by force cancel")
}

func TestCancelTerminalDealRejected(t *testing.T) {
	f := newFixture(t, "100", "0")
	ctx := context.Background()
	deal, err := f.engine.CreateDirectDeal(ctx, "seller", "buyer", 5000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.engine.Cancel(ctx, deal.ID, "seller", false); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if _, err := f.engine.Cancel(ctx, deal.ID, "seller", false); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second cancel: err = %v, want ErrInvalidState", err)
	}
}
