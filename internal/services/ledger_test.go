package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"otcdesk/internal/models"
	"otcdesk/internal/snapshot"
)

func TestDepositAndBalance(t *testing.T) {
	f := newFixture(t, "90", "2")
	balance, err := f.engine.Deposit(context.Background(), "alice", dec(t, "10"))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	mustEqual(t, balance, dec(t, "10"), "balance after deposit")
	if f.store.persists != 1 {
		t.Fatalf("persists = %d, want 1", f.store.persists)
	}
}

func TestDepositRejectsNonPositive(t *testing.T) {
	f := newFixture(t, "90", "2")
	for _, amount := range []string{"0", "-5"} {
		if _, err := f.engine.Deposit(context.Background(), "alice", dec(t, amount)); !errors.Is(err, ErrValidation) {
			t.Fatalf("deposit %s: err = %v, want ErrValidation", amount, err)
		}
	}
}

func TestWithdrawTakesFee(t *testing.T) {
	f := newFixture(t, "90", "2")
	f.fund(t, "alice", "101")
	fee, err := f.engine.Withdraw(context.Background(), "alice", "", dec(t, "100"))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	mustEqual(t, fee, dec(t, "1"), "withdraw fee at 1%")
	mustEqual(t, f.engine.Balance("alice"), dec(t, "0"), "balance after withdraw")
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	f := newFixture(t, "90", "2")
	f.fund(t, "alice", "100")
	// amount plus fee exceeds the balance
	if _, err := f.engine.Withdraw(context.Background(), "alice", "", dec(t, "100")); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	mustEqual(t, f.engine.Balance("alice"), dec(t, "100"), "balance untouched after failed withdraw")
}

func TestWithdrawSendsGatewayPayout(t *testing.T) {
	f := newFixture(t, "100", "0")
	payouts := &stubPayouts{}
	f.engine.payouts = payouts
	f.fund(t, "alice", "10.1")

	fee, err := f.engine.Withdraw(context.Background(), "alice", "acct-77", dec(t, "10"))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	mustEqual(t, fee, dec(t, "0.1"), "withdraw fee")
	mustEqual(t, f.engine.Balance("alice"), dec(t, "0"), "balance after payout")
	if len(payouts.destinations) != 1 || payouts.destinations[0] != "acct-77" {
		t.Fatalf("destinations = %v", payouts.destinations)
	}
	// 10 units at rate 100 is 1000.00 fiat
	if payouts.amounts[0] != 100000 {
		t.Fatalf("payout minor = %d, want 100000", payouts.amounts[0])
	}
}

func TestWithdrawWithoutDestinationSkipsGateway(t *testing.T) {
	f := newFixture(t, "100", "0")
	payouts := &stubPayouts{}
	f.engine.payouts = payouts
	f.fund(t, "alice", "10.1")

	if _, err := f.engine.Withdraw(context.Background(), "alice", "", dec(t, "10")); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if len(payouts.destinations) != 0 {
		t.Fatalf("gateway called for a destination-less withdrawal: %v", payouts.destinations)
	}
}

func TestWithdrawGatewayFailureRefunds(t *testing.T) {
	f := newFixture(t, "100", "0")
	f.engine.payouts = &stubPayouts{
		transferFn: func(context.Context, string, int64) (string, error) {
			return "", errors.New("gateway down")
		},
	}
	f.fund(t, "alice", "10.1")

	if _, err := f.engine.Withdraw(context.Background(), "alice", "acct-77", dec(t, "10")); err == nil {
		t.Fatal("expected gateway failure to surface")
	}
	mustEqual(t, f.engine.Balance("alice"), dec(t, "10.1"), "balance restored after failed payout")

	kinds := make(map[models.BalanceEventKind]int)
	for _, event := range f.engine.Events("alice", 0, 0) {
		kinds[event.Kind]++
	}
	if kinds[models.EventWithdraw] != 1 || kinds[models.EventDeposit] != 2 {
		t.Fatalf("unexpected event kinds after reversal: %v", kinds)
	}
}

func TestTransferConservesTotal(t *testing.T) {
	f := newFixture(t, "90", "2")
	f.fund(t, "alice", "30")
	f.fund(t, "bob", "5")
	if err := f.engine.Transfer(context.Background(), "alice", "bob", dec(t, "12.5")); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	mustEqual(t, f.engine.Balance("alice"), dec(t, "17.5"), "sender balance")
	mustEqual(t, f.engine.Balance("bob"), dec(t, "17.5"), "recipient balance")
	total := f.engine.Balance("alice").Add(f.engine.Balance("bob"))
	mustEqual(t, total, dec(t, "35"), "total across accounts")
}

func TestTransferToSelfRejected(t *testing.T) {
	f := newFixture(t, "90", "2")
	f.fund(t, "alice", "10")
	if err := f.engine.Transfer(context.Background(), "alice", "alice", dec(t, "1")); !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestEventsNewestFirstWithPaging(t *testing.T) {
	f := newFixture(t, "90", "2")
	ctx := context.Background()
	for _, amount := range []string{"1", "2", "3"} {
		if _, err := f.engine.Deposit(ctx, "alice", dec(t, amount)); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}
	f.fund(t, "bob", "50")

	events := f.engine.Events("alice", 2, 0)
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	mustEqual(t, events[0].Amount, dec(t, "3"), "newest event first")
	mustEqual(t, events[1].Amount, dec(t, "2"), "second event")

	rest := f.engine.Events("alice", 2, 2)
	if len(rest) != 1 {
		t.Fatalf("len(rest) = %d, want 1", len(rest))
	}
	mustEqual(t, rest[0].Amount, dec(t, "1"), "offset event")
	for _, event := range append(events, rest...) {
		if event.UserID != "alice" {
			t.Fatalf("event for %s leaked into alice's history", event.UserID)
		}
	}
}

func TestEventsAreAppendOnlyAcrossOperations(t *testing.T) {
	f := newFixture(t, "100", "0")
	ctx := context.Background()
	f.fund(t, "seller", "50")
	deal := f.paidDeal(t, "seller", "buyer")
	if _, err := f.engine.Cancel(ctx, deal.ID, "seller", false); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	kinds := make(map[models.BalanceEventKind]int)
	for _, event := range f.engine.Events("seller", 0, 0) {
		kinds[event.Kind]++
	}
	if kinds[models.EventDeposit] != 1 || kinds[models.EventEscrowReserve] != 1 || kinds[models.EventEscrowRelease] != 1 {
		t.Fatalf("unexpected event kinds: %v", kinds)
	}
	// every reserve has a matching release, the audit trail nets to the deposit
	var net decimal.Decimal
	for _, event := range f.engine.Events("seller", 0, 0) {
		net = net.Add(event.Amount)
	}
	mustEqual(t, net, dec(t, "50"), "net of audit trail")
	mustEqual(t, f.engine.Balance("seller"), dec(t, "50"), "balance matches audit net")
}

func TestPersistFailureSurfaces(t *testing.T) {
	f := newFixture(t, "90", "2")
	f.store.persistFn = func(context.Context, snapshot.Patch) error { return errors.New("disk full") }
	if _, err := f.engine.Deposit(context.Background(), "alice", dec(t, "10")); err == nil {
		t.Fatal("expected persist failure to surface")
	}
}
