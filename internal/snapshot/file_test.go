package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"otcdesk/internal/models"
)

func TestFileStoreLoadMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	state, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(state.Users) != 0 || len(state.Deals) != 0 {
		t.Fatalf("fresh state not empty: %+v", state)
	}
}

func TestFileStorePersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileStore(path)
	ctx := context.Background()
	if _, err := store.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	deal := models.Deal{
		ID:         "deal-1",
		Ticket:     "D-1",
		SellerID:   "seller",
		BuyerID:    "buyer",
		FiatMinor:  5000,
		Rate:       decimal.NewFromInt(100),
		UnitAmount: decimal.NewFromInt(50),
		Status:     models.DealPaid,
		QRStage:    models.QRIdle,
		CreatedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	err := store.Persist(ctx, Patch{Ledger: &LedgerSection{
		Balances: map[string]decimal.Decimal{"seller": decimal.NewFromInt(7)},
		Deals:    map[string]models.Deal{deal.ID: deal},
		DealSeq:  1,
	}})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}

	reloaded, err := NewFileStore(path).Load(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.Balances["seller"].Equal(decimal.NewFromInt(7)) {
		t.Fatalf("balance = %s", reloaded.Balances["seller"])
	}
	got, ok := reloaded.Deals["deal-1"]
	if !ok {
		t.Fatal("deal missing after reload")
	}
	if got.Status != models.DealPaid || !got.UnitAmount.Equal(deal.UnitAmount) || !got.CreatedAt.Equal(deal.CreatedAt) {
		t.Fatalf("deal round trip mismatch: %+v", got)
	}
	if reloaded.DealSeq != 1 {
		t.Fatalf("deal seq = %d", reloaded.DealSeq)
	}
}

func TestFileStorePatchTouchesOnlyItsSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileStore(path)
	ctx := context.Background()
	if _, err := store.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	err := store.Persist(ctx, Patch{Users: &UsersSection{Users: map[string]models.User{
		"u1": {ID: "u1", Username: "alice"},
	}}})
	if err != nil {
		t.Fatalf("persist users: %v", err)
	}
	rate := models.RateSnapshot{Rate: decimal.NewFromInt(90), Version: 1}
	if err := store.Persist(ctx, Patch{Rate: &rate}); err != nil {
		t.Fatalf("persist rate: %v", err)
	}

	reloaded, err := NewFileStore(path).Load(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := reloaded.Users["u1"]; !ok {
		t.Fatal("rate patch wiped the users section")
	}
	if !reloaded.Rate.Rate.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("rate = %s", reloaded.Rate.Rate)
	}
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "state.json"))
	ctx := context.Background()
	if _, err := store.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	rate := models.RateSnapshot{Rate: decimal.NewFromInt(90)}
	if err := store.Persist(ctx, Patch{Rate: &rate}); err != nil {
		t.Fatalf("persist: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "state.json" {
		t.Fatalf("unexpected files: %v", entries)
	}
}
