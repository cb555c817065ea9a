package services

import (
	"context"
	"errors"
	"testing"

	"otcdesk/internal/models"
)

func sellAdvert(t *testing.T, f *fixture, ownerID string) models.Advert {
	t.Helper()
	advert, err := f.adverts.Create(context.Background(), ownerID, AdvertInput{
		Side:         models.SideSell,
		Price:        dec(t, "90"),
		Volume:       dec(t, "10"),
		MinFiatMinor: 50000,
		MaxFiatMinor: 90000,
	})
	if err != nil {
		t.Fatalf("create advert: %v", err)
	}
	return advert
}

func TestAdvertCreateValidation(t *testing.T) {
	f := newFixture(t, "90", "2")
	cases := []struct {
		name string
		in   AdvertInput
	}{
		{"bad side", AdvertInput{Side: "short", Price: dec(t, "90"), Volume: dec(t, "1"), MinFiatMinor: 1, MaxFiatMinor: 2}},
		{"zero price", AdvertInput{Side: models.SideSell, Price: dec(t, "0"), Volume: dec(t, "1"), MinFiatMinor: 1, MaxFiatMinor: 2}},
		{"zero volume", AdvertInput{Side: models.SideSell, Price: dec(t, "90"), Volume: dec(t, "0"), MinFiatMinor: 1, MaxFiatMinor: 2}},
		{"inverted limits", AdvertInput{Side: models.SideSell, Price: dec(t, "90"), Volume: dec(t, "1"), MinFiatMinor: 5, MaxFiatMinor: 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.adverts.Create(context.Background(), "owner", tc.in); !errors.Is(err, ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestOfferReservesAndDeclineRestoresVolume(t *testing.T) {
	f := newFixture(t, "90", "0")
	f.fund(t, "owner", "20")
	ctx := context.Background()
	advert := sellAdvert(t, f, "owner")

	// 800.00 at price 90 reserves 800/90 units
	offer, err := f.engine.CreateOffer(ctx, advert.ID, "taker", 80000)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	reservedUnits := dec(t, "800").Div(dec(t, "90"))
	after, err := f.adverts.Get(advert.ID)
	if err != nil {
		t.Fatalf("get advert: %v", err)
	}
	mustEqual(t, after.RemainingVolume, dec(t, "10").Sub(reservedUnits), "remaining after reserve")
	// what is left cannot fill the advert's own minimum
	if after.Active {
		t.Fatal("advert still active below its minimum")
	}

	if _, err := f.engine.DeclineOffer(ctx, offer.ID, "owner"); err != nil {
		t.Fatalf("decline: %v", err)
	}
	restored, err := f.adverts.Get(advert.ID)
	if err != nil {
		t.Fatalf("get advert: %v", err)
	}
	mustEqual(t, restored.RemainingVolume, dec(t, "10"), "volume restored on decline")
	// deactivation is one-way, the owner turns it back on explicitly
	if restored.Active {
		t.Fatal("advert reactivated itself")
	}
}

func TestOfferOutsideLimitsRejected(t *testing.T) {
	f := newFixture(t, "90", "0")
	f.fund(t, "owner", "20")
	advert := sellAdvert(t, f, "owner")
	for _, fiat := range []int64{40000, 95000} {
		if _, err := f.engine.CreateOffer(context.Background(), advert.ID, "taker", fiat); !errors.Is(err, ErrValidation) {
			t.Fatalf("fiat %d: err = %v, want ErrValidation", fiat, err)
		}
	}
}

func TestOfferAgainstOwnAdvertRejected(t *testing.T) {
	f := newFixture(t, "90", "0")
	f.fund(t, "owner", "20")
	advert := sellAdvert(t, f, "owner")
	if _, err := f.engine.CreateOffer(context.Background(), advert.ID, "owner", 60000); !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestOfferExceedingVolumeRejected(t *testing.T) {
	f := newFixture(t, "90", "0")
	f.fund(t, "owner", "20")
	ctx := context.Background()
	advert, err := f.adverts.Create(ctx, "owner", AdvertInput{
		Side:         models.SideSell,
		Price:        dec(t, "90"),
		Volume:       dec(t, "5"),
		MinFiatMinor: 50000,
		MaxFiatMinor: 90000,
	})
	if err != nil {
		t.Fatalf("create advert: %v", err)
	}
	// 900.00 at price 90 needs 10 units, only 5 remain
	if _, err := f.engine.CreateOffer(ctx, advert.ID, "taker", 90000); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestSellAdvertHiddenWhenOwnerUnderfunded(t *testing.T) {
	f := newFixture(t, "90", "0")
	advert := sellAdvert(t, f, "owner")
	if listed := f.adverts.ListActive(models.SideSell); len(listed) != 0 {
		t.Fatalf("underfunded owner's advert listed: %d", len(listed))
	}
	// the minimum of 500.00 at price 90 needs 500/90 units on balance
	f.fund(t, "owner", "6")
	listed := f.adverts.ListActive(models.SideSell)
	if len(listed) != 1 || listed[0].ID != advert.ID {
		t.Fatalf("funded owner's advert missing: %v", listed)
	}
}

func TestBuyAdvertVisibleWithoutOwnerBalance(t *testing.T) {
	f := newFixture(t, "90", "0")
	_, err := f.adverts.Create(context.Background(), "owner", AdvertInput{
		Side:         models.SideBuy,
		Price:        dec(t, "90"),
		Volume:       dec(t, "10"),
		MinFiatMinor: 50000,
		MaxFiatMinor: 90000,
	})
	if err != nil {
		t.Fatalf("create advert: %v", err)
	}
	if listed := f.adverts.ListActive(models.SideBuy); len(listed) != 1 {
		t.Fatalf("buy advert not listed: %d", len(listed))
	}
}

func TestAdvertUpdateShiftsRemainingVolume(t *testing.T) {
	f := newFixture(t, "90", "0")
	f.fund(t, "owner", "20")
	ctx := context.Background()
	advert := sellAdvert(t, f, "owner")
	if _, err := f.engine.CreateOffer(ctx, advert.ID, "taker", 80000); err != nil {
		t.Fatalf("create offer: %v", err)
	}
	updated, err := f.adverts.Update(ctx, advert.ID, "owner", AdvertInput{
		Side:         models.SideSell,
		Price:        dec(t, "90"),
		Volume:       dec(t, "20"),
		MinFiatMinor: 50000,
		MaxFiatMinor: 90000,
	}, true)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	// raising the total by 10 raises what is left by the same delta
	want := dec(t, "10").Sub(dec(t, "800").Div(dec(t, "90"))).Add(dec(t, "10"))
	mustEqual(t, updated.RemainingVolume, want, "remaining after volume raise")
	if !updated.Active {
		t.Fatal("update with active=true left advert inactive")
	}
}

func TestAdvertUpdateOwnerOnly(t *testing.T) {
	f := newFixture(t, "90", "0")
	advert := sellAdvert(t, f, "owner")
	_, err := f.adverts.Update(context.Background(), advert.ID, "mallory", AdvertInput{
		Side:         models.SideSell,
		Price:        dec(t, "90"),
		Volume:       dec(t, "10"),
		MinFiatMinor: 50000,
		MaxFiatMinor: 90000,
	}, true)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestRestoreVolumeToDeletedAdvertIsNoop(t *testing.T) {
	f := newFixture(t, "90", "0")
	advert := sellAdvert(t, f, "owner")
	ctx := context.Background()
	if err := f.adverts.Delete(ctx, advert.ID, "owner"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := f.adverts.RestoreVolume(ctx, advert.ID, dec(t, "3")); err != nil {
		t.Fatalf("restore to deleted advert: %v", err)
	}
}
