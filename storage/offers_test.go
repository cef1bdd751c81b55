package storage

import (
	"errors"
	"testing"
	"time"
)

func testOffer() FileOffer {
	return FileOffer{
		OfferID:   "offer-1",
		PeerAddr:  "10.0.0.2:5000",
		PeerName:  "alice",
		Direction: DirectionReceived,
		Filename:  "notes.txt",
		Size:      2048,
		Hash:      "ab12cd34",
		OfferedAt: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestRecordAndGetOffer(t *testing.T) {
	store := newTestStore(t)

	if err := store.RecordOffer(testOffer()); err != nil {
		t.Fatalf("RecordOffer failed: %v", err)
	}

	offer, err := store.GetOffer("offer-1")
	if err != nil {
		t.Fatalf("GetOffer failed: %v", err)
	}
	if offer.Filename != "notes.txt" || offer.Size != 2048 || offer.Status != OfferStatusPending {
		t.Fatalf("unexpected offer: %+v", offer)
	}
}

func TestSetOfferStatus(t *testing.T) {
	store := newTestStore(t)
	if err := store.RecordOffer(testOffer()); err != nil {
		t.Fatalf("RecordOffer failed: %v", err)
	}

	if err := store.SetOfferStatus("offer-1", OfferStatusAccepted); err != nil {
		t.Fatalf("SetOfferStatus failed: %v", err)
	}

	offer, err := store.GetOffer("offer-1")
	if err != nil {
		t.Fatalf("GetOffer failed: %v", err)
	}
	if offer.Status != OfferStatusAccepted {
		t.Fatalf("status = %q, want accepted", offer.Status)
	}

	if err := store.SetOfferStatus("offer-1", "eaten"); err == nil {
		t.Fatal("expected error for invalid status")
	}
	if err := store.SetOfferStatus("missing", OfferStatusRejected); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetOfferNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetOffer("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordOfferValidation(t *testing.T) {
	store := newTestStore(t)

	offer := testOffer()
	offer.PeerAddr = ""
	if err := store.RecordOffer(offer); err == nil {
		t.Fatal("expected error for missing peer_addr")
	}

	offer = testOffer()
	offer.Direction = "up"
	if err := store.RecordOffer(offer); err == nil {
		t.Fatal("expected error for invalid direction")
	}
}
