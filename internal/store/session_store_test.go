package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/afribridge/transfer-service/internal/domain"
)

func TestSessionStoreSetGetDelete(t *testing.T) {
	s := NewInMemorySessionStore()

	if _, ok := s.Get("whatsapp:+1"); ok {
		t.Fatal("expected no session for a fresh key")
	}

	s.Set("whatsapp:+1", domain.TransferSession{State: domain.StateAmount, Currency: "KES"})
	session, ok := s.Get("whatsapp:+1")
	if !ok {
		t.Fatal("expected session after Set")
	}
	if session.State != domain.StateAmount || session.Currency != "KES" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if session.UpdatedAt.IsZero() {
		t.Fatal("Set must stamp UpdatedAt")
	}

	if !s.Delete("whatsapp:+1") {
		t.Fatal("expected Delete to report an existing session")
	}
	if s.Delete("whatsapp:+1") {
		t.Fatal("expected Delete of a missing key to report false")
	}
}

func TestSessionStoreUpdate(t *testing.T) {
	s := NewInMemorySessionStore()
	s.Set("whatsapp:+1", domain.TransferSession{State: domain.StateConfirm})

	before, _ := s.Get("whatsapp:+1")

	ok := s.Update("whatsapp:+1", func(session *domain.TransferSession) {
		session.State = domain.StatePay
		session.Amount = decimal.NewFromInt(1000)
	})
	if !ok {
		t.Fatal("expected Update to find the session")
	}

	after, _ := s.Get("whatsapp:+1")
	if after.State != domain.StatePay || !after.Amount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("mutation not applied: %+v", after)
	}
	if after.UpdatedAt.Before(before.UpdatedAt) {
		t.Fatal("Update must refresh UpdatedAt")
	}

	if s.Update("whatsapp:+missing", func(session *domain.TransferSession) {
		t.Fatal("apply must not run for a missing key")
	}) {
		t.Fatal("expected Update of a missing key to report false")
	}
}

func TestSessionStoreGetReturnsSnapshot(t *testing.T) {
	s := NewInMemorySessionStore()
	s.Set("whatsapp:+1", domain.TransferSession{State: domain.StateConfirm})

	session, _ := s.Get("whatsapp:+1")
	session.State = domain.StateError

	stored, _ := s.Get("whatsapp:+1")
	if stored.State != domain.StateConfirm {
		t.Fatal("mutating a Get result must not affect the stored session")
	}
}

func TestSessionStoreScanVisitsAll(t *testing.T) {
	s := NewInMemorySessionStore()
	s.Set("whatsapp:+1", domain.TransferSession{State: domain.StatePay})
	s.Set("whatsapp:+2", domain.TransferSession{State: domain.StateProcessing})

	seen := map[string]domain.State{}
	s.Scan(func(key string, session domain.TransferSession) {
		seen[key] = session.State
	})

	if len(seen) != 2 || seen["whatsapp:+1"] != domain.StatePay || seen["whatsapp:+2"] != domain.StateProcessing {
		t.Fatalf("unexpected scan result: %v", seen)
	}
}

func TestSessionStoreCleanup(t *testing.T) {
	s := NewInMemorySessionStore()
	base := time.Now()
	s.now = func() time.Time { return base }

	s.Set("whatsapp:+old", domain.TransferSession{State: domain.StateWelcome})
	s.now = func() time.Time { return base.Add(30 * time.Minute) }
	s.Set("whatsapp:+new", domain.TransferSession{State: domain.StateWelcome})

	s.now = func() time.Time { return base.Add(70 * time.Minute) }
	cleaned := s.Cleanup(time.Hour)
	if cleaned != 1 {
		t.Fatalf("expected 1 eviction, got %d", cleaned)
	}
	if _, ok := s.Get("whatsapp:+old"); ok {
		t.Fatal("expected the idle session to be evicted")
	}
	if _, ok := s.Get("whatsapp:+new"); !ok {
		t.Fatal("recently touched session must survive cleanup")
	}
}

func TestSessionStoreCleanupCountsTouches(t *testing.T) {
	s := NewInMemorySessionStore()
	base := time.Now()
	s.now = func() time.Time { return base }

	s.Set("whatsapp:+1", domain.TransferSession{State: domain.StatePay})

	// A write 50 minutes in resets the idle clock.
	s.now = func() time.Time { return base.Add(50 * time.Minute) }
	s.Update("whatsapp:+1", func(session *domain.TransferSession) {
		session.State = domain.StateProcessing
	})

	s.now = func() time.Time { return base.Add(70 * time.Minute) }
	if cleaned := s.Cleanup(time.Hour); cleaned != 0 {
		t.Fatalf("expected no evictions, got %d", cleaned)
	}
}
