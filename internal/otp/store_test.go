package otp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"dpdpshield/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	r := miniredis.RunT(t)
	s, err := NewStore(r.Addr(), "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func createChallenge(t *testing.T, s *Store) Challenge {
	t.Helper()
	ch, err := s.Create(context.Background(), Challenge{
		RequestID:  "REQ-ABCD1234",
		CustomerID: "CUST-0007",
		Code:       "123456",
		Intent:     domain.IntentDelete,
		FromEmail:  "someone@example.com",
	})
	if err != nil {
		t.Fatalf("create challenge: %v", err)
	}
	return ch
}

func TestGenerateCodeRange(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(code) != 6 || code[0] == '0' {
			t.Fatalf("code out of range: %q", code)
		}
	}
}

func TestVerifyHappyPathIsSingleUse(t *testing.T) {
	s := newTestStore(t)
	createChallenge(t, s)

	ch, _, err := s.Verify(context.Background(), "REQ-ABCD1234", "123456")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ch.Verified || ch.Intent != domain.IntentDelete || ch.CustomerID != "CUST-0007" {
		t.Fatalf("unexpected challenge after verify: %+v", ch)
	}

	// A consumed challenge can never be matched again.
	if _, _, err := s.Verify(context.Background(), "REQ-ABCD1234", "123456"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after consumption, got %v", err)
	}
}

func TestVerifyUnknownRequest(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := s.Verify(context.Background(), "REQ-MISSING", "123456"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestThreeWrongAttemptsExhaustChallenge(t *testing.T) {
	s := newTestStore(t)
	createChallenge(t, s)

	for i := 0; i < MaxAttempts; i++ {
		_, remaining, err := s.Verify(context.Background(), "REQ-ABCD1234", "000000")
		if !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("attempt %d: expected invalid code, got %v", i+1, err)
		}
		if remaining != MaxAttempts-i-1 {
			t.Fatalf("attempt %d: expected %d remaining, got %d", i+1, MaxAttempts-i-1, remaining)
		}
	}

	// Fourth call fails with TooManyAttempts even with the correct code.
	if _, _, err := s.Verify(context.Background(), "REQ-ABCD1234", "123456"); !errors.Is(err, domain.ErrTooManyAttempts) {
		t.Fatalf("expected too many attempts, got %v", err)
	}
}

func TestExpiredChallengeAlwaysFails(t *testing.T) {
	s := newTestStore(t)
	createChallenge(t, s)

	// Simulate the clock moving past expires_at with zero attempts used.
	s.now = func() time.Time { return time.Now().Add(ChallengeTTL + time.Second) }
	if _, _, err := s.Verify(context.Background(), "REQ-ABCD1234", "123456"); !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestChallengeIsGarbageCollected(t *testing.T) {
	r := miniredis.RunT(t)
	s, err := NewStore(r.Addr(), "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	createChallenge(t, s)

	r.FastForward(ChallengeTTL + persistGrace + time.Second)
	if _, _, err := s.Verify(context.Background(), "REQ-ABCD1234", "123456"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after gc, got %v", err)
	}
}
