// Package otp manages ephemeral one-time-passcode challenges in redis.
// Challenges are keyed by request ID, expire five minutes after issuance and
// allow three verification attempts. The attempt counter is incremented with
// HINCRBY so concurrent verification attempts cannot lose updates.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"dpdpshield/internal/domain"
)

const (
	// MaxAttempts is the number of wrong codes tolerated per challenge.
	MaxAttempts = 3

	// ChallengeTTL is the validity window of an issued code.
	ChallengeTTL = 5 * time.Minute

	// Keys persist slightly past expiry so an expired challenge can still be
	// reported as Expired instead of NotFound before garbage collection.
	persistGrace = time.Minute

	opTimeout = 2 * time.Second
)

// ErrInvalidCode is returned on a code mismatch. The remaining attempt count
// accompanies it on the Verify return.
var ErrInvalidCode = errors.New("invalid otp code")

// Challenge is one pending identity verification. It is owned exclusively by
// the DSR pipeline.
type Challenge struct {
	RequestID  string
	CustomerID string
	Code       string
	Intent     string
	FromEmail  string
	Subject    string
	Body       string
	Attempts   int
	ExpiresAt  time.Time
	Verified   bool
}

// Store holds challenges in redis hashes under a key prefix.
type Store struct {
	client    *redis.Client
	keyPrefix string

	now func() time.Time
}

// NewStore connects to redis at addr.
func NewStore(addr, password string) (*Store, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("otp redis addr is required")
	}
	return &Store{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		keyPrefix: "shield:otp",
		now:       time.Now,
	}, nil
}

// GenerateCode returns a uniformly random 6-digit code in [100000, 999999].
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate otp code: %w", err)
	}
	return strconv.FormatInt(100000+n.Int64(), 10), nil
}

// Create stores a new challenge and stamps its expiry. One challenge exists
// per request ID; request IDs are never reused.
func (s *Store) Create(ctx context.Context, ch Challenge) (Challenge, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	ch.Attempts = 0
	ch.Verified = false
	ch.ExpiresAt = s.now().UTC().Add(ChallengeTTL)
	key := s.key(ch.RequestID)
	fields := map[string]interface{}{
		"request_id":  ch.RequestID,
		"customer_id": ch.CustomerID,
		"otp":         ch.Code,
		"intent":      ch.Intent,
		"from_email":  ch.FromEmail,
		"subject":     ch.Subject,
		"body":        ch.Body,
		"attempts":    0,
		"expires_at":  ch.ExpiresAt.Format(time.RFC3339),
		"verified":    0,
	}
	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return Challenge{}, fmt.Errorf("store otp challenge: %w", err)
	}
	if err := s.client.Expire(ctx, key, ChallengeTTL+persistGrace).Err(); err != nil {
		return Challenge{}, fmt.Errorf("expire otp challenge: %w", err)
	}
	return ch, nil
}

// Verify runs the attempt/expiry ladder for a submitted code. On mismatch it
// returns ErrInvalidCode together with the attempts remaining. On match the
// challenge is marked verified and can never be matched again.
func (s *Store) Verify(ctx context.Context, requestID, code string) (Challenge, int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := s.key(requestID)
	raw, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return Challenge{}, 0, fmt.Errorf("load otp challenge: %w", err)
	}
	if len(raw) == 0 || raw["verified"] == "1" {
		return Challenge{}, 0, fmt.Errorf("%w: otp request %s", domain.ErrNotFound, requestID)
	}
	ch, err := challengeFromHash(raw)
	if err != nil {
		return Challenge{}, 0, err
	}
	if ch.Attempts >= MaxAttempts {
		return ch, 0, domain.ErrTooManyAttempts
	}
	if s.now().UTC().After(ch.ExpiresAt) {
		return ch, 0, domain.ErrExpired
	}
	if code != ch.Code {
		attempts, err := s.client.HIncrBy(ctx, key, "attempts", 1).Result()
		if err != nil {
			return ch, 0, fmt.Errorf("count otp attempt: %w", err)
		}
		ch.Attempts = int(attempts)
		remaining := MaxAttempts - ch.Attempts
		if remaining < 0 {
			remaining = 0
		}
		return ch, remaining, ErrInvalidCode
	}
	if err := s.client.HSet(ctx, key, "verified", 1).Err(); err != nil {
		return ch, 0, fmt.Errorf("mark otp verified: %w", err)
	}
	ch.Verified = true
	return ch, MaxAttempts - ch.Attempts, nil
}

func (s *Store) key(requestID string) string {
	return fmt.Sprintf("%s:challenge:%s", s.keyPrefix, requestID)
}

func challengeFromHash(raw map[string]string) (Challenge, error) {
	expiresAt, err := time.Parse(time.RFC3339, raw["expires_at"])
	if err != nil {
		return Challenge{}, fmt.Errorf("%w: malformed otp expiry %q", domain.ErrValidation, raw["expires_at"])
	}
	attempts, _ := strconv.Atoi(raw["attempts"])
	return Challenge{
		RequestID:  raw["request_id"],
		CustomerID: raw["customer_id"],
		Code:       raw["otp"],
		Intent:     raw["intent"],
		FromEmail:  raw["from_email"],
		Subject:    raw["subject"],
		Body:       raw["body"],
		Attempts:   attempts,
		ExpiresAt:  expiresAt,
		Verified:   raw["verified"] == "1",
	}, nil
}
