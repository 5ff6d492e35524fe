// Package incident drives the breach-incident lifecycle:
// INACTIVE -> TRIGGERED -> CONTAINED -> DPB_NOTIFIED -> USERS_NOTIFIED -> CLOSED.
// The incident itself is a singleton document in redis; exactly one incident
// may be active at a time.
package incident

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"dpdpshield/internal/domain"
)

const opTimeout = 2 * time.Second

// StateStore persists the incident singleton. Updates run under a process
// mutex so read-modify-write cycles never lose timeline entries.
type StateStore struct {
	client *redis.Client
	key    string

	mu sync.Mutex
}

// NewStateStore connects to redis at addr.
func NewStateStore(addr, password string) (*StateStore, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("incident redis addr is required")
	}
	return &StateStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		key: "shield:incident:current",
	}, nil
}

// Get returns the current incident document, or the inactive default when
// none has ever been written.
func (s *StateStore) Get(ctx context.Context) (domain.Incident, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.load(ctx)
}

// Update applies fn to the current document and writes the result back as a
// single atomic replacement.
func (s *StateStore) Update(ctx context.Context, fn func(*domain.Incident) error) (domain.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	inc, err := s.load(ctx)
	if err != nil {
		return domain.Incident{}, err
	}
	if err := fn(&inc); err != nil {
		return domain.Incident{}, err
	}
	raw, err := json.Marshal(inc)
	if err != nil {
		return domain.Incident{}, fmt.Errorf("marshal incident: %w", err)
	}
	if err := s.client.Set(ctx, s.key, raw, 0).Err(); err != nil {
		return domain.Incident{}, fmt.Errorf("store incident: %w", err)
	}
	return inc, nil
}

func (s *StateStore) load(ctx context.Context) (domain.Incident, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Incident{}, nil
	}
	if err != nil {
		return domain.Incident{}, fmt.Errorf("load incident: %w", err)
	}
	var inc domain.Incident
	if err := json.Unmarshal(raw, &inc); err != nil {
		return domain.Incident{}, fmt.Errorf("unmarshal incident: %w", err)
	}
	return inc, nil
}
