// Package settings holds the application settings singleton: UI theme,
// breach-simulation toggles driving the attack-vector signals, and the
// integration flags. It is a single JSON document in redis.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const opTimeout = 2 * time.Second

// Settings is the singleton document.
type Settings struct {
	Theme                string          `json:"theme"`
	SimLeakedAPIKey      bool            `json:"sim_leaked_api_key"`
	SimMailboxForwarding bool            `json:"sim_mailbox_forwarding"`
	SimMassDownload      bool            `json:"sim_mass_download"`
	Integrations         map[string]bool `json:"integrations"`
}

// Defaults returns the settings written on first start.
func Defaults() Settings {
	return Settings{
		Theme: "dark",
		Integrations: map[string]bool{
			"zoho":       false,
			"whatsapp":   false,
			"cloudwatch": false,
			"tally":      false,
		},
	}
}

// Store persists the singleton in redis.
type Store struct {
	client *redis.Client
	key    string
}

// NewStore connects to redis at addr.
func NewStore(addr, password string) (*Store, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("settings redis addr is required")
	}
	return &Store{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		key: "shield:settings",
	}, nil
}

// Get returns the current settings, falling back to defaults when the
// document has never been written.
func (s *Store) Get(ctx context.Context) (Settings, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Defaults(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	var out Settings
	if err := json.Unmarshal(raw, &out); err != nil {
		return Settings{}, fmt.Errorf("unmarshal settings: %w", err)
	}
	return out, nil
}

// Put replaces the singleton document.
func (s *Store) Put(ctx context.Context, in Settings) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := s.client.Set(ctx, s.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("store settings: %w", err)
	}
	return nil
}
