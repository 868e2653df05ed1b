package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

const stateKeyPrefix = "oauth:state:"

var ErrStateNotFound = errors.New("oauth state not found or expired")

// Flow is what a callback needs to finish the flow its state belongs to.
type Flow struct {
	Provider string `json:"provider"`
	Action   Action `json:"action"`
	Verifier string `json:"verifier"`
	Redirect string `json:"redirect,omitempty"`
	// SessionID is the session that started an authorize flow.
	SessionID string `json:"session_id,omitempty"`
}

// StateStore keeps in-flight flows in Redis. Each state can be consumed once.
type StateStore struct {
	rdb *redis.Client
	ttl time.Duration
	// fixedVerifier replaces per-flow PKCE verifiers when set.
	fixedVerifier string
}

func NewStateStore(rdb *redis.Client, ttl time.Duration, fixedVerifier string) *StateStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StateStore{rdb: rdb, ttl: ttl, fixedVerifier: fixedVerifier}
}

// TTL is how long a state stays valid.
func (s *StateStore) TTL() time.Duration { return s.ttl }

// Begin stores the flow under a fresh state and returns the state. flow.Verifier is filled in.
func (s *StateStore) Begin(ctx context.Context, flow *Flow) (string, error) {
	if flow.Verifier == "" {
		flow.Verifier = s.fixedVerifier
	}
	if flow.Verifier == "" {
		flow.Verifier = oauth2.GenerateVerifier()
	}

	b, err := json.Marshal(flow)
	if err != nil {
		return "", fmt.Errorf("marshal oauth flow: %w", err)
	}

	state := uuid.NewString()
	if err := s.rdb.Set(ctx, stateKeyPrefix+state, b, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store oauth state: %w", err)
	}
	return state, nil
}

// Consume returns and deletes the flow stored under state.
func (s *StateStore) Consume(ctx context.Context, state string) (*Flow, error) {
	if state == "" {
		return nil, ErrStateNotFound
	}
	b, err := s.rdb.GetDel(ctx, stateKeyPrefix+state).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume oauth state: %w", err)
	}

	var flow Flow
	if err := json.Unmarshal(b, &flow); err != nil {
		return nil, fmt.Errorf("decode oauth state: %w", err)
	}
	return &flow, nil
}
