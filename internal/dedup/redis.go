// Package dedup provides the short-lived idempotency store guarding /execute against
// repeated orchestrator calls.
package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rockstartushar/twilio-jb-activity/internal/domain"
)

const (
	namespace     = "jb-activity:execute"
	pendingMarker = "pending"
)

type commander interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Store keeps one entry per idempotency token: a pending marker while the execution runs,
// then the completed result until the TTL expires.
type Store struct {
	client commander
	ttl    time.Duration
}

// NewRedisClient dials Redis with the given address and password.
func NewRedisClient(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
}

// NewStore constructs a Store.
func NewStore(client commander, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Store{client: client, ttl: ttl}
}

type storedResult struct {
	BranchResult string `json:"branchResult"`
	MessageSID   string `json:"messageSid,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Claim takes the token. When it is already held, the stored result is returned if the
// holder completed.
func (s *Store) Claim(ctx context.Context, key string) (domain.Claim, error) {
	k := namespace + ":" + key

	// A completed entry may expire between SETNX and GET; one retry covers that window.
	for attempt := 0; attempt < 2; attempt++ {
		acquired, err := s.client.SetNX(ctx, k, pendingMarker, s.ttl).Result()
		if err != nil {
			return domain.Claim{}, fmt.Errorf("claim idempotency key: %w", err)
		}
		if acquired {
			return domain.Claim{Acquired: true}, nil
		}

		value, err := s.client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return domain.Claim{}, fmt.Errorf("read idempotency key: %w", err)
		}
		if value == pendingMarker {
			return domain.Claim{}, nil
		}

		var stored storedResult
		if err := json.Unmarshal([]byte(value), &stored); err != nil {
			return domain.Claim{}, fmt.Errorf("decode idempotency entry: %w", err)
		}
		return domain.Claim{Result: &domain.Result{
			Outcome:    domain.Outcome(stored.BranchResult),
			MessageSID: stored.MessageSID,
			Error:      stored.Error,
		}}, nil
	}
	return domain.Claim{}, nil
}

// Complete replaces the pending marker with the result, refreshing the TTL.
func (s *Store) Complete(ctx context.Context, key string, result domain.Result) error {
	body, err := json.Marshal(storedResult{
		BranchResult: string(result.Outcome),
		MessageSID:   result.MessageSID,
		Error:        result.Error,
	})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, namespace+":"+key, body, s.ttl).Err()
}

// Release drops the token so a retried call can execute.
func (s *Store) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, namespace+":"+key).Err()
}
