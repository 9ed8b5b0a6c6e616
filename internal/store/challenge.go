package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/walletgate/apiserver/internal/auth"
	"github.com/walletgate/apiserver/types"
)

const challengeKeyPrefix = "auth:challenge:"

// ChallengeStore keeps pending wallet challenges in Redis, one per address.
// Expiry is enforced by the key TTL; Redis reclaims expired challenges.
type ChallengeStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewChallengeStore(rdb *redis.Client, ttl time.Duration) *ChallengeStore {
	return &ChallengeStore{rdb: rdb, ttl: ttl}
}

// Issue creates a fresh challenge for addr, replacing any prior one.
func (s *ChallengeStore) Issue(ctx context.Context, addr string) (types.Challenge, error) {
	challenge, err := auth.NewChallenge(addr, s.ttl)
	if err != nil {
		return types.Challenge{}, err
	}

	payload, err := json.Marshal(challenge)
	if err != nil {
		return types.Challenge{}, fmt.Errorf("encode challenge: %w", err)
	}
	if err := s.rdb.Set(ctx, challengeKeyPrefix+addr, payload, s.ttl).Err(); err != nil {
		return types.Challenge{}, fmt.Errorf("store challenge: %w", err)
	}
	return challenge, nil
}

// Consume atomically returns and deletes the challenge for addr. GETDEL
// guarantees a challenge is handed out at most once; concurrent consumers
// for the same address see exactly one success.
func (s *ChallengeStore) Consume(ctx context.Context, addr string) (types.Challenge, error) {
	payload, err := s.rdb.GetDel(ctx, challengeKeyPrefix+addr).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return types.Challenge{}, ErrNotFound
		}
		return types.Challenge{}, fmt.Errorf("consume challenge: %w", err)
	}

	var challenge types.Challenge
	if err := json.Unmarshal(payload, &challenge); err != nil {
		return types.Challenge{}, fmt.Errorf("decode challenge: %w", err)
	}
	if challenge.Expired(time.Now()) {
		return types.Challenge{}, ErrNotFound
	}
	return challenge, nil
}
