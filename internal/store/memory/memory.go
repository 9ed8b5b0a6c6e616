// Package memory provides in-memory implementations of the persistence
// interfaces consumed by the service layer. They mirror the semantics of
// the Postgres, Redis, and Mongo stores and back the unit tests.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/walletgate/apiserver/internal/auth"
	"github.com/walletgate/apiserver/internal/store"
	"github.com/walletgate/apiserver/types"
)

// UserRepository is a map-backed user store with the same uniqueness
// semantics as the Postgres repository.
type UserRepository struct {
	mu       sync.Mutex
	byID     map[string]types.User
	byEmail  map[string]string
	byWallet map[string]string
}

func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:     make(map[string]types.User),
		byEmail:  make(map[string]string),
		byWallet: make(map[string]string),
	}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return r.byID[id], nil
}

func (r *UserRepository) FindByWallet(ctx context.Context, addr string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byWallet[strings.ToLower(addr)]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return r.byID[id], nil
}

func (r *UserRepository) CreateWithEmail(ctx context.Context, email, passwordHash string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(email)
	if _, exists := r.byEmail[key]; exists {
		return types.User{}, store.ErrConflict
	}

	now := time.Now()
	user := types.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.byID[user.ID] = user
	r.byEmail[key] = user.ID
	return user, nil
}

func (r *UserRepository) CreateWithWallet(ctx context.Context, addr string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(addr)
	if _, exists := r.byWallet[key]; exists {
		return types.User{}, store.ErrConflict
	}

	now := time.Now()
	user := types.User{
		ID:            uuid.New().String(),
		WalletAddress: addr,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.byID[user.ID] = user
	r.byWallet[key] = user.ID
	return user, nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id string, update store.ProfileUpdate) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}

	if update.Name != nil {
		user.Name = *update.Name
	}
	if update.Email != nil {
		email := strings.ToLower(*update.Email)
		if other, exists := r.byEmail[email]; exists && other != id {
			return types.User{}, store.ErrConflict
		}
		if user.Email != "" {
			delete(r.byEmail, strings.ToLower(user.Email))
		}
		user.Email = email
		r.byEmail[email] = id
	}
	user.ProfileComplete = user.Email != "" && user.Name != ""
	user.UpdatedAt = time.Now()
	r.byID[id] = user
	return user, nil
}

// ChallengeStore is a map-backed challenge store with single-shot consume.
// Now is overridable so tests can step past expiry.
type ChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]types.Challenge
	ttl        time.Duration

	Now func() time.Time
}

func NewChallengeStore(ttl time.Duration) *ChallengeStore {
	return &ChallengeStore{
		challenges: make(map[string]types.Challenge),
		ttl:        ttl,
		Now:        time.Now,
	}
}

func (s *ChallengeStore) Issue(ctx context.Context, addr string) (types.Challenge, error) {
	challenge, err := auth.NewChallenge(addr, s.ttl)
	if err != nil {
		return types.Challenge{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[addr] = challenge
	return challenge, nil
}

func (s *ChallengeStore) Consume(ctx context.Context, addr string) (types.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	challenge, ok := s.challenges[addr]
	if !ok {
		return types.Challenge{}, store.ErrNotFound
	}
	delete(s.challenges, addr)
	if challenge.Expired(s.Now()) {
		return types.Challenge{}, store.ErrNotFound
	}
	return challenge, nil
}

// ActivityLog is a slice-backed activity log preserving append order.
type ActivityLog struct {
	mu      sync.Mutex
	records map[string][]types.ActivityRecord
}

func NewActivityLog() *ActivityLog {
	return &ActivityLog{records: make(map[string][]types.ActivityRecord)}
}

func (l *ActivityLog) Append(ctx context.Context, userID, eventKind string, details map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[userID] = append(l.records[userID], types.ActivityRecord{
		UserID:    userID,
		EventKind: eventKind,
		Timestamp: time.Now().UTC(),
		Details:   details,
	})
	return nil
}

// ListByUser returns a user's records in append order, newest last.
func (l *ActivityLog) ListByUser(ctx context.Context, userID string, limit int64) ([]types.ActivityRecord, error) {
	records := l.ByUser(userID)
	if limit > 0 && int64(len(records)) > limit {
		records = records[:limit]
	}
	return records, nil
}

// ByUser returns a copy of the user's records in append order.
func (l *ActivityLog) ByUser(userID string) []types.ActivityRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	records := make([]types.ActivityRecord, len(l.records[userID]))
	copy(records, l.records[userID])
	return records
}
