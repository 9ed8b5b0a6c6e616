// Package services implements the use-cases behind the HTTP handlers. The
// auth service composes the identity store, the challenge store, the
// credential primitives, and the activity log into the login flows.
package services

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"runtime"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/walletgate/apiserver/internal/apperr"
	"github.com/walletgate/apiserver/internal/auth"
	"github.com/walletgate/apiserver/internal/mailer"
	"github.com/walletgate/apiserver/internal/metrics"
	"github.com/walletgate/apiserver/internal/store"
	"github.com/walletgate/apiserver/types"
	"golang.org/x/sync/semaphore"
)

// UserRepository defines the identity-store operations the auth flows use.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	FindByEmail(ctx context.Context, email string) (types.User, error)
	FindByWallet(ctx context.Context, addr string) (types.User, error)
	CreateWithEmail(ctx context.Context, email, passwordHash string) (types.User, error)
	CreateWithWallet(ctx context.Context, addr string) (types.User, error)
	UpdateProfile(ctx context.Context, id string, update store.ProfileUpdate) (types.User, error)
}

// ChallengeStore defines the pending-challenge operations the wallet flows
// use. Consume must be single-shot per challenge.
type ChallengeStore interface {
	Issue(ctx context.Context, addr string) (types.Challenge, error)
	Consume(ctx context.Context, addr string) (types.Challenge, error)
}

// AuthResult is the outcome of a successful authentication flow.
type AuthResult struct {
	User      types.User
	Token     string
	IsNewUser bool
}

// AuthService orchestrates the register, login, challenge, verify, and
// profile flows.
type AuthService struct {
	users      UserRepository
	challenges ChallengeStore
	activity   *ActivityService
	mail       mailer.Mailer
	collector  *metrics.Collector
	logger     *slog.Logger

	secret   []byte
	tokenTTL time.Duration

	// cpuGate bounds concurrent KDF and signature-recovery work so that
	// CPU-bound hashing cannot starve the request loop.
	cpuGate *semaphore.Weighted

	// dummyHash is compared against when login hits an unknown email, so
	// that unknown-email and wrong-password responses take the same time.
	dummyHash string
}

func NewAuthService(
	users UserRepository,
	challenges ChallengeStore,
	activity *ActivityService,
	mail mailer.Mailer,
	collector *metrics.Collector,
	logger *slog.Logger,
	secret []byte,
	tokenTTL time.Duration,
) (*AuthService, error) {
	dummyHash, err := auth.HashPassword("walletgate-timing-pad")
	if err != nil {
		return nil, err
	}
	return &AuthService{
		users:      users,
		challenges: challenges,
		activity:   activity,
		mail:       mail,
		collector:  collector,
		logger:     logger,
		secret:     secret,
		tokenTTL:   tokenTTL,
		cpuGate:    semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
		dummyHash:  dummyHash,
	}, nil
}

// Register creates an email/password account and signs the user in.
func (s *AuthService) Register(ctx context.Context, email, password string) (AuthResult, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return AuthResult{}, err
	}
	if err := auth.CheckPasswordPolicy(password); err != nil {
		s.recordAttempt("register_email", false)
		return AuthResult{}, apperr.New(apperr.CodeWeakPassword,
			"password must be at least 8 characters with an uppercase letter, a digit, and a symbol")
	}

	hash, err := s.hashPassword(ctx, password)
	if err != nil {
		return AuthResult{}, err
	}

	user, err := s.users.CreateWithEmail(ctx, email, hash)
	if err != nil {
		s.recordAttempt("register_email", false)
		if errors.Is(err, store.ErrConflict) {
			return AuthResult{}, apperr.New(apperr.CodeConflict, "email already registered")
		}
		return AuthResult{}, storeUnavailable("create user", err)
	}

	token, err := auth.MintToken(user.ID, auth.SubjectEmail, s.secret, s.tokenTTL)
	if err != nil {
		return AuthResult{}, err
	}

	s.recordAttempt("register_email", true)
	s.activity.Record(ctx, user.ID, types.EventRegisterEmail, nil)
	s.sendWelcome(ctx, email)
	return AuthResult{User: user, Token: token}, nil
}

// Login verifies an email/password pair and signs the user in. Unknown
// email and wrong password are indistinguishable in both message and
// timing.
func (s *AuthService) Login(ctx context.Context, email, password string) (AuthResult, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return AuthResult{}, err
	}

	user, err := s.findByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_, _ = s.verifyPassword(ctx, password, s.dummyHash)
			s.recordAttempt("login_email", false)
			return AuthResult{}, invalidCredentials()
		}
		return AuthResult{}, storeUnavailable("find user", err)
	}
	if user.PasswordHash == "" {
		_, _ = s.verifyPassword(ctx, password, s.dummyHash)
		s.recordAttempt("login_email", false)
		return AuthResult{}, invalidCredentials()
	}

	ok, err := s.verifyPassword(ctx, password, user.PasswordHash)
	if err != nil || !ok {
		s.recordAttempt("login_email", false)
		return AuthResult{}, invalidCredentials()
	}

	token, err := auth.MintToken(user.ID, auth.SubjectEmail, s.secret, s.tokenTTL)
	if err != nil {
		return AuthResult{}, err
	}

	s.recordAttempt("login_email", true)
	s.activity.Record(ctx, user.ID, types.EventLoginEmail, nil)
	return AuthResult{User: user, Token: token}, nil
}

// IssueChallenge creates (or supersedes) the pending challenge for a wallet.
func (s *AuthService) IssueChallenge(ctx context.Context, walletAddress string) (types.Challenge, error) {
	addr, err := auth.NormalizeAddress(walletAddress)
	if err != nil {
		return types.Challenge{}, apperr.New(apperr.CodeValidation, "invalid wallet address")
	}

	challenge, err := retryStore(ctx, func() (types.Challenge, error) {
		return s.challenges.Issue(ctx, addr)
	})
	if err != nil {
		return types.Challenge{}, storeUnavailable("issue challenge", err)
	}

	if s.collector != nil {
		s.collector.RecordChallengeIssued()
	}
	return challenge, nil
}

// VerifyWallet consumes the pending challenge for a wallet, checks the
// signature over its message, and signs the user in, creating the account
// on first contact.
func (s *AuthService) VerifyWallet(ctx context.Context, walletAddress, signature string) (AuthResult, error) {
	addr, err := auth.NormalizeAddress(walletAddress)
	if err != nil {
		return AuthResult{}, apperr.New(apperr.CodeValidation, "invalid wallet address")
	}

	challenge, err := s.challenges.Consume(ctx, addr)
	if err != nil {
		s.recordAttempt("verify_wallet", false)
		if errors.Is(err, store.ErrNotFound) {
			return AuthResult{}, apperr.New(apperr.CodeChallengeMissing, "no active challenge for this wallet")
		}
		return AuthResult{}, storeUnavailable("consume challenge", err)
	}

	if err := s.verifySignature(ctx, addr, challenge.Message, signature); err != nil {
		s.recordAttempt("verify_wallet", false)
		switch {
		case errors.Is(err, auth.ErrAddressMismatch):
			return AuthResult{}, apperr.New(apperr.CodeAddressMismatch, "signature was not produced by this wallet")
		default:
			return AuthResult{}, apperr.New(apperr.CodeInvalidSignature, "malformed signature")
		}
	}

	user, err := s.findByWallet(ctx, addr)
	isNew := false
	if errors.Is(err, store.ErrNotFound) {
		user, err = s.users.CreateWithWallet(ctx, addr)
		switch {
		case err == nil:
			isNew = true
		case errors.Is(err, store.ErrConflict):
			// Lost a race with a concurrent first verification; the
			// winner created the account.
			user, err = s.findByWallet(ctx, addr)
		}
	}
	if err != nil {
		s.recordAttempt("verify_wallet", false)
		return AuthResult{}, storeUnavailable("resolve wallet user", err)
	}

	token, err := auth.MintToken(user.ID, auth.SubjectWallet, s.secret, s.tokenTTL)
	if err != nil {
		return AuthResult{}, err
	}

	s.recordAttempt("verify_wallet", true)
	kind := types.EventLoginWallet
	if isNew {
		kind = types.EventRegisterWallet
	}
	s.activity.Record(ctx, user.ID, kind, nil)
	return AuthResult{User: user, Token: token, IsNewUser: isNew}, nil
}

// Profile returns the user behind a verified token subject.
func (s *AuthService) Profile(ctx context.Context, userID string) (types.User, error) {
	user, err := retryStore(ctx, func() (types.User, error) {
		return s.users.GetByID(ctx, userID)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, apperr.New(apperr.CodeInvalidToken, "unknown subject")
		}
		return types.User{}, storeUnavailable("load user", err)
	}
	return user, nil
}

// UpdateProfile applies a partial profile update for the user.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, update store.ProfileUpdate) (types.User, error) {
	if update.Email != nil {
		normalized, err := normalizeEmail(*update.Email)
		if err != nil {
			return types.User{}, err
		}
		update.Email = &normalized
	}
	if update.Name != nil {
		trimmed := strings.TrimSpace(*update.Name)
		update.Name = &trimmed
	}

	user, err := s.users.UpdateProfile(ctx, userID, update)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return types.User{}, apperr.New(apperr.CodeInvalidToken, "unknown subject")
		case errors.Is(err, store.ErrConflict):
			return types.User{}, apperr.New(apperr.CodeConflict, "email already registered")
		}
		return types.User{}, storeUnavailable("update profile", err)
	}

	s.activity.Record(ctx, user.ID, types.EventProfileUpdate, nil)
	return user, nil
}

// RecordActivity exposes activity recording to the handler layer.
func (s *AuthService) RecordActivity(ctx context.Context, userID, eventKind string, details map[string]any) {
	s.activity.Record(ctx, userID, eventKind, details)
}

// Activity returns the user's activity history in append order.
func (s *AuthService) Activity(ctx context.Context, userID string, limit int64) ([]types.ActivityRecord, error) {
	records, err := retryStore(ctx, func() ([]types.ActivityRecord, error) {
		return s.activity.History(ctx, userID, limit)
	})
	if err != nil {
		return nil, storeUnavailable("list activity", err)
	}
	return records, nil
}

// VerifyToken validates a bearer token against the service secret.
func (s *AuthService) VerifyToken(token string) (string, auth.SubjectKind, error) {
	userID, kind, err := auth.VerifyToken(token, s.secret)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return "", "", apperr.New(apperr.CodeExpiredToken, "token expired")
		}
		return "", "", apperr.New(apperr.CodeInvalidToken, "invalid token")
	}
	return userID, kind, nil
}

// hashPassword runs the KDF under the CPU gate so concurrent logins cannot
// monopolize the scheduler.
func (s *AuthService) hashPassword(ctx context.Context, password string) (string, error) {
	if err := s.cpuGate.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer s.cpuGate.Release(1)
	return auth.HashPassword(password)
}

func (s *AuthService) verifyPassword(ctx context.Context, password, hash string) (bool, error) {
	if err := s.cpuGate.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer s.cpuGate.Release(1)
	return auth.VerifyPassword(password, hash)
}

func (s *AuthService) verifySignature(ctx context.Context, addr, message, signature string) error {
	if err := s.cpuGate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.cpuGate.Release(1)
	return auth.VerifySignature(addr, message, signature)
}

func (s *AuthService) findByEmail(ctx context.Context, email string) (types.User, error) {
	return retryStore(ctx, func() (types.User, error) {
		return s.users.FindByEmail(ctx, email)
	})
}

func (s *AuthService) findByWallet(ctx context.Context, addr string) (types.User, error) {
	return retryStore(ctx, func() (types.User, error) {
		return s.users.FindByWallet(ctx, addr)
	})
}

func (s *AuthService) sendWelcome(ctx context.Context, email string) {
	go func() {
		mailCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.mail.SendWelcome(mailCtx, email); err != nil {
			s.logger.Warn("welcome mail failed", slog.String("email", email), slog.Any("error", err))
		}
	}()
}

func (s *AuthService) recordAttempt(flow string, success bool) {
	if s.collector == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	s.collector.RecordAuthAttempt(flow, outcome)
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", apperr.New(apperr.CodeValidation, "email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", apperr.New(apperr.CodeValidation, "invalid email address")
	}
	return email, nil
}

func invalidCredentials() error {
	return apperr.New(apperr.CodeInvalidCredentials, "invalid email or password")
}

func storeUnavailable(op string, err error) error {
	return apperr.Wrap(apperr.CodeStoreUnavailable, op+" failed", err)
}

// retryStore runs a store operation, retrying once with jittered backoff on
// transient failures. Not-found and conflict results are returned as is.
func retryStore[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond

	op := func() (T, error) {
		value, err := fn()
		if err != nil && !isTransient(err) {
			return value, backoff.Permanent(err)
		}
		return value, err
	}
	return backoff.RetryWithData(op, backoff.WithContext(backoff.WithMaxRetries(bo, 1), ctx))
}

func isTransient(err error) bool {
	return !errors.Is(err, store.ErrNotFound) &&
		!errors.Is(err, store.ErrConflict) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}
