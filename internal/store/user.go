package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/walletgate/apiserver/types"
)

const pqUniqueViolation = "23505"

// ProfileUpdate carries a partial profile change. Nil fields are left
// untouched.
type ProfileUpdate struct {
	Name  *string
	Email *string
}

// UserRepository handles persistence for users in Postgres.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, COALESCE(email, ''), COALESCE(password_hash, ''), name,
	COALESCE(wallet_address, ''), profile_complete, created_at, updated_at`

func scanUser(row *sql.Row) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Name,
		&user.WalletAddress,
		&user.ProfileComplete,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// FindByEmail looks a user up by email, case-insensitively.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

// FindByWallet looks a user up by wallet address, case-insensitively.
func (r *UserRepository) FindByWallet(ctx context.Context, addr string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE lower(wallet_address) = lower($1)`
	return scanUser(r.db.QueryRowContext(ctx, query, addr))
}

// CreateWithEmail inserts a new email-registered user. Returns ErrConflict
// when the email is already taken.
func (r *UserRepository) CreateWithEmail(ctx context.Context, email, passwordHash string) (types.User, error) {
	now := time.Now()
	user := types.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	const query = `
		INSERT INTO users (id, email, password_hash, profile_complete, created_at, updated_at)
		VALUES ($1, $2, $3, FALSE, $4, $5)`
	if _, err := r.db.ExecContext(ctx, query, user.ID, user.Email, user.PasswordHash, user.CreatedAt, user.UpdatedAt); err != nil {
		return types.User{}, mapConflict(err)
	}
	return user, nil
}

// CreateWithWallet inserts a new wallet-registered user with an incomplete
// profile. Returns ErrConflict when the address is already taken; the
// caller is expected to retry with FindByWallet.
func (r *UserRepository) CreateWithWallet(ctx context.Context, addr string) (types.User, error) {
	now := time.Now()
	user := types.User{
		ID:            uuid.New().String(),
		WalletAddress: addr,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	const query = `
		INSERT INTO users (id, wallet_address, profile_complete, created_at, updated_at)
		VALUES ($1, $2, FALSE, $3, $4)`
	if _, err := r.db.ExecContext(ctx, query, user.ID, user.WalletAddress, user.CreatedAt, user.UpdatedAt); err != nil {
		return types.User{}, mapConflict(err)
	}
	return user, nil
}

// UpdateProfile applies a partial profile update. profile_complete becomes
// true once both name and email are present.
func (r *UserRepository) UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (types.User, error) {
	const query = `
		UPDATE users
		SET name = COALESCE($2, name),
			email = COALESCE(lower($3), email),
			profile_complete = (COALESCE(lower($3), email) IS NOT NULL AND COALESCE($2, name) <> ''),
			updated_at = $4
		WHERE id = $1
		RETURNING ` + userColumns
	row := r.db.QueryRowContext(ctx, query, id, update.Name, update.Email, time.Now())
	user, err := scanUser(row)
	if err != nil {
		return types.User{}, mapConflict(err)
	}
	return user, nil
}

func mapConflict(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return ErrConflict
	}
	return err
}
