package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/suPer8Hu/studio-assistant/internal/auth"
)

// Users is the pgx account store.
type Users struct {
	pool *pgxpool.Pool
}

func NewUsers(pool *pgxpool.Pool) *Users {
	return &Users{pool: pool}
}

func (r *Users) Create(ctx context.Context, u *auth.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING created_at`,
		u.ID, u.Email, u.PasswordHash,
	).Scan(&u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation {
			return auth.ErrEmailTaken
		}
		return classify("create user", err)
	}
	return nil
}

func (r *Users) ByEmail(ctx context.Context, email string) (*auth.User, error) {
	return r.one(ctx, `SELECT id, email, password_hash, created_at FROM users WHERE email = $1`, email)
}

func (r *Users) ByID(ctx context.Context, id string) (*auth.User, error) {
	return r.one(ctx, `SELECT id, email, password_hash, created_at FROM users WHERE id = $1`, id)
}

func (r *Users) one(ctx context.Context, query string, arg string) (*auth.User, error) {
	var u auth.User
	err := r.pool.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, classify("get user", err)
	}
	return &u, nil
}
