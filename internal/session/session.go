package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"haper/pkg/db"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrExpired  = errors.New("session expired")
	ErrNoCookie = errors.New("no session cookie")
)

// Session binds a browser to the backend token issued at sign-in.
type Session struct {
	ID           string
	BackendToken string
	Email        string
	Provider     string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

type Repository struct {
	db db.Querier
}

func NewRepository(q db.Querier) *Repository {
	return &Repository{db: q}
}

func (r *Repository) Create(ctx context.Context, s *Session) error {
	query := `
        INSERT INTO sessions (id, backend_token, email, provider, created_at, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	_, err := r.db.Exec(ctx, query, s.ID, s.BackendToken, s.Email, s.Provider, s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*Session, error) {
	query := `
        SELECT id, backend_token, email, provider, created_at, expires_at
        FROM sessions
        WHERE id = $1
    `
	var s Session
	err := r.db.QueryRow(ctx, query, id).Scan(
		&s.ID,
		&s.BackendToken,
		&s.Email,
		&s.Provider,
		&s.CreatedAt,
		&s.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpired removes every session that expired before now and returns how many were removed.
func (r *Repository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
