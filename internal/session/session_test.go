package session

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sessionColumns = []string{"id", "backend_token", "email", "provider", "created_at", "expires_at"}

func TestRepository_CreateAndGet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	s := &Session{ID: "s-1", BackendToken: "tok", Email: "a@b.com", Provider: "google", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs("s-1", "tok", "a@b.com", "google", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT id, backend_token, email, provider, created_at, expires_at").
		WithArgs("s-1").
		WillReturnRows(pgxmock.NewRows(sessionColumns).AddRow("s-1", "tok", "a@b.com", "google", now, now.Add(time.Hour)))

	repo := NewRepository(mock)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, s))

	got, err := repo.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "tok", got.BackendToken)
	assert.False(t, got.Expired(now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT id").WithArgs("nope").WillReturnError(pgx.ErrNoRows)

	_, err = NewRepository(mock).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_DeleteExpired(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM sessions WHERE expires_at").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := NewRepository(mock).DeleteExpired(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
