package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of *pgxpool.Pool the token store needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// TokenSchema creates the credential store table.
const TokenSchema = `
CREATE TABLE IF NOT EXISTS auth_tokens (
	user_id    TEXT        NOT NULL,
	token      TEXT        NOT NULL,
	issued_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ,
	PRIMARY KEY (user_id, issued_at)
)`

const currentTokenSQL = `
SELECT token
FROM auth_tokens
WHERE user_id = $1
  AND (expires_at IS NULL OR expires_at > now())
ORDER BY issued_at DESC
LIMIT 1`

const insertTokenSQL = `
INSERT INTO auth_tokens (user_id, token, issued_at, expires_at)
VALUES ($1, $2, $3, $4)`

// TokenStore reads bearer tokens from the shared credential store. It
// implements auth.TokenSource.
type TokenStore struct {
	db   Querier
	user string
}

// NewTokenStore creates a token store for user.
func NewTokenStore(db Querier, user string) *TokenStore {
	return &TokenStore{db: db, user: user}
}

// Token returns the newest unexpired token, or "" when there is none.
func (s *TokenStore) Token(ctx context.Context) (string, error) {
	var token string
	err := s.db.QueryRow(ctx, currentTokenSQL, s.user).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query auth token for %s: %w", s.user, err)
	}
	return token, nil
}

// Save stores a newly issued token. A zero expiresAt never expires.
func (s *TokenStore) Save(ctx context.Context, token string, issuedAt, expiresAt time.Time) error {
	var expires any
	if !expiresAt.IsZero() {
		expires = expiresAt
	}
	if _, err := s.db.Exec(ctx, insertTokenSQL, s.user, token, issuedAt, expires); err != nil {
		return fmt.Errorf("insert auth token for %s: %w", s.user, err)
	}
	return nil
}

// EnsureSchema creates the credential store table if it is missing.
func EnsureSchema(ctx context.Context, db Querier) error {
	if _, err := db.Exec(ctx, TokenSchema); err != nil {
		return fmt.Errorf("create auth_tokens: %w", err)
	}
	return nil
}
