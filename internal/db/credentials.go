package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CredentialRepository stores a single refresh token keyed by Spotify client id.
// It satisfies auth.CredentialStore.
type CredentialRepository struct {
	pool     *pgxpool.Pool
	clientID string
}

// Load returns the stored refresh token, or "" when there is none.
func (r *CredentialRepository) Load(ctx context.Context) (string, error) {
	query := `SELECT refresh_token FROM credentials WHERE client_id = $1`

	var token *string
	err := r.pool.QueryRow(ctx, query, r.clientID).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying credentials: %w", err)
	}
	if token == nil {
		return "", nil
	}
	return *token, nil
}

// Save replaces the stored refresh token. An empty token is stored as NULL.
func (r *CredentialRepository) Save(ctx context.Context, refreshToken string) error {
	query := `
		INSERT INTO credentials (client_id, refresh_token, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (client_id) DO UPDATE SET
			refresh_token = EXCLUDED.refresh_token,
			updated_at = NOW()
	`
	var token *string
	if refreshToken != "" {
		token = &refreshToken
	}
	if _, err := r.pool.Exec(ctx, query, r.clientID, token); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}
	return nil
}

// Delete removes the record.
func (r *CredentialRepository) Delete(ctx context.Context) error {
	query := `DELETE FROM credentials WHERE client_id = $1`
	if _, err := r.pool.Exec(ctx, query, r.clientID); err != nil {
		return fmt.Errorf("deleting credentials: %w", err)
	}
	return nil
}
