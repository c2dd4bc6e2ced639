package joinkitpg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tkaratal/joinkit/internal/joinkit"
)

// PostgresCredentialStore persists credential records in PostgreSQL through
// a pgx pool, for deployments that already run one and do not want GORM in
// the write path. Every Put is a single blocking upsert statement.
type PostgresCredentialStore struct {
	pool *pgxpool.Pool
}

// NewPostgresCredentialStore constructs a Postgres store.
func NewPostgresCredentialStore(pool *pgxpool.Pool) *PostgresCredentialStore {
	return &PostgresCredentialStore{pool: pool}
}

// Get returns the record for the user, or joinkit.ErrCredentialNotFound.
func (store *PostgresCredentialStore) Get(ctx context.Context, userID string) (joinkit.CredentialRecord, error) {
	var record joinkit.CredentialRecord
	row := store.pool.QueryRow(ctx, `
SELECT user_id, access_token, refresh_token, expires_at_unix_milli, verified_at_unix_milli
FROM credentials
WHERE user_id = $1
`, userID)
	scanErr := row.Scan(&record.UserID, &record.AccessToken, &record.RefreshToken,
		&record.ExpiresAtUnixMilli, &record.VerifiedAtUnixMilli)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return joinkit.CredentialRecord{}, fmt.Errorf("credential_store.pg.get: %w", joinkit.ErrCredentialNotFound)
		}
		return joinkit.CredentialRecord{}, fmt.Errorf("credential_store.pg.get: %w", scanErr)
	}
	return record, nil
}

// Put upserts by user id. An already-set verified_at_unix_milli is kept; the
// token columns are always replaced in place.
func (store *PostgresCredentialStore) Put(ctx context.Context, record joinkit.CredentialRecord) error {
	if strings.TrimSpace(record.UserID) == "" {
		return joinkit.ErrCredentialEmptyUserID
	}
	_, execErr := store.pool.Exec(ctx, `
INSERT INTO credentials (user_id, access_token, refresh_token, expires_at_unix_milli, verified_at_unix_milli)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE SET
    access_token = EXCLUDED.access_token,
    refresh_token = EXCLUDED.refresh_token,
    expires_at_unix_milli = EXCLUDED.expires_at_unix_milli,
    verified_at_unix_milli = CASE
        WHEN credentials.verified_at_unix_milli <> 0 THEN credentials.verified_at_unix_milli
        ELSE EXCLUDED.verified_at_unix_milli
    END
`, record.UserID, record.AccessToken, record.RefreshToken,
		record.ExpiresAtUnixMilli, record.VerifiedAtUnixMilli)
	if execErr != nil {
		return fmt.Errorf("credential_store.pg.put: %w", execErr)
	}
	return nil
}

// List returns every stored record ordered by user id.
func (store *PostgresCredentialStore) List(ctx context.Context) ([]joinkit.CredentialRecord, error) {
	rows, queryErr := store.pool.Query(ctx, `
SELECT user_id, access_token, refresh_token, expires_at_unix_milli, verified_at_unix_milli
FROM credentials
ORDER BY user_id
`)
	if queryErr != nil {
		return nil, fmt.Errorf("credential_store.pg.list: %w", queryErr)
	}
	defer rows.Close()

	listed := make([]joinkit.CredentialRecord, 0)
	for rows.Next() {
		var record joinkit.CredentialRecord
		if scanErr := rows.Scan(&record.UserID, &record.AccessToken, &record.RefreshToken,
			&record.ExpiresAtUnixMilli, &record.VerifiedAtUnixMilli); scanErr != nil {
			return nil, fmt.Errorf("credential_store.pg.list: %w", scanErr)
		}
		listed = append(listed, record)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("credential_store.pg.list: %w", rowsErr)
	}
	return listed, nil
}

// Clear deletes every stored record.
func (store *PostgresCredentialStore) Clear(ctx context.Context) error {
	if _, execErr := store.pool.Exec(ctx, `DELETE FROM credentials`); execErr != nil {
		return fmt.Errorf("credential_store.pg.clear: %w", execErr)
	}
	return nil
}
