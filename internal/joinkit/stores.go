package joinkit

import "context"

// CredentialRecord is the cached broker credential for one verified user.
// ExpiresAtUnixMilli is fixed at grant time as now + expires_in seconds;
// VerifiedAtUnixMilli is set on first verification and never overwritten.
type CredentialRecord struct {
	UserID              string `json:"user_id"`
	AccessToken         string `json:"access_token"`
	RefreshToken        string `json:"refresh_token"`
	ExpiresAtUnixMilli  int64  `json:"expires_at_unix_milli"`
	VerifiedAtUnixMilli int64  `json:"verified_at_unix_milli"`
}

// CredentialStore persists one CredentialRecord per user. Every mutation is
// flushed to the backing medium before the call returns.
type CredentialStore interface {
	// Get returns the record for the user, or ErrCredentialNotFound.
	Get(ctx context.Context, userID string) (CredentialRecord, error)
	// Put upserts by UserID, replacing token fields in place while keeping
	// an already-set VerifiedAtUnixMilli.
	Put(ctx context.Context, record CredentialRecord) error
	// List returns every stored record ordered by UserID.
	List(ctx context.Context) ([]CredentialRecord, error)
	// Clear empties the entire store.
	Clear(ctx context.Context) error
}
