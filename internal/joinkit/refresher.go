package joinkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultRefreshMargin is how long before nominal expiry a cached access
// token is proactively refreshed, absorbing clock skew and in-flight latency.
const DefaultRefreshMargin = time.Hour

var (
	// ErrNoAuthorizationCode indicates the callback was invoked without a code.
	ErrNoAuthorizationCode = errors.New("token_refresher.missing_code")
	// ErrExchangeFailed indicates the broker rejected the authorization code.
	ErrExchangeFailed = errors.New("token_refresher.exchange_failed")
	// ErrIdentityFetchFailed indicates the identity lookup after exchange failed.
	ErrIdentityFetchFailed = errors.New("token_refresher.identity_fetch_failed")
	// ErrRefreshFailed indicates the refresh grant was rejected or unreachable.
	ErrRefreshFailed = errors.New("token_refresher.refresh_failed")
)

// TokenRefresher decides credential freshness, performs the refresh grant
// when stale, and runs the one-shot authorization-code exchange.
type TokenRefresher struct {
	store         CredentialStore
	broker        TokenBroker
	clock         Clock
	logger        *zap.Logger
	refreshMargin time.Duration
}

// NewTokenRefresher wires the refresher. A non-positive margin falls back to
// DefaultRefreshMargin.
func NewTokenRefresher(store CredentialStore, broker TokenBroker, clock Clock, logger *zap.Logger, refreshMargin time.Duration) *TokenRefresher {
	if clock == nil {
		clock = NewSystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if refreshMargin <= 0 {
		refreshMargin = DefaultRefreshMargin
	}
	return &TokenRefresher{
		store:         store,
		broker:        broker,
		clock:         clock,
		logger:        logger,
		refreshMargin: refreshMargin,
	}
}

// EnsureValid returns a usable access token for the user. The cached token is
// returned unchanged while it is fresher than the refresh margin; otherwise
// exactly one refresh grant is attempted and the rewritten record's token is
// returned. Absent or unrefreshable credentials surface as typed errors the
// caller classifies; nothing is retried here.
func (refresher *TokenRefresher) EnsureValid(ctx context.Context, userID string) (string, error) {
	record, getErr := refresher.store.Get(ctx, userID)
	if getErr != nil {
		return "", fmt.Errorf("token_refresher.ensure_valid: %w", getErr)
	}

	now := refresher.clock.Now()
	if now.UnixMilli() < record.ExpiresAtUnixMilli-refresher.refreshMargin.Milliseconds() {
		return record.AccessToken, nil
	}

	grant, refreshErr := refresher.broker.Refresh(ctx, record.RefreshToken)
	if refreshErr != nil {
		refresher.logger.Warn("refresh grant failed",
			zap.String("code", "token_refresher.refresh_failed"),
			zap.String("user_id", userID),
			zap.Error(refreshErr))
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, refreshErr)
	}

	record.AccessToken = grant.AccessToken
	record.RefreshToken = grant.RefreshToken
	record.ExpiresAtUnixMilli = grant.ExpiresAt.UnixMilli()
	if putErr := refresher.store.Put(ctx, record); putErr != nil {
		return "", fmt.Errorf("token_refresher.ensure_valid.put: %w", putErr)
	}
	return grant.AccessToken, nil
}

// ExchangeAuthorizationCode runs the one-shot code grant for first
// verification: exchange the code, resolve the caller's identity with the new
// access token, and write the credential record. Failures carry the broker's
// detail for the operator-facing result.
func (refresher *TokenRefresher) ExchangeAuthorizationCode(ctx context.Context, code string) (CredentialRecord, error) {
	if strings.TrimSpace(code) == "" {
		return CredentialRecord{}, ErrNoAuthorizationCode
	}

	grant, exchangeErr := refresher.broker.ExchangeCode(ctx, code)
	if exchangeErr != nil {
		return CredentialRecord{}, fmt.Errorf("%w: %w", ErrExchangeFailed, exchangeErr)
	}

	userID, identityErr := refresher.broker.FetchIdentity(ctx, grant.AccessToken)
	if identityErr != nil {
		return CredentialRecord{}, fmt.Errorf("%w: %w", ErrIdentityFetchFailed, identityErr)
	}

	record := CredentialRecord{
		UserID:              userID,
		AccessToken:         grant.AccessToken,
		RefreshToken:        grant.RefreshToken,
		ExpiresAtUnixMilli:  grant.ExpiresAt.UnixMilli(),
		VerifiedAtUnixMilli: refresher.clock.Now().UnixMilli(),
	}
	if putErr := refresher.store.Put(ctx, record); putErr != nil {
		return CredentialRecord{}, fmt.Errorf("token_refresher.exchange.put: %w", putErr)
	}

	// Re-read so a re-verifying user sees their original VerifiedAt.
	stored, getErr := refresher.store.Get(ctx, userID)
	if getErr != nil {
		return record, nil
	}
	return stored, nil
}
