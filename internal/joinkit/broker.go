package joinkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

var (
	// ErrBrokerEmptyCode indicates an exchange attempt without an authorization code.
	ErrBrokerEmptyCode = errors.New("broker.empty_code")
	// ErrBrokerEmptyRefreshToken indicates a refresh attempt without a stored refresh token.
	ErrBrokerEmptyRefreshToken = errors.New("broker.empty_refresh_token")
	// ErrBrokerEmptyIdentity indicates the identity endpoint returned no user id.
	ErrBrokerEmptyIdentity = errors.New("broker.empty_identity")
)

// TokenGrant is the outcome of a successful grant at the identity broker.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// BrokerError carries the broker's error detail for the operator-facing report.
type BrokerError struct {
	StatusCode  int
	Code        string
	Description string
}

func (brokerErr *BrokerError) Error() string {
	if brokerErr.Code == "" && brokerErr.Description == "" {
		return fmt.Sprintf("broker.denied: status %d", brokerErr.StatusCode)
	}
	return fmt.Sprintf("broker.denied: %s (%s)", brokerErr.Code, brokerErr.Description)
}

// TokenBroker performs token grants and identity lookups at the identity broker.
type TokenBroker interface {
	// ExchangeCode performs the authorization-code grant.
	ExchangeCode(ctx context.Context, code string) (TokenGrant, error)
	// Refresh performs the refresh-token grant.
	Refresh(ctx context.Context, refreshToken string) (TokenGrant, error)
	// FetchIdentity resolves the acting user's stable identifier with a bearer token.
	FetchIdentity(ctx context.Context, accessToken string) (string, error)
}

// BrokerConfig configures the OAuth endpoints and client credentials.
type BrokerConfig struct {
	ClientID     string
	ClientSecret string
	AuthorizeURL string
	TokenURL     string
	IdentityURL  string
	RedirectURL  string
	Scopes       []string
	HTTPClient   *http.Client
}

// OAuthTokenBroker talks to a form-encoded OAuth token endpoint plus a
// bearer-authenticated identity lookup endpoint.
type OAuthTokenBroker struct {
	oauthConfig *oauth2.Config
	identityURL string
	httpClient  *http.Client
}

// NewOAuthTokenBroker constructs the production broker client.
func NewOAuthTokenBroker(configuration BrokerConfig) *OAuthTokenBroker {
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OAuthTokenBroker{
		oauthConfig: &oauth2.Config{
			ClientID:     configuration.ClientID,
			ClientSecret: configuration.ClientSecret,
			RedirectURL:  configuration.RedirectURL,
			Scopes:       configuration.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   configuration.AuthorizeURL,
				TokenURL:  configuration.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		identityURL: configuration.IdentityURL,
		httpClient:  httpClient,
	}
}

// AuthCodeURL builds the authorization URL users follow to verify.
func (broker *OAuthTokenBroker) AuthCodeURL(state string) string {
	return broker.oauthConfig.AuthCodeURL(state)
}

// ExchangeCode performs the authorization-code grant.
func (broker *OAuthTokenBroker) ExchangeCode(ctx context.Context, code string) (TokenGrant, error) {
	if strings.TrimSpace(code) == "" {
		return TokenGrant{}, fmt.Errorf("broker.exchange: %w", ErrBrokerEmptyCode)
	}
	token, exchangeErr := broker.oauthConfig.Exchange(
		broker.clientContext(ctx),
		code,
		oauth2.SetAuthURLParam("scope", strings.Join(broker.oauthConfig.Scopes, " ")),
	)
	if exchangeErr != nil {
		return TokenGrant{}, fmt.Errorf("broker.exchange: %w", asBrokerError(exchangeErr))
	}
	return grantFromToken(token), nil
}

// Refresh performs the refresh-token grant.
func (broker *OAuthTokenBroker) Refresh(ctx context.Context, refreshToken string) (TokenGrant, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return TokenGrant{}, fmt.Errorf("broker.refresh: %w", ErrBrokerEmptyRefreshToken)
	}
	source := broker.oauthConfig.TokenSource(broker.clientContext(ctx), &oauth2.Token{
		RefreshToken: refreshToken,
	})
	token, refreshErr := source.Token()
	if refreshErr != nil {
		return TokenGrant{}, fmt.Errorf("broker.refresh: %w", asBrokerError(refreshErr))
	}
	return grantFromToken(token), nil
}

// FetchIdentity resolves the acting user's stable identifier.
func (broker *OAuthTokenBroker) FetchIdentity(ctx context.Context, accessToken string) (string, error) {
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodGet, broker.identityURL, nil)
	if requestErr != nil {
		return "", fmt.Errorf("broker.identity.request: %w", requestErr)
	}
	request.Header.Set("Authorization", "Bearer "+accessToken)

	response, doErr := broker.httpClient.Do(request)
	if doErr != nil {
		return "", fmt.Errorf("broker.identity: %w", doErr)
	}
	defer func() { _ = response.Body.Close() }()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, 1<<16))
	if readErr != nil {
		return "", fmt.Errorf("broker.identity.read: %w", readErr)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return "", fmt.Errorf("broker.identity: %w", brokerErrorFromBody(response.StatusCode, body))
	}

	var identity struct {
		ID string `json:"id"`
	}
	if unmarshalErr := json.Unmarshal(body, &identity); unmarshalErr != nil {
		return "", fmt.Errorf("broker.identity.decode: %w", unmarshalErr)
	}
	if strings.TrimSpace(identity.ID) == "" {
		return "", fmt.Errorf("broker.identity: %w", ErrBrokerEmptyIdentity)
	}
	return identity.ID, nil
}

func (broker *OAuthTokenBroker) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, broker.httpClient)
}

func grantFromToken(token *oauth2.Token) TokenGrant {
	return TokenGrant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
}

func asBrokerError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		statusCode := 0
		if retrieveErr.Response != nil {
			statusCode = retrieveErr.Response.StatusCode
		}
		brokerErr := &BrokerError{
			StatusCode:  statusCode,
			Code:        retrieveErr.ErrorCode,
			Description: retrieveErr.ErrorDescription,
		}
		if brokerErr.Code == "" && len(retrieveErr.Body) > 0 {
			return brokerErrorFromBody(statusCode, retrieveErr.Body)
		}
		return brokerErr
	}
	return err
}

func brokerErrorFromBody(statusCode int, body []byte) *BrokerError {
	var payload struct {
		ErrorCode        string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if unmarshalErr := json.Unmarshal(body, &payload); unmarshalErr != nil || payload.ErrorCode == "" {
		return &BrokerError{
			StatusCode:  statusCode,
			Description: strings.TrimSpace(string(body)),
		}
	}
	return &BrokerError{
		StatusCode:  statusCode,
		Code:        payload.ErrorCode,
		Description: payload.ErrorDescription,
	}
}
