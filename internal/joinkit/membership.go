package joinkit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrMemberNotFound indicates the user is not a member of the community.
var ErrMemberNotFound = errors.New("membership.member_not_found")

// codeMissingPermissions is the structured error code the membership API
// returns when the acting credential lacks the required permission.
const codeMissingPermissions = 50013

// Member describes a community member as returned by the membership API.
type Member struct {
	UserID  string   `json:"user_id"`
	RoleIDs []string `json:"role_ids"`
}

// MembershipAPIError is a non-2xx response from the membership API.
type MembershipAPIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (apiErr *MembershipAPIError) Error() string {
	if apiErr.Code != 0 {
		return fmt.Sprintf("membership.api_error: %d %s (status %d)", apiErr.Code, apiErr.Message, apiErr.StatusCode)
	}
	return fmt.Sprintf("membership.api_error: %s (status %d)", apiErr.Message, apiErr.StatusCode)
}

// IsPermissionDenied reports whether a membership failure was caused by the
// acting credential lacking permission. The structured code is authoritative;
// message sniffing is the fallback for responses without one, and breaks the
// moment the remote API rewords its errors.
func IsPermissionDenied(err error) bool {
	var apiErr *MembershipAPIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == codeMissingPermissions {
			return true
		}
		return strings.Contains(strings.ToLower(apiErr.Message), "missing permissions")
	}
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "missing permissions")
}

// MembershipClient exposes the community membership operations the
// orchestrator and the callback path need.
type MembershipClient interface {
	// AddMember joins the user to the community with their own access token.
	// The remote call is idempotent: adding an existing member succeeds.
	AddMember(ctx context.Context, communityID string, userID string, accessToken string) error
	// FetchMember returns member info, or ErrMemberNotFound.
	FetchMember(ctx context.Context, communityID string, userID string) (Member, error)
	// AddRole grants a role to a member.
	AddRole(ctx context.Context, communityID string, userID string, roleID string) error
	// RemoveRole removes a role from a member.
	RemoveRole(ctx context.Context, communityID string, userID string, roleID string) error
}

// MembershipClientConfig configures the HTTP membership client.
type MembershipClientConfig struct {
	BaseURL      string
	ServiceToken string
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// HTTPMembershipClient is the production MembershipClient.
type HTTPMembershipClient struct {
	baseURL      string
	serviceToken string
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewHTTPMembershipClient constructs a client for the membership API.
func NewHTTPMembershipClient(configuration MembershipClientConfig) *HTTPMembershipClient {
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	loggerInstance := configuration.Logger
	if loggerInstance == nil {
		loggerInstance = zap.NewNop()
	}
	return &HTTPMembershipClient{
		baseURL:      strings.TrimRight(configuration.BaseURL, "/"),
		serviceToken: configuration.ServiceToken,
		httpClient:   httpClient,
		logger:       loggerInstance,
	}
}

// AddMember joins the user to the community with their own access token.
func (client *HTTPMembershipClient) AddMember(ctx context.Context, communityID string, userID string, accessToken string) error {
	payload := struct {
		AccessToken string `json:"access_token"`
	}{AccessToken: accessToken}
	encoded, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return fmt.Errorf("membership.add_member.encode: %w", marshalErr)
	}
	_, err := client.do(ctx, http.MethodPut, client.memberPath(communityID, userID), encoded)
	if err != nil {
		return fmt.Errorf("membership.add_member: %w", err)
	}
	return nil
}

// FetchMember returns member info, or ErrMemberNotFound.
func (client *HTTPMembershipClient) FetchMember(ctx context.Context, communityID string, userID string) (Member, error) {
	body, err := client.do(ctx, http.MethodGet, client.memberPath(communityID, userID), nil)
	if err != nil {
		var apiErr *MembershipAPIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return Member{}, fmt.Errorf("membership.fetch_member: %w", ErrMemberNotFound)
		}
		return Member{}, fmt.Errorf("membership.fetch_member: %w", err)
	}
	var member Member
	if len(body) > 0 {
		if unmarshalErr := json.Unmarshal(body, &member); unmarshalErr != nil {
			return Member{}, fmt.Errorf("membership.fetch_member.decode: %w", unmarshalErr)
		}
	}
	if member.UserID == "" {
		member.UserID = userID
	}
	return member, nil
}

// AddRole grants a role to a member.
func (client *HTTPMembershipClient) AddRole(ctx context.Context, communityID string, userID string, roleID string) error {
	_, err := client.do(ctx, http.MethodPut, client.rolePath(communityID, userID, roleID), nil)
	if err != nil {
		return fmt.Errorf("membership.add_role: %w", err)
	}
	return nil
}

// RemoveRole removes a role from a member.
func (client *HTTPMembershipClient) RemoveRole(ctx context.Context, communityID string, userID string, roleID string) error {
	_, err := client.do(ctx, http.MethodDelete, client.rolePath(communityID, userID, roleID), nil)
	if err != nil {
		return fmt.Errorf("membership.remove_role: %w", err)
	}
	return nil
}

func (client *HTTPMembershipClient) memberPath(communityID string, userID string) string {
	return fmt.Sprintf("%s/communities/%s/members/%s",
		client.baseURL, url.PathEscape(communityID), url.PathEscape(userID))
}

func (client *HTTPMembershipClient) rolePath(communityID string, userID string, roleID string) string {
	return fmt.Sprintf("%s/communities/%s/members/%s/roles/%s",
		client.baseURL, url.PathEscape(communityID), url.PathEscape(userID), url.PathEscape(roleID))
}

func (client *HTTPMembershipClient) do(ctx context.Context, method string, requestURL string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, requestErr := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if requestErr != nil {
		return nil, requestErr
	}
	request.Header.Set("Authorization", "Service "+client.serviceToken)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, doErr := client.httpClient.Do(request)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = response.Body.Close() }()

	responseBody, readErr := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if readErr != nil {
		return nil, readErr
	}
	if response.StatusCode >= 200 && response.StatusCode <= 299 {
		return responseBody, nil
	}
	return nil, decodeAPIError(response.StatusCode, responseBody)
}

func decodeAPIError(statusCode int, body []byte) *MembershipAPIError {
	var payload struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if unmarshalErr := json.Unmarshal(body, &payload); unmarshalErr != nil || payload.Message == "" {
		return &MembershipAPIError{
			StatusCode: statusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}
	return &MembershipAPIError{
		StatusCode: statusCode,
		Code:       payload.Code,
		Message:    payload.Message,
	}
}
