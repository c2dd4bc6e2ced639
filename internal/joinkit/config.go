package joinkit

import "time"

// ServiceConfig configures the broker client, membership client, onboarding
// targets, and pacing/refresh policy.
type ServiceConfig struct {
	ClientID           string
	ClientSecret       string
	RedirectURL        string
	AuthorizeURL       string
	TokenURL           string
	IdentityURL        string
	Scopes             []string
	APIBaseURL         string
	ServiceToken       string
	HomeCommunityID    string
	VerifiedRoleID     string
	RefreshMargin      time.Duration
	PacingInterval     time.Duration
	OperatorSigningKey []byte
	OperatorIssuer     string
}
