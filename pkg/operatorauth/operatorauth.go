package operatorauth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now returns the current UTC timestamp.
func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Config configures the Validator.
type Config struct {
	SigningKey []byte
	Issuer     string
	Clock      Clock
}

// DefaultContextKey is used by GinMiddleware when no explicit key is provided.
const DefaultContextKey = "operator_claims"

// Sentinel errors exposed by the validator.
var (
	ErrMissingSigningKey = errors.New("operator_auth.missing_signing_key")
	ErrMissingIssuer     = errors.New("operator_auth.missing_issuer")
	ErrMissingToken      = errors.New("operator_auth.missing_token")
	ErrMissingBearer     = errors.New("operator_auth.missing_bearer")
	ErrInvalidToken      = errors.New("operator_auth.invalid_token")
	ErrInvalidIssuer     = errors.New("operator_auth.invalid_issuer")
	ErrTokenExpired      = errors.New("operator_auth.expired")
	ErrMissingOperatorID = errors.New("operator_auth.missing_operator_id")
)

// Claims represent the payload embedded inside operator tokens.
type Claims struct {
	OperatorID string `json:"operator_id"`
	jwt.RegisteredClaims
}

// GetOperatorID returns the operator identifier from the token.
func (claims *Claims) GetOperatorID() string {
	if claims == nil {
		return ""
	}
	return claims.OperatorID
}

// GetExpiresAt returns the expiry timestamp.
func (claims *Claims) GetExpiresAt() time.Time {
	if claims == nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// Mint creates a signed HS256 operator token.
func Mint(operatorID string, issuer string, signingKey []byte, ttl time.Duration, clock Clock) (string, time.Time, error) {
	if strings.TrimSpace(operatorID) == "" {
		return "", time.Time{}, fmt.Errorf("operator_auth.mint: %w", ErrMissingOperatorID)
	}
	if len(signingKey) == 0 {
		return "", time.Time{}, fmt.Errorf("operator_auth.mint: %w", ErrMissingSigningKey)
	}
	if strings.TrimSpace(issuer) == "" {
		return "", time.Time{}, fmt.Errorf("operator_auth.mint: %w", ErrMissingIssuer)
	}
	if clock == nil {
		clock = systemClock{}
	}
	issuedAt := clock.Now()
	expiresAt := issuedAt.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		OperatorID: operatorID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   operatorID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, signErr := token.SignedString(signingKey)
	if signErr != nil {
		return "", time.Time{}, fmt.Errorf("operator_auth.mint: %w", signErr)
	}
	return signed, expiresAt, nil
}

// Validator validates operator bearer tokens.
type Validator struct {
	signingKey []byte
	issuer     string
	clock      Clock
}

// New constructs a Validator after validating the supplied configuration.
func New(configuration Config) (*Validator, error) {
	if len(configuration.SigningKey) == 0 {
		return nil, fmt.Errorf("operator_auth.new: %w", ErrMissingSigningKey)
	}
	if strings.TrimSpace(configuration.Issuer) == "" {
		return nil, fmt.Errorf("operator_auth.new: %w", ErrMissingIssuer)
	}
	clock := configuration.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Validator{
		signingKey: configuration.SigningKey,
		issuer:     configuration.Issuer,
		clock:      clock,
	}, nil
}

// ValidateToken validates the provided JWT string and returns the parsed claims.
func (validator *Validator) ValidateToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("operator_auth.validate_token: %w", ErrMissingToken)
	}
	parsedToken, parseErr := jwt.ParseWithClaims(tokenString, &Claims{}, func(parsed *jwt.Token) (interface{}, error) {
		return validator.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(func() time.Time {
		return validator.clock.Now()
	}))
	if parseErr != nil {
		if errors.Is(parseErr, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("operator_auth.validate_token: %w", ErrTokenExpired)
		}
		return nil, fmt.Errorf("operator_auth.validate_token: %w", ErrInvalidToken)
	}
	if parsedToken == nil || !parsedToken.Valid {
		return nil, fmt.Errorf("operator_auth.validate_token: %w", ErrInvalidToken)
	}
	claims, ok := parsedToken.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("operator_auth.validate_token: %w", ErrInvalidToken)
	}
	if claims.Issuer != validator.issuer {
		return nil, fmt.Errorf("operator_auth.validate_token: %w", ErrInvalidIssuer)
	}
	if strings.TrimSpace(claims.OperatorID) == "" {
		return nil, fmt.Errorf("operator_auth.validate_token: %w", ErrMissingOperatorID)
	}
	return claims, nil
}

// ValidateRequest reads the Authorization bearer token from the request and
// validates it.
func (validator *Validator) ValidateRequest(request *http.Request) (*Claims, error) {
	if request == nil {
		return nil, fmt.Errorf("operator_auth.validate_request: %w", ErrMissingToken)
	}
	header := request.Header.Get("Authorization")
	if strings.TrimSpace(header) == "" {
		return nil, fmt.Errorf("operator_auth.validate_request: %w", ErrMissingBearer)
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("operator_auth.validate_request: %w", ErrMissingBearer)
	}
	return validator.ValidateToken(strings.TrimSpace(token))
}

// GinMiddleware returns a Gin middleware that validates the bearer token and
// injects claims.
func (validator *Validator) GinMiddleware(contextKey string) gin.HandlerFunc {
	if strings.TrimSpace(contextKey) == "" {
		contextKey = DefaultContextKey
	}
	return func(contextGin *gin.Context) {
		claims, err := validator.ValidateRequest(contextGin.Request)
		if err != nil {
			contextGin.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		contextGin.Set(contextKey, claims)
		contextGin.Next()
	}
}
