package authkit

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	claimSubject   = "sub"
	claimEmail     = "email"
	claimIssuer    = "iss"
	claimIssuedAt  = "iat"
	claimNotBefore = "nbf"
	claimExpiresAt = "exp"

	// ClaimExternalUserID carries the Tiendanube user id on linked-account tokens.
	ClaimExternalUserID = "userId"
)

var (
	errEmptySubject    = errors.New("jwt.mint.failure: subject must be non-empty")
	errEmptySigningKey = errors.New("jwt.issuer: signing key must be provided")
	errInvalidTokenTTL = errors.New("jwt.issuer: token ttl must be greater than zero")

	reservedClaims = map[string]struct{}{
		claimSubject:   {},
		claimEmail:     {},
		claimIssuer:    {},
		claimIssuedAt:  {},
		claimNotBefore: {},
		claimExpiresAt: {},
	}
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// NewSystemClock returns a Clock backed by time.Now in UTC.
func NewSystemClock() Clock {
	return systemClock{}
}

// AccessToken is the bearer credential returned to clients.
type AccessToken struct {
	AccessToken string `json:"access_token"`
}

// TokenSigner issues bearer tokens.
type TokenSigner interface {
	SignToken(subjectID string, email string, extraClaims map[string]any) (AccessToken, error)
}

// TokenIssuer signs HS256 bearer tokens with a process-wide secret.
type TokenIssuer struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	clock      Clock
}

// NewTokenIssuer validates configuration and builds an issuer. A nil clock uses the system clock.
func NewTokenIssuer(configuration ServerConfig, clock Clock) (*TokenIssuer, error) {
	if len(configuration.JWTSigningKey) == 0 {
		return nil, errEmptySigningKey
	}
	if configuration.TokenTTL <= 0 {
		return nil, errInvalidTokenTTL
	}
	if clock == nil {
		clock = NewSystemClock()
	}
	return &TokenIssuer{
		signingKey: configuration.JWTSigningKey,
		issuer:     configuration.JWTIssuer,
		ttl:        configuration.TokenTTL,
		clock:      clock,
	}, nil
}

// SignToken builds {sub, email, ...extraClaims} plus registered claims and signs it.
// Extra claims never replace the registered ones.
func (tokenIssuer *TokenIssuer) SignToken(subjectID string, email string, extraClaims map[string]any) (AccessToken, error) {
	if subjectID == "" {
		return AccessToken{}, errEmptySubject
	}
	issuedAt := tokenIssuer.clock.Now().UTC()
	claims := jwt.MapClaims{}
	for name, value := range extraClaims {
		if _, reserved := reservedClaims[name]; reserved {
			continue
		}
		claims[name] = value
	}
	claims[claimSubject] = subjectID
	claims[claimEmail] = email
	if tokenIssuer.issuer != "" {
		claims[claimIssuer] = tokenIssuer.issuer
	}
	claims[claimIssuedAt] = jwt.NewNumericDate(issuedAt)
	claims[claimNotBefore] = jwt.NewNumericDate(issuedAt.Add(-30 * time.Second))
	claims[claimExpiresAt] = jwt.NewNumericDate(issuedAt.Add(tokenIssuer.ttl))

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tokenIssuer.signingKey)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{AccessToken: signed}, nil
}
