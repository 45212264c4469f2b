package authkit

import (
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/storelink/pkg/sessionvalidator"
)

// ClaimsContextKey is where RequireSession stores the validated claims.
const ClaimsContextKey = sessionvalidator.DefaultContextKey

// RequireSession validates the bearer token and injects claims.
func RequireSession(configuration ServerConfig) (gin.HandlerFunc, error) {
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: configuration.JWTSigningKey,
		Issuer:     configuration.JWTIssuer,
	})
	if err != nil {
		return nil, err
	}
	return validator.GinMiddleware(ClaimsContextKey), nil
}

// SessionClaims returns the claims injected by RequireSession.
func SessionClaims(contextGin *gin.Context) (*sessionvalidator.Claims, bool) {
	value, found := contextGin.Get(ClaimsContextKey)
	if !found {
		return nil, false
	}
	claims, ok := value.(*sessionvalidator.Claims)
	if !ok || claims == nil || claims.SubjectID() == "" {
		return nil, false
	}
	return claims, true
}
