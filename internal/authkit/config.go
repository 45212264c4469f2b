package authkit

import "time"

// ServerConfig configures token issuance and the Tiendanube integration.
type ServerConfig struct {
	JWTSigningKey []byte
	JWTIssuer     string
	TokenTTL      time.Duration
	Provider      ProviderConfig
}

// ProviderConfig configures the outbound Tiendanube client.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	APIURL       string
	UserAgent    string
	Timeout      time.Duration
}
