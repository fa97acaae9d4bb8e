// Package wellknown publishes discovery documents: the keyserver's
// authorization server metadata (RFC 8414) pointing at its token endpoint
// and JWKS, and a protected service's resource metadata (RFC 9728) naming
// the keyserver that issues its tokens.
package wellknown

import "strings"

// AuthorizationServerMetadata is the RFC 8414 document of the keyserver
type AuthorizationServerMetadata struct {
	Issuer        string `json:"issuer"`
	TokenEndpoint string `json:"token_endpoint"`
	JwksURI       string `json:"jwks_uri"`

	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	SigningAlgValuesSupported         []string `json:"token_endpoint_auth_signing_alg_values_supported,omitempty"`
	// Audiences lists the audience tags tokens may be requested for.
	Audiences []string `json:"audiences_supported,omitempty"`
}

// ProtectedResourceMetadata is the RFC 9728 document of a protected service
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	// Audience is the tag a token must carry in aud to be accepted here.
	Audience string `json:"audience,omitempty"`
}

// Config holds configuration for well-known endpoints
type Config struct {
	// BaseURL is where this service is reachable, e.g. "https://auth.example.com".
	BaseURL string
	// Issuer is the iss written into tokens; defaults to BaseURL.
	Issuer string
	// AuthorizationServer is the keyserver base URL, used by protected services.
	AuthorizationServer string
	Audiences           []string
	ServiceAudience     string
}

// NewAuthorizationServerMetadata creates the keyserver's metadata
func NewAuthorizationServerMetadata(config Config) *AuthorizationServerMetadata {
	base := strings.TrimSuffix(config.BaseURL, "/")
	issuer := config.Issuer
	if issuer == "" {
		issuer = base
	}
	return &AuthorizationServerMetadata{
		Issuer:                            issuer,
		TokenEndpoint:                     base + "/token",
		JwksURI:                           base + "/jwks",
		GrantTypesSupported:               []string{"refresh_token"},
		TokenEndpointAuthMethodsSupported: []string{"none"},
		SigningAlgValuesSupported:         []string{"RS256"},
		Audiences:                         config.Audiences,
	}
}

// NewProtectedResourceMetadata creates a protected service's metadata
func NewProtectedResourceMetadata(config Config) *ProtectedResourceMetadata {
	return &ProtectedResourceMetadata{
		Resource:               strings.TrimSuffix(config.BaseURL, "/"),
		AuthorizationServers:   []string{strings.TrimSuffix(config.AuthorizationServer, "/")},
		BearerMethodsSupported: []string{"header", "cookie"},
		Audience:               config.ServiceAudience,
	}
}
