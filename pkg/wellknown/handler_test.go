package wellknown

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizationServerMetadata(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(Config{BaseURL: "https://auth.example.com/", Audiences: []string{"store", "order"}}).AuthorizationServerRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))

	var md AuthorizationServerMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &md))
	assert.Equal(t, "https://auth.example.com", md.Issuer)
	assert.Equal(t, "https://auth.example.com/token", md.TokenEndpoint)
	assert.Equal(t, "https://auth.example.com/jwks", md.JwksURI)
	assert.Equal(t, []string{"RS256"}, md.SigningAlgValuesSupported)
	assert.Equal(t, []string{"store", "order"}, md.Audiences)
}

func TestIssuerOverride(t *testing.T) {
	md := NewAuthorizationServerMetadata(Config{BaseURL: "http://keyserver:8008", Issuer: "https://auth.example.com"})
	assert.Equal(t, "https://auth.example.com", md.Issuer)
	assert.Equal(t, "http://keyserver:8008/jwks", md.JwksURI)
}

func TestProtectedResourceMetadata(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(Config{
		BaseURL:             "https://store.example.com",
		AuthorizationServer: "https://auth.example.com/",
		ServiceAudience:     "store",
	}).ProtectedResourceRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var md ProtectedResourceMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &md))
	assert.Equal(t, "https://store.example.com", md.Resource)
	assert.Equal(t, []string{"https://auth.example.com"}, md.AuthorizationServers)
	assert.Equal(t, "store", md.Audience)
}
