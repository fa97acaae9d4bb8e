package jwks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/authcore/pkg/config"
)

func TestHandler(t *testing.T) {
	t.Run("EmptyKeystore", func(t *testing.T) {
		ks := NewKeyStore(config.DefaultKeystoreConfig(), nil, nil)
		r := chi.NewRouter()
		NewHandler(ks, 0).Routes(r)

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jwks", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		assert.JSONEq(t, `{"keys":[]}`, rec.Body.String())
	})

	t.Run("PublicFieldsOnly", func(t *testing.T) {
		ks := NewKeyStore(config.DefaultKeystoreConfig(), nil, nil, WithGenerator(&stubGenerator{}))
		require.NoError(t, ks.Rotate(context.Background()))

		r := chi.NewRouter()
		NewHandler(ks, time.Hour).Routes(r)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jwks", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))

		var body struct {
			Keys []map[string]interface{} `json:"keys"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Keys, 1)
		key := body.Keys[0]
		assert.Equal(t, ks.CurrentKid(), key["kid"])
		assert.Equal(t, "RSA", key["kty"])
		assert.Equal(t, "sig", key["use"])
		assert.Equal(t, "RS256", key["alg"])
		assert.Equal(t, "AQAB", key["e"])
		for _, field := range []string{"d", "p", "q", "dp", "dq", "qi", "oth", "exp"} {
			assert.NotContains(t, key, field)
		}
	})
}
