package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/authcore/pkg/config"
	"github.com/tendant/authcore/pkg/edge"
	"github.com/tendant/authcore/pkg/errors"
	"github.com/tendant/authcore/pkg/jwks"
	"github.com/tendant/authcore/pkg/keygen"
	"github.com/tendant/authcore/pkg/sessions"
	"github.com/tendant/authcore/pkg/token"
)

type grants map[int]token.Grant

func (g grants) Grant(ctx context.Context, id int) (token.Grant, error) {
	grant, ok := g[id]
	if !ok {
		return token.Grant{}, errors.New(errors.KindPermissionDenied, "unknown profile")
	}
	return grant, nil
}

type fixture struct {
	router   chi.Router
	codec    *token.Codec
	sessions *sessions.Service
	grants   grants
}

func setup(t *testing.T) *fixture {
	ctx := context.Background()
	ks := jwks.NewKeyStore(config.DefaultKeystoreConfig(), nil, nil, jwks.WithGenerator(keygen.NewPool(1)))
	require.NoError(t, ks.Rotate(ctx))
	codec := token.NewCodec(ks, token.WithSigner(ks))

	jwtCfg := config.JWTConfig{Audience: config.StringList{"store", "order"}, Lifetime: 5 * time.Minute}
	issuer := token.NewIssuer(codec, jwtCfg)

	g := grants{117: {Profile: 117, Perms: []token.Perm{{AppCode: 3, Codename: "view_item"}}, Quota: []token.Quota{}}}
	svc := sessions.NewService(sessions.NewMemoryStore(nil), sessions.NewMemoryBindingCache(nil))
	h := NewHandler(issuer, g, WithSessions(svc, "sessionid", false))

	r := chi.NewRouter()
	h.Routes(r, edge.NewAuthenticator(codec, "store").Handler)
	return &fixture{router: r, codec: codec, sessions: svc, grants: g}
}

func post(h http.Handler, path, body, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIssue(t *testing.T) {
	f := setup(t)

	t.Run("Success", func(t *testing.T) {
		rec := post(f.router, "/token", `{"profile":117,"audience":["store"]}`, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

		var resp TokenResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Bearer", resp.TokenType)

		claims, err := f.codec.Verify(context.Background(), resp.AccessToken, "store")
		require.NoError(t, err)
		assert.Equal(t, 117, claims.Profile)
		assert.Equal(t, "117", claims.Subject)

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, "sessionid", cookies[0].Name)
		sess, err := f.sessions.GetSession(context.Background(), cookies[0].Value)
		require.NoError(t, err)
		assert.Equal(t, "117", sess.AccountID)
	})

	t.Run("SecondIssueEvictsFirstSession", func(t *testing.T) {
		first := post(f.router, "/token", `{"profile":117}`, "").Result().Cookies()[0].Value
		post(f.router, "/token", `{"profile":117}`, "")
		_, err := f.sessions.GetSession(context.Background(), first)
		assert.ErrorIs(t, err, sessions.ErrNotFound)
	})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"MalformedBody", `{"profile":`, http.StatusBadRequest},
		{"MissingProfile", `{}`, http.StatusBadRequest},
		{"UnknownProfile", `{"profile":9}`, http.StatusForbidden},
		{"UnknownAudience", `{"profile":117,"audience":["billing"]}`, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, post(f.router, "/token", tt.body, "").Code)
		})
	}
}

func TestRefresh(t *testing.T) {
	f := setup(t)

	rec := post(f.router, "/token", `{"profile":117,"audience":["store"]}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var issued TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))

	// The profile gains a permission after the first token was issued
	f.grants[117] = token.Grant{Profile: 117, Perms: []token.Perm{{AppCode: 3, Codename: "view_item"}, {AppCode: 3, Codename: "add_item"}}, Quota: []token.Quota{}}

	rec = post(f.router, "/token/refresh", "", issued.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var refreshed TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refreshed))

	claims, err := f.codec.Verify(context.Background(), refreshed.AccessToken, "store")
	require.NoError(t, err)
	assert.True(t, claims.HasPerm(3, "add_item"))
	assert.Equal(t, []string{"store"}, []string(claims.Audience))

	assert.Equal(t, http.StatusUnauthorized, post(f.router, "/token/refresh", "", "").Code)
}
