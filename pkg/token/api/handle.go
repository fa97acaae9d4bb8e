// Package api exposes token issuing over HTTP. Issue trusts its caller to
// have authenticated the profile and is meant to be reachable only from
// inside the deployment; Refresh re-issues the caller's own token with the
// profile's current grant.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/tendant/authcore/pkg/edge"
	"github.com/tendant/authcore/pkg/sessions"
	"github.com/tendant/authcore/pkg/token"
)

// GrantLoader returns the current grant of a profile
type GrantLoader interface {
	Grant(ctx context.Context, id int) (token.Grant, error)
}

// SessionCreator starts the login session bound to an issued token
type SessionCreator interface {
	CreateSession(ctx context.Context, accountID string, lifetime time.Duration) (sessions.Session, error)
}

// Handler serves the token endpoints
type Handler struct {
	issuer     *token.Issuer
	grants     GrantLoader
	sessions   SessionCreator
	cookieName string
	secure     bool
}

// Option configures a Handler
type Option func(*Handler)

// WithSessions makes Issue start a session and set its cookie
func WithSessions(s SessionCreator, cookieName string, secure bool) Option {
	return func(h *Handler) {
		h.sessions = s
		h.cookieName = cookieName
		h.secure = secure
	}
}

// NewHandler creates a new token API handler
func NewHandler(issuer *token.Issuer, grants GrantLoader, opts ...Option) *Handler {
	h := &Handler{issuer: issuer, grants: grants}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts POST /token and, behind authn, POST /token/refresh
func (h *Handler) Routes(r chi.Router, authn func(http.Handler) http.Handler) {
	r.Post("/token", h.Issue)
	r.With(authn).Post("/token/refresh", h.Refresh)
}

// Issue handles POST /token
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	var req IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Invalid request body"})
		return
	}
	if req.Profile <= 0 {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "profile is required"})
		return
	}

	signed, exp, ok := h.issue(w, r, req.Profile, req.Audience)
	if !ok {
		return
	}
	if h.sessions != nil {
		sess, err := h.sessions.CreateSession(r.Context(), strconv.Itoa(req.Profile), time.Until(exp))
		if err != nil {
			slog.Error("Failed to create session", "profile", req.Profile, "err", err)
			edge.WriteError(w, r, err)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     h.cookieName,
			Value:    sess.ID,
			Path:     "/",
			Expires:  sess.ExpiresAt,
			HttpOnly: true,
			Secure:   h.secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	h.respond(w, r, signed, exp)
}

// Refresh handles POST /token/refresh for an authenticated caller. The new
// token keeps the audience of the old one.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	claims, ok := edge.ClaimsFromContext(r.Context())
	if !ok {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, edge.ErrorResponse{Detail: edge.DetailAuthenticationFailure})
		return
	}
	signed, exp, ok := h.issue(w, r, claims.Profile, claims.Audience)
	if !ok {
		return
	}
	h.respond(w, r, signed, exp)
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request, profile int, audience []string) (string, time.Time, bool) {
	grant, err := h.grants.Grant(r.Context(), profile)
	if err != nil {
		slog.Info("Refusing token", "profile", profile, "err", err)
		edge.WriteError(w, r, err)
		return "", time.Time{}, false
	}
	signed, exp, err := h.issuer.Issue(grant, audience)
	if err != nil {
		edge.WriteError(w, r, err)
		return "", time.Time{}, false
	}
	return signed, exp, true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, signed string, exp time.Time) {
	w.Header().Set("Cache-Control", "no-store")
	render.Status(r, http.StatusOK)
	render.JSON(w, r, TokenResponse{AccessToken: signed, TokenType: "Bearer", ExpiresAt: exp})
}
