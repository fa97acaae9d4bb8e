package jwks

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// PublicKeySet is anything able to produce the published key set.
type PublicKeySet interface {
	PublicJWKS() JWKS
}

// Handler publishes the public half of a keystore.
type Handler struct {
	keys   PublicKeySet
	maxAge time.Duration
}

// NewHandler creates the JWKS publisher. maxAge sets Cache-Control; zero
// disables caching.
func NewHandler(keys PublicKeySet, maxAge time.Duration) *Handler {
	return &Handler{keys: keys, maxAge: maxAge}
}

// Routes mounts GET /jwks
func (h *Handler) Routes(r chi.Router) {
	r.Get("/jwks", h.ServeJWKS)
}

// ServeJWKS handles GET /jwks. It always answers 200 with {"keys":[...]},
// an empty list when the keystore holds nothing.
func (h *Handler) ServeJWKS(w http.ResponseWriter, r *http.Request) {
	set := h.keys.PublicJWKS()
	if set.Keys == nil {
		set.Keys = []JWK{}
	}

	w.Header().Set("Content-Type", "application/json")
	if h.maxAge > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(h.maxAge.Seconds())))
	} else {
		w.Header().Set("Cache-Control", "no-store")
	}
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(set); err != nil {
		slog.Error("Failed to encode JWKS", "err", err)
		return
	}
	slog.Debug("JWKS served", "keys", len(set.Keys))
}
