package wellknown

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// Handler provides HTTP handlers for well-known endpoints
type Handler struct {
	config Config
}

// NewHandler creates a new well-known endpoints handler
func NewHandler(config Config) *Handler {
	return &Handler{config: config}
}

// AuthorizationServerRoutes mounts the keyserver documents
func (h *Handler) AuthorizationServerRoutes(r chi.Router) {
	r.Get("/.well-known/oauth-authorization-server", h.AuthorizationServerMetadata)
}

// ProtectedResourceRoutes mounts the protected service document
func (h *Handler) ProtectedResourceRoutes(r chi.Router) {
	r.Get("/.well-known/oauth-protected-resource", h.ProtectedResourceMetadata)
}

// AuthorizationServerMetadata handles GET /.well-known/oauth-authorization-server
func (h *Handler) AuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	discoverable(w)
	render.JSON(w, r, NewAuthorizationServerMetadata(h.config))
}

// ProtectedResourceMetadata handles GET /.well-known/oauth-protected-resource
func (h *Handler) ProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	discoverable(w)
	render.JSON(w, r, NewProtectedResourceMetadata(h.config))
}

// discoverable marks a response as cacheable and readable from any origin
func discoverable(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Access-Control-Allow-Origin", "*")
}
