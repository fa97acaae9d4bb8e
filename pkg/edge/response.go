package edge

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/tendant/authcore/pkg/errors"
)

const (
	DetailAuthenticationFailure = "authentication-failure"
	DetailInternalError         = "internal-error"
)

// ErrorResponse is the JSON body of a rejected request
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// WriteError answers with the status mapped from the error kind. The kind
// itself only reaches the log; server side failures never expose their
// message either.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errors.KindOf(err)
	status := errors.HTTPStatus(kind)

	var resp ErrorResponse
	switch {
	case errors.IsAuthentication(kind):
		w.Header().Set("WWW-Authenticate", "Bearer")
		resp = ErrorResponse{Detail: DetailAuthenticationFailure}
	case status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable:
		slog.Error("Request failed", "path", r.URL.Path, "kind", kind, "err", err)
		resp = ErrorResponse{Detail: DetailInternalError}
	default:
		slog.Debug("Request rejected", "path", r.URL.Path, "kind", kind, "status", status)
		var e *errors.Error
		if errors.As(err, &e) {
			resp.Detail = e.Message
		}
	}

	render.Status(r, status)
	render.JSON(w, r, resp)
}
