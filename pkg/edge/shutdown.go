package edge

import (
	"net/http"
	"sync/atomic"

	"github.com/tendant/authcore/pkg/errors"
	"github.com/tendant/authcore/pkg/metrics"
)

// Shutdown turns new requests away once the service started shutting down.
type Shutdown struct {
	closing atomic.Bool
}

// Begin marks the start of shutdown
func (s *Shutdown) Begin() {
	s.closing.Store(true)
}

// Closing reports whether shutdown started
func (s *Shutdown) Closing() bool {
	return s.closing.Load()
}

// Handler answers 503 with Connection: close during shutdown
func (s *Shutdown) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.closing.Load() {
			metrics.EdgeRejections.WithLabelValues("shutdown").Inc()
			w.Header().Set("Connection", "close")
			WriteError(w, r, errors.New(errors.KindShuttingDown, "service is shutting down"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
