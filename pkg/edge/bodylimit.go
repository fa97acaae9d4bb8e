package edge

import (
	"bytes"
	"io"
	"net/http"

	"github.com/tendant/authcore/pkg/config"
	"github.com/tendant/authcore/pkg/errors"
	"github.com/tendant/authcore/pkg/metrics"
)

// BodyLimit rejects requests whose body reaches cfg.MaxNBytes with 413.
// A body of unknown length is read up to the limit and replaced by the
// bytes read.
func BodyLimit(cfg config.BodyLimitConfig) func(http.Handler) http.Handler {
	max := cfg.MaxNBytes
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if max <= 0 || r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength >= 0 {
				if r.ContentLength >= max {
					tooLarge(w, r, r.ContentLength, max)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, max))
			r.Body.Close()
			if err != nil {
				http.Error(w, "failed to read request body", http.StatusBadRequest)
				return
			}
			if int64(len(body)) >= max {
				tooLarge(w, r, int64(len(body)), max)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
			next.ServeHTTP(w, r)
		})
	}
}

func tooLarge(w http.ResponseWriter, r *http.Request, n, max int64) {
	metrics.EdgeRejections.WithLabelValues("bodylimit").Inc()
	WriteError(w, r, errors.Newf(errors.KindPayloadTooLarge, "request body of %d bytes exceeds %d", n, max))
}
