// Package metrics holds the prometheus collectors shared by the keystore,
// the token codec, the RPC client and the HTTP edge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TokensSigned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authcore_tokens_signed_total",
		Help: "Total number of signed tokens",
	})
	TokenVerifyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authcore_token_verify_failures_total",
		Help: "Token verification failures by error kind",
	}, []string{"kind"})
	TokenVerifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "authcore_token_verify_duration_seconds",
		Help:    "Latency of token verification in seconds",
		Buckets: prometheus.DefBuckets,
	})

	KeystoreRotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authcore_keystore_rotations_total",
		Help: "Total number of key rotations",
	})
	KeystoreKeys = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "authcore_keystore_keys",
		Help: "Number of keys held by the keystore by role",
	}, []string{"role"})

	JWKSFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authcore_jwks_fetch_total",
		Help: "Remote JWKS fetches by result",
	}, []string{"result"})

	RPCCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authcore_rpc_calls_total",
		Help: "RPC calls by routing key and final status",
	}, []string{"routing_key", "status"})
	RPCCallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "authcore_rpc_call_duration_seconds",
		Help:    "Latency of RPC calls including retries in seconds",
		Buckets: prometheus.DefBuckets,
	})

	EdgeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authcore_edge_rejections_total",
		Help: "Requests rejected by an edge filter",
	}, []string{"filter"})
)

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
