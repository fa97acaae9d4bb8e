// Command gateway is a service protected by authcore. It verifies access
// tokens against the keyserver's published JWKS, runs every request
// through the edge filter chain and refreshes stale claims over RPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/joho/godotenv"
	"github.com/tendant/chi-demo/app"
	"golang.org/x/sync/errgroup"

	"github.com/tendant/authcore/pkg/authz"
	"github.com/tendant/authcore/pkg/config"
	"github.com/tendant/authcore/pkg/edge"
	"github.com/tendant/authcore/pkg/jwks"
	"github.com/tendant/authcore/pkg/logging"
	"github.com/tendant/authcore/pkg/metrics"
	"github.com/tendant/authcore/pkg/ratelimit"
	"github.com/tendant/authcore/pkg/rpc"
	"github.com/tendant/authcore/pkg/sessions"
	"github.com/tendant/authcore/pkg/token"
	"github.com/tendant/authcore/pkg/wellknown"
)

var errServerExited = errors.New("http server exited")

func main() {
	configPath := flag.String("config", "", "Optional YAML/JSON config file; the environment overrides it")
	envFile := flag.String("env", ".env", "Optional .env file loaded before the environment is read")
	model := flag.String("model", "item", "Model name guarding /api/items")
	flag.Parse()

	if _, err := os.Stat(*envFile); err == nil {
		if err := godotenv.Load(*envFile); err != nil {
			slog.Error("Failed to load .env file", "path", *envFile, "err", err)
			os.Exit(1)
		}
	}

	settings, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Invalid configuration", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.New(os.Stdout, settings.LogFormat, settings.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, settings, *model); err != nil {
		slog.Error("Gateway stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, settings config.Settings, model string) error {
	if settings.Keystore.Pubkey.URL == "" {
		return fmt.Errorf("KEYSTORE_PUBKEY_URL is required")
	}
	tables, err := authz.LoadTables(settings.Authz.AppCodesFile, settings.Authz.MaterialCodesFile)
	if err != nil {
		return err
	}
	appCode, ok := tables.AppCode(settings.Authz.AppLabel)
	if !ok {
		return fmt.Errorf("app label %q not found in %s", settings.Authz.AppLabel, settings.Authz.AppCodesFile)
	}

	fetcher := jwks.NewFetcher(settings.Keystore.Pubkey.URL, settings.Keystore.Pubkey.CacheTTL(),
		jwks.WithFetchTimeout(settings.Keystore.Pubkey.Timeout),
	)
	codec := token.NewCodec(fetcher,
		token.WithIssuer(settings.JWT.Issuer),
		token.WithLeeway(settings.JWT.Leeway),
	)

	transport, err := rpc.Dial(settings.RPC, settings.RPC.AppLabel+"-gateway")
	if err != nil {
		return err
	}
	defer transport.Close()
	rpcClient, err := rpc.NewClient(ctx, transport, settings.RPC)
	if err != nil {
		return err
	}
	defer rpcClient.Close()
	profiles := rpc.NewProfileClient(rpcClient)

	var sessionFilter func(http.Handler) http.Handler
	if settings.Session.SingleSession && settings.Redis.Addr != "" {
		client, err := sessions.NewRedisClient(ctx, settings.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		svc := sessions.NewService(
			sessions.NewRedisStore(client, settings.Session.KeyPrefix),
			sessions.NewRedisBindingCache(client, settings.Session.KeyPrefix),
		)
		sessionFilter = edge.SingleSession(svc, settings.Session.CookieName)
	}

	var shutdown edge.Shutdown
	limiter := ratelimit.NewMiddleware(settings.RateLimit)
	defer limiter.Stop()

	filters := edge.Filters{
		Shutdown:  shutdown.Handler,
		CORS:      edge.CORS(settings.CORS),
		BodyLimit: edge.BodyLimit(settings.BodyLimit),
		RateLimit: limiter.Handler,
		CSRF:      edge.CSRF(settings.CSRF, nil),
		Authenticate: edge.NewAuthenticator(codec, settings.JWT.ServiceAudience,
			edge.WithRefresher(profiles, appCode),
		).Handler,
		SingleSession: sessionFilter,
	}

	server := app.NewApp(app.WithPort(int(settings.Port)))
	server.R.Handle("/metrics", metrics.Handler())
	wellknown.NewHandler(wellknown.Config{
		BaseURL:             settings.PublicURL,
		AuthorizationServer: keyserverBase(settings),
		ServiceAudience:     settings.JWT.ServiceAudience,
	}).ProtectedResourceRoutes(server.R)
	server.R.Route("/api", func(r chi.Router) {
		r.Use(edge.Chain(filters))
		r.Get("/claims", serveClaims)
		r.With(edge.Authorize(authz.Requirement{
			AppCode:         appCode,
			Perms:           authz.ModelPerms(model),
			SuperuserBypass: true,
		})).HandleFunc("/items", serveClaims)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		server.Run()
		return errServerExited
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown.Begin()
		slog.Info("Shutting down gateway")
		return nil
	})
	slog.Info("Gateway started", "port", settings.Port, "app", settings.Authz.AppLabel, "jwks", fetcher.URL())
	if err := g.Wait(); err != nil && !errors.Is(err, errServerExited) {
		return err
	}
	return nil
}

// keyserverBase derives the keyserver base URL from the issuer or, failing
// that, from the JWKS URL.
func keyserverBase(settings config.Settings) string {
	if settings.JWT.Issuer != "" {
		return settings.JWT.Issuer
	}
	return strings.TrimSuffix(settings.Keystore.Pubkey.URL, "/jwks")
}

// serveClaims answers with the caller's verified claims
func serveClaims(w http.ResponseWriter, r *http.Request) {
	claims, _ := edge.ClaimsFromContext(r.Context())
	render.JSON(w, r, claims)
}
