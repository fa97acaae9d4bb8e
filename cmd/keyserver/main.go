// Command keyserver runs the user-management side of authcore: it owns the
// signing keystore and its rotation, publishes the public keys at /jwks,
// issues access tokens and answers get_profile RPCs so that services can
// refresh stale claims.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/tendant/chi-demo/app"
	dbutils "github.com/tendant/db-utils/db"
	"golang.org/x/sync/errgroup"

	"github.com/tendant/authcore/pkg/authz"
	"github.com/tendant/authcore/pkg/config"
	"github.com/tendant/authcore/pkg/edge"
	"github.com/tendant/authcore/pkg/jwks"
	"github.com/tendant/authcore/pkg/keygen"
	"github.com/tendant/authcore/pkg/logging"
	"github.com/tendant/authcore/pkg/metrics"
	"github.com/tendant/authcore/pkg/profile"
	"github.com/tendant/authcore/pkg/ratelimit"
	"github.com/tendant/authcore/pkg/rpc"
	"github.com/tendant/authcore/pkg/sessions"
	"github.com/tendant/authcore/pkg/token"
	tokenapi "github.com/tendant/authcore/pkg/token/api"
	"github.com/tendant/authcore/pkg/wellknown"
)

var errServerExited = errors.New("http server exited")

func main() {
	configPath := flag.String("config", "", "Optional YAML/JSON config file; the environment overrides it")
	envFile := flag.String("env", ".env", "Optional .env file loaded before the environment is read")
	profilesPath := flag.String("profiles", "./data/profiles.json", "Profile file used when no database is configured")
	keygenWorkers := flag.Int("keygen-workers", 1, "Concurrent key generations")
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
	logger := logging.New(os.Stdout, settings.LogFormat, settings.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, settings, *profilesPath, *keygenWorkers); err != nil {
		slog.Error("Keyserver stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, settings config.Settings, profilesPath string, keygenWorkers int) error {
	var pool *pgxpool.Pool
	if settings.Database.Enabled() {
		dbConfig := settings.Database.ToDbConfig()
		var err error
		pool, err = dbutils.NewDbPool(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed creating dbpool", "db", dbConfig.Database, "host", dbConfig.Host, "port", dbConfig.Port, "user", dbConfig.User)
			return err
		}
		defer pool.Close()
	}

	ks, err := newKeyStore(ctx, settings.Keystore, pool, keygen.NewPool(keygenWorkers))
	if err != nil {
		return err
	}
	rotator := jwks.NewRotator(ks, settings.Keystore.CheckInterval)
	if err := rotator.Start(ctx); err != nil {
		return err
	}
	defer rotator.Stop()

	store, err := newProfileStore(pool, profilesPath)
	if err != nil {
		return err
	}
	profiles := profile.NewService(store)

	tables, err := authz.LoadTables(settings.Authz.AppCodesFile, settings.Authz.MaterialCodesFile)
	if err != nil {
		return err
	}
	codec := token.NewCodec(ks,
		token.WithSigner(ks),
		token.WithIssuer(settings.JWT.Issuer),
		token.WithLeeway(settings.JWT.Leeway),
	)
	issuer := token.NewIssuer(codec, settings.JWT, token.WithAppCodes(tables))

	sessionSvc, closeSessions, err := newSessions(ctx, settings)
	if err != nil {
		return err
	}
	defer closeSessions()

	transport, err := rpc.Dial(settings.RPC, settings.RPC.AppLabel+"-keyserver")
	if err != nil {
		return err
	}
	defer transport.Close()
	rpcServer := rpc.NewServer(transport, rpc.WithReplyTTL(settings.RPC.ReplyTTL))
	rpcServer.Handle(rpc.GetProfileKey, rpc.ProfileHandler(profiles))
	if err := rpcServer.Start(ctx); err != nil {
		return err
	}
	defer rpcServer.Stop()

	var shutdown edge.Shutdown
	limiter := ratelimit.NewMiddleware(settings.RateLimit)
	defer limiter.Stop()

	server := app.NewApp(app.WithPort(int(settings.Port)))
	server.R.Handle("/metrics", metrics.Handler())
	jwks.NewHandler(ks, time.Hour).Routes(server.R)
	wellknown.NewHandler(wellknown.Config{
		BaseURL:   settings.PublicURL,
		Issuer:    settings.JWT.Issuer,
		Audiences: settings.JWT.Audience,
	}).AuthorizationServerRoutes(server.R)

	server.R.Group(func(r chi.Router) {
		r.Use(edge.Chain(edge.Filters{
			Shutdown:  shutdown.Handler,
			CORS:      edge.CORS(settings.CORS),
			BodyLimit: edge.BodyLimit(settings.BodyLimit),
			RateLimit: limiter.Handler,
		}))
		authn := edge.Chain(edge.Filters{
			Authenticate:  edge.NewAuthenticator(codec, settings.JWT.ServiceAudience).Handler,
			SingleSession: singleSession(settings.Session, sessionSvc),
		})
		tokenapi.NewHandler(issuer, profiles,
			tokenapi.WithSessions(sessionSvc, settings.Session.CookieName, settings.CSRF.CookieSecure),
		).Routes(r, authn)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		server.Run()
		return errServerExited
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown.Begin()
		slog.Info("Shutting down keyserver")
		return nil
	})
	slog.Info("Keyserver started", "port", settings.Port, "kid", ks.CurrentKid(), "rpc", rpcServer.RoutingKeys())
	if err := g.Wait(); err != nil && !errors.Is(err, errServerExited) {
		return err
	}
	return nil
}

func newKeyStore(ctx context.Context, cfg config.KeystoreConfig, pool *pgxpool.Pool, gen jwks.Generator) (*jwks.KeyStore, error) {
	if pool == nil {
		return jwks.NewFileKeyStore(ctx, cfg, jwks.WithGenerator(gen))
	}
	secret, err := jwks.NewPostgresRepository(pool, "secret")
	if err != nil {
		return nil, err
	}
	pubkey, err := jwks.NewPostgresRepository(pool, "pubkey")
	if err != nil {
		return nil, err
	}
	ks := jwks.NewKeyStore(cfg, secret, pubkey, jwks.WithGenerator(gen))
	if err := ks.Load(ctx); err != nil {
		return nil, err
	}
	return ks, nil
}

func newProfileStore(pool *pgxpool.Pool, path string) (profile.Store, error) {
	if pool != nil {
		return profile.NewStore("postgres", profile.StoreConfig{Pool: pool})
	}
	return profile.NewStore("file", profile.StoreConfig{Path: path})
}

// newSessions uses Redis when an address is configured and an in-process
// store otherwise.
func newSessions(ctx context.Context, settings config.Settings) (*sessions.Service, func(), error) {
	if settings.Redis.Addr == "" {
		return sessions.NewService(sessions.NewMemoryStore(nil), sessions.NewMemoryBindingCache(nil)), func() {}, nil
	}
	client, err := sessions.NewRedisClient(ctx, settings.Redis)
	if err != nil {
		return nil, nil, err
	}
	svc := sessions.NewService(
		sessions.NewRedisStore(client, settings.Session.KeyPrefix),
		sessions.NewRedisBindingCache(client, settings.Session.KeyPrefix),
	)
	return svc, func() { client.Close() }, nil
}

func singleSession(cfg config.SessionConfig, svc *sessions.Service) func(http.Handler) http.Handler {
	if !cfg.SingleSession {
		return nil
	}
	return edge.SingleSession(svc, cfg.CookieName)
}
