package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"connectrpc.com/connect"
	connectcors "connectrpc.com/cors"
	"connectrpc.com/otelconnect"
	"filippo.io/csrf"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wolfeidau/academy/internal/auth"
	"github.com/wolfeidau/academy/internal/catalog"
	"github.com/wolfeidau/academy/internal/client"
	"github.com/wolfeidau/academy/internal/guard"
	httpmiddleware "github.com/wolfeidau/academy/internal/http"
	"github.com/wolfeidau/academy/internal/logger"
	"github.com/wolfeidau/academy/internal/login"
	"github.com/wolfeidau/academy/internal/payment"
	"github.com/wolfeidau/academy/internal/server"
	"github.com/wolfeidau/academy/internal/site"
	"github.com/wolfeidau/academy/internal/store"
	memorystore "github.com/wolfeidau/academy/internal/store/memory"
	postgresstore "github.com/wolfeidau/academy/internal/store/postgres"
	redisstore "github.com/wolfeidau/academy/internal/store/redis"
	"github.com/wolfeidau/academy/internal/telemetry"
)

type WebsiteCmd struct {
	// Server configuration
	Listen  string `help:"HTTP server listen address" default:"0.0.0.0:443" env:"ACADEMY_LISTEN"`
	Cert    string `help:"path to TLS cert file" default:"" env:"ACADEMY_TLS_CERT"`
	Key     string `help:"path to TLS key file" default:"" env:"ACADEMY_TLS_KEY"`
	BaseURL string `help:"public base URL of the website, used as token issuer and payment return URL" default:"https://localhost" env:"ACADEMY_BASE_URL"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"https://localhost" env:"ACADEMY_CORS_ORIGINS"`

	// GitHub OAuth configuration
	ClientID     string        `help:"GitHub client ID" default:"" env:"ACADEMY_GITHUB_CLIENT_ID"`
	ClientSecret string        `help:"GitHub client secret" default:"" env:"ACADEMY_GITHUB_CLIENT_SECRET"`
	CallbackURL  string        `help:"GitHub callback URL" default:"" env:"ACADEMY_GITHUB_CALLBACK_URL"`
	SessionTTL   time.Duration `help:"session TTL" default:"168h" env:"ACADEMY_SESSION_TTL"`

	// API tokens
	SigningKey    string `help:"path to a PEM EC P-256 key for API tokens, a new key is generated when empty" default:"" env:"ACADEMY_SIGNING_KEY"`
	TokenAudience string `help:"audience of API tokens" default:"academy-api" env:"ACADEMY_TOKEN_AUDIENCE"`

	// Course catalog
	Catalog         string `help:"course catalog YAML file or http(s) URL" default:"courses.yaml" env:"ACADEMY_CATALOG"`
	CatalogCacheDir string `help:"directory caching catalog downloads, in memory when empty" default:"" env:"ACADEMY_CATALOG_CACHE_DIR"`

	// Admin panel
	AdminPolicy string   `help:"who may use the admin panel (role or any-authenticated)" default:"any-authenticated" enum:"role,any-authenticated" env:"ACADEMY_ADMIN_POLICY"`
	AdminEmails []string `help:"emails granted admin under the role policy" env:"ACADEMY_ADMIN_EMAILS"`

	// Development and operational modes
	Development     bool          `help:"development mode - plain HTTP and insecure cookies" default:"false" env:"ACADEMY_DEVELOPMENT"`
	Tracing         bool          `help:"enable tracing and metrics export" default:"false" env:"ACADEMY_TRACING"`
	TraceSampling   float64       `help:"fraction of traces kept" default:"1" env:"ACADEMY_TRACE_SAMPLING"`
	CleanupInterval time.Duration `help:"how often expired sessions are removed, 0 disables" default:"1h" env:"ACADEMY_SESSION_CLEANUP_INTERVAL"`

	// Store configuration
	StoreType     string             `help:"store type for users and enrollments (memory or postgres)" default:"memory" env:"ACADEMY_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
	RedisStore    RedisStoreFlags    `embed:"" prefix:"redis-"`
	PayPal        PayPalFlags        `embed:"" prefix:"paypal-"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32         `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32         `help:"minimum number of connections in pool" default:"5"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"ACADEMY_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) Validate() error {
	if s.ConnString == "" {
		return nil
	}
	if s.MinConns > s.MaxConns {
		return errors.New("postgres min conns must not exceed max conns")
	}
	return nil
}

type RedisStoreFlags struct {
	URL string `help:"Redis URL for the session store, sessions use the main store when empty" env:"ACADEMY_REDIS_URL"`
}

func (s *RedisStoreFlags) Validate() error {
	if s.URL != "" && !strings.HasPrefix(s.URL, "redis://") && !strings.HasPrefix(s.URL, "rediss://") {
		return errors.New("redis URL must start with redis:// or rediss:// (--redis-url or ACADEMY_REDIS_URL)")
	}
	return nil
}

type PayPalFlags struct {
	ClientID     string `help:"PayPal REST client ID, checkout is disabled when empty" env:"ACADEMY_PAYPAL_CLIENT_ID"`
	ClientSecret string `help:"PayPal REST client secret" env:"ACADEMY_PAYPAL_CLIENT_SECRET"`
	Live         bool   `help:"use the live PayPal API instead of the sandbox" default:"false" env:"ACADEMY_PAYPAL_LIVE"`
	BrandName    string `help:"brand name shown on the PayPal approval page" default:"Academy" env:"ACADEMY_PAYPAL_BRAND_NAME"`
}

func (s *PayPalFlags) Validate() error {
	if s.ClientID != "" && s.ClientSecret == "" {
		return errors.New("PayPal client secret is required (--paypal-client-secret or ACADEMY_PAYPAL_CLIENT_SECRET)")
	}
	return nil
}

func (c *WebsiteCmd) Validate() error {
	if c.StoreType == "postgres" && c.PostgresStore.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	if !c.Development && (c.Cert == "" || c.Key == "") {
		return errors.New("TLS certificate and key are required (--cert and --key)")
	}
	return nil
}

func (c *WebsiteCmd) Run(ctx context.Context, globals *Globals) error {
	l := logger.Setup(globals.Debug)
	log.Logger = l

	l.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	// Setup telemetry if enabled
	interceptors := []connect.Interceptor{logger.NewConnectRequests(l)}
	if c.Tracing {
		l.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName: "academy-server",
			Version:     globals.Version,
			SampleRatio: c.TraceSampling,
		})
		if err != nil {
			l.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				l.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
		otelInterceptor, err := otelconnect.NewInterceptor()
		if err != nil {
			return fmt.Errorf("failed to create OTEL interceptor: %w", err)
		}
		interceptors = append(interceptors, otelInterceptor)
	}

	stores, closeStores, err := c.createStores(ctx, l)
	if err != nil {
		return err
	}
	defer closeStores()

	courses, err := catalog.Load(ctx, client.NewCachingHTTPClient(c.CatalogCacheDir, client.DefaultTimeout), c.Catalog)
	if err != nil {
		return fmt.Errorf("failed to load course catalog: %w", err)
	}
	l.Info().Str("source", c.Catalog).Int("courses", len(courses.List())).Msg("Course catalog loaded")

	// Session provider
	var loginOpts []login.Option
	if c.Development {
		loginOpts = append(loginOpts, login.WithInsecureCookies())
	}
	gh, err := login.NewGithub(c.ClientID, c.ClientSecret, c.CallbackURL, stores, c.SessionTTL, loginOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize GitHub OAuth: %w", err)
	}

	// API tokens
	keyManager, err := c.createKeyManager()
	if err != nil {
		return err
	}
	tokenHandler := auth.NewHandler(keyManager, gh.Resolver, c.BaseURL, c.TokenAudience)
	sessions := auth.NewDualResolver(auth.NewJWTResolver(keyManager, stores, c.BaseURL, c.TokenAudience), gh.Resolver)

	l.Info().
		Str("issuer", c.BaseURL).
		Str("kid", keyManager.Kid()).
		Msg("API token issuer initialized")

	// Access guard
	g := guard.New(sessions, courses)

	policy, err := guard.PolicyByName(c.AdminPolicy, c.AdminEmails)
	if err != nil {
		return err
	}
	if policy.Name() == guard.PolicyAnyAuthenticated {
		l.Warn().Msg("Admin policy is any-authenticated: every signed-in user can open the admin panel")
	}

	mux := http.NewServeMux()

	// Auth routes (public)
	mux.HandleFunc("GET "+guard.SignInPath, gh.SignInHandler)
	mux.HandleFunc("GET /auth/callback/github", gh.CallbackHandler)
	mux.HandleFunc("/auth/signout", gh.SignOutHandler)
	mux.HandleFunc("/auth/token", tokenHandler.TokenHandler())
	mux.HandleFunc("GET /.well-known/openid-configuration", tokenHandler.DiscoveryHandler())
	mux.HandleFunc("GET /.well-known/jwks.json", tokenHandler.JWKSHandler())

	// Pages
	site.New(g, courses, stores.Users, policy).RegisterRoutes(mux)

	// Checkout
	if c.PayPal.ClientID != "" {
		checkout, err := c.createCheckout()
		if err != nil {
			return err
		}
		payments := payment.NewHandlers(checkout, courses, stores.Enrollments, c.BaseURL)
		mux.Handle("POST /api/checkout", g.OptionalSession(http.HandlerFunc(payments.CheckoutHandler)))
		mux.Handle("GET "+payment.SuccessPath, g.OptionalSession(http.HandlerFunc(payments.SuccessHandler)))
		l.Info().Bool("live", c.PayPal.Live).Msg("PayPal checkout enabled")
	} else {
		l.Warn().Msg("PayPal is not configured, checkout is disabled")
	}

	// Metrics sink
	mux.Handle("/api/web-vitals", telemetry.VitalsHandler())

	// Access API with dual auth (bearer token or session cookie)
	accessHandler := server.NewAccessServer(g).Handler(sessions.AuthFunc(), interceptors...)
	mux.Handle("/"+server.AccessServiceName+"/", accessHandler)
	mux.Handle("GET /health", accessHandler)

	l.Info().Str("service", server.AccessServiceName).Msg("Access API registered with dual auth (JWT + session)")

	router, err := newRouter(mux, c.CORSOrigins)
	if err != nil {
		return err
	}

	handler := httpmiddleware.Chain(
		router,
		httpmiddleware.ClientIPMiddleware(),
		httpmiddleware.AccessLog(l),
		httpmiddleware.SecurityHeaders,
	)
	if c.Tracing {
		handler = otelhttp.NewHandler(handler, "academy")
	}

	if c.CleanupInterval > 0 {
		go cleanupSessions(ctx, stores.Sessions, c.CleanupInterval)
	}

	srv := configureHTTPServer(c.Listen, handler)
	errCh := make(chan error, 1)
	go func() {
		if c.Development && (c.Cert == "" || c.Key == "") {
			l.Warn().Str("addr", c.Listen).Msg("Starting plain HTTP server (development)")
			errCh <- srv.ListenAndServe()
			return
		}
		if err := checkTLSFiles(c.Cert, c.Key); err != nil {
			errCh <- err
			return
		}
		l.Info().Str("addr", c.Listen).Msg("Starting HTTPS server")
		errCh <- srv.ListenAndServeTLS(c.Cert, c.Key)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		l.Info().Msg("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// createStores builds the user and enrollment stores for the store type, with sessions in
// redis when a redis URL is configured. The returned func releases connections.
func (c *WebsiteCmd) createStores(ctx context.Context, l zerolog.Logger) (store.Stores, func(), error) {
	var (
		stores  store.Stores
		closers []func()
	)

	switch c.StoreType {
	case "postgres":
		pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
			AutoMigrate:     c.PostgresStore.AutoMigrate,
		})
		if err != nil {
			return store.Stores{}, nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		closers = append(closers, pool.Close)
		stores = postgresstore.NewStores(pool)
		l.Info().Msg("Using PostgreSQL stores")

	default:
		stores = memorystore.NewStores()
		l.Info().Msg("Using in-memory stores")
	}

	if c.RedisStore.URL != "" {
		rdb, err := redisstore.NewClient(ctx, c.RedisStore.URL)
		if err != nil {
			for _, closeFn := range closers {
				closeFn()
			}
			return store.Stores{}, nil, err
		}
		closers = append(closers, func() {
			if err := rdb.Close(); err != nil {
				l.Error().Err(err).Msg("Failed to close redis client")
			}
		})
		stores.Sessions = redisstore.NewSessionStore(rdb)
		l.Info().Msg("Using redis session store")
	}

	return stores, func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}, nil
}

func (c *WebsiteCmd) createKeyManager() (*auth.KeyManager, error) {
	if c.SigningKey == "" {
		log.Warn().Msg("No signing key configured, API tokens will not survive a restart")
		return auth.NewKeyManager()
	}
	return auth.LoadKeyManager(c.SigningKey)
}

func (c *WebsiteCmd) createCheckout() (payment.Checkout, error) {
	cfg := payment.PayPalConfig{
		ClientID:     c.PayPal.ClientID,
		ClientSecret: c.PayPal.ClientSecret,
		BrandName:    c.PayPal.BrandName,
	}
	if c.PayPal.Live {
		cfg.BaseURL = payment.PayPalLiveURL
	}

	pp, err := payment.NewPayPal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PayPal: %w", err)
	}
	return pp, nil
}

// cleanupSessions removes expired sessions every interval until ctx is done.
func cleanupSessions(ctx context.Context, sessions store.SessionStore, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.DeleteExpired(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Failed to delete expired sessions")
				continue
			}
			if n > 0 {
				log.Info().Int("deleted", n).Msg("Deleted expired sessions")
			}
		}
	}
}

func checkTLSFiles(cert, key string) error {
	if _, err := os.Stat(cert); err != nil {
		return fmt.Errorf("TLS certificate not found at %s: %w", cert, err)
	}
	if _, err := os.Stat(key); err != nil {
		return fmt.Errorf("TLS key not found at %s: %w", key, err)
	}
	return nil
}

// newRouter splits traffic between CORS and CSRF handling. Token authenticated API routes
// get CORS only, browser API routes under /api/ get CORS with a CSRF check that trusts the
// CORS origins, and everything else gets a same-origin CSRF check.
func newRouter(mux http.Handler, corsOrigins []string) (http.Handler, error) {
	browserProtection := csrf.New()
	for _, origin := range corsOrigins {
		if origin == "*" {
			continue
		}
		if err := browserProtection.AddTrustedOrigin(origin); err != nil {
			return nil, fmt.Errorf("invalid CORS origin: %w", err)
		}
	}

	apiHandler := withCORS(corsOrigins, mux)
	browserAPIHandler := withCORS(corsOrigins, browserProtection.Handler(mux))
	pageHandler := csrf.New().Handler(mux)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case isAPIRoute(r.URL.Path):
			apiHandler.ServeHTTP(w, r)
		case isBrowserAPIRoute(r.URL.Path):
			browserAPIHandler.ServeHTTP(w, r)
		default:
			pageHandler.ServeHTTP(w, r)
		}
	}), nil
}

// isAPIRoute returns true if the path is an API route that needs CORS instead of CSRF
func isAPIRoute(path string) bool {
	return strings.HasPrefix(path, "/"+server.AccessServiceName+"/") ||
		strings.HasPrefix(path, "/.well-known/") ||
		path == "/auth/token"
}

// isBrowserAPIRoute returns true for cookie authenticated JSON endpoints such as checkout
// and the web vitals sink, which need both CORS and CSRF.
func isBrowserAPIRoute(path string) bool {
	return strings.HasPrefix(path, "/api/")
}

// withCORS adds CORS support to a Connect HTTP handler.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   connectcors.AllowedMethods(),
		AllowedHeaders:   append(connectcors.AllowedHeaders(), "Authorization"),
		ExposedHeaders:   connectcors.ExposedHeaders(),
		AllowCredentials: true, // Required for cookie-based authentication
	})
	return middleware.Handler(h)
}
