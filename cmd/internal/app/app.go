// Package app wires the crmauth server runtime: config, logging, storage,
// the auth gateway, HTTP routes and maintenance jobs.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"crmauth/cmd/identity"
	authapi "crmauth/cmd/internal/auth/api"
	"crmauth/cmd/internal/auth/gateway"
	"crmauth/cmd/internal/auth/policy"
	"crmauth/cmd/internal/auth/revocation"
	"crmauth/cmd/internal/auth/session"
	"crmauth/cmd/internal/auth/tokens"
	"crmauth/cmd/internal/jobs"
	"crmauth/cmd/internal/migrations"
	"crmauth/cmd/internal/obs"
	"crmauth/cmd/security/password"
	"crmauth/cmd/security/token"
)

// Version is stamped at build time with -ldflags "-X crmauth/cmd/internal/app.Version=...".
var Version = "dev"

// App is the crmauth runtime: it owns the HTTP server, the database pool and
// the background jobs.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool
	sqlDB  *sql.DB
	tracer *sdktrace.TracerProvider

	auth *authapi.Handler
	jobs *jobs.Runner
}

// stores groups the persistence backends picked for this process.
type stores struct {
	secrets     tokens.SecretStore
	revocations revocation.Store
	sessions    session.Store
	users       identity.Store
	audit       authapi.Auditor
}

// New constructs a fully wired App from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	obs.Init(Version)

	a := &App{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	if a.tracer, err = newTracerProvider(ctx, cfg.OTelEndpoint, cfg.OTelInsecure); err != nil {
		return nil, err
	}

	st, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	tc, err := cfg.Tokens()
	if err != nil {
		return nil, err
	}
	tokenSvc, err := tokens.NewService(ctx, tc, st.secrets, tokens.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("token service: %w", err)
	}

	revocations := revocation.NewService(st.revocations, tokenSvc, log)

	hasher := token.HasherFromEnv()
	if !hasher.Keyed() {
		log.Warn("auth.session.hash_unkeyed", "hint", "set "+token.HMACEnvKey+" to store keyed session token hashes")
	}
	tracker, err := session.NewTracker(cfg.Session(), st.sessions, hasher, log)
	if err != nil {
		return nil, err
	}

	dir := identity.NewDirectory(st.users, password.DefaultConfig(), log)
	if cfg.DevUsersFile != "" {
		n, err := identity.LoadSeedFile(ctx, dir, cfg.DevUsersFile)
		if err != nil {
			return nil, err
		}
		log.Info("identity.seed.loaded", "file", cfg.DevUsersFile, "created", n)
	}

	rolePolicy, err := newRolePolicy(ctx, cfg)
	if err != nil {
		return nil, err
	}

	gw, err := gateway.New(gateway.Deps{
		Verifier:    directoryVerifier{dir: dir},
		Policy:      rolePolicy,
		Permissions: policy.NewCache(dir, cfg.PermissionCacheTTL),
		Tokens:      tokenSvc,
		Revocations: revocations,
		Sessions:    tracker,
	}, log)
	if err != nil {
		return nil, err
	}

	a.auth, err = authapi.NewHandler(log, gw, tracker, cfg.AuthAPI(), authapi.WithAuditor(st.audit))
	if err != nil {
		return nil, err
	}

	a.jobs = jobs.NewRunner(log, jobs.AuthJobs(cfg.Intervals(), revocations, tracker, tokenSvc)...)
	return a, nil
}

// openStores decides between Postgres-backed persistence and in-memory stores.
func (a *App) openStores(ctx context.Context) (stores, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		return stores{
			secrets:     tokens.NewMemorySecretStore(),
			revocations: revocation.NewMemoryStore(),
			sessions:    session.NewMemoryStore(),
			users:       identity.NewMemoryStore(),
			audit:       authapi.NopAuditor{},
		}, nil
	}

	if a.cfg.AutoMigrate {
		if err := migrations.Run(a.cfg.DatabaseURL, migrations.Up); err != nil {
			return stores{}, err
		}
		a.log.Info("db.migrated")
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return stores{}, err
	}
	a.dbPool = pool
	a.sqlDB = OpenSQL(pool)

	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		return stores{}, err
	}

	a.log.Info("db.enabled.postgres_store")
	return stores{
		secrets:     tokens.NewSQLSecretStore(a.sqlDB),
		revocations: revocation.NewPostgresStore(pool),
		sessions:    session.NewPostgresStore(pool),
		users:       users,
		audit:       authapi.NewPostgresAuditor(pool, a.log),
	}, nil
}

func newRolePolicy(ctx context.Context, cfg Config) (gateway.RolePolicy, error) {
	if cfg.PolicyFile == "" {
		return policy.NewAllowList(cfg.AllowedRoles), nil
	}
	p, err := policy.LoadRegoPolicy(ctx, cfg.PolicyFile, cfg.AllowedRoles)
	if err != nil {
		return nil, fmt.Errorf("role policy: %w", err)
	}
	return p, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.auth)

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	h = obs.Instrument(h, routeLabel)
	return WithRequestLogging(h, a.log)
}

// Run starts the jobs and the HTTP server and blocks until context
// cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	jobsCtx, stopJobs := context.WithCancel(ctx)
	defer stopJobs()
	a.jobs.Start(jobsCtx)

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbPool != nil, "version", Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}

	stopJobs()
	a.jobs.Wait()
	a.close(shutdownCtx)

	a.log.Info("server.stopped")
	return runErr
}

// close releases the tracer, the database handles and the pool, in that order.
func (a *App) close(ctx context.Context) {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.log.Error("otel.shutdown.fail", "err", err)
		}
	}
	if a.sqlDB != nil {
		_ = a.sqlDB.Close()
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
