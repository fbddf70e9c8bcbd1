// Package app wires the storefront server runtime: config, logging, pools,
// session services and HTTP routes.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"storefront/cmd/identity"
	"storefront/cmd/internal/auth/access"
	authapi "storefront/cmd/internal/auth/api"
	"storefront/cmd/internal/auth/session"
	"storefront/cmd/internal/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// resources owns the external connections. Stores built on top of them never
// close them.
type resources struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

func (r resources) Close(_ context.Context) error {
	var err error
	if r.redis != nil {
		err = r.redis.Close()
	}
	if r.pool != nil {
		r.pool.Close()
	}
	return err
}

// expiredDeleter is implemented by stores that need explicit housekeeping.
type expiredDeleter interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
}

// App is the storefront server runtime.
type App struct {
	cfg Config
	log Logger

	res     resources
	metrics *metrics.Collectors
	auth    *authapi.Handler
	sweeper expiredDeleter
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	res, err := openResources(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := wire(cfg, log, res)
	if err != nil {
		_ = res.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func openResources(ctx context.Context, cfg Config, log Logger) (resources, error) {
	var res resources

	if cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return resources{}, fmt.Errorf("postgres: %w", err)
		}
		res.pool = pool
		log.Info("db.enabled", "session_backend", cfg.SessionBackend)
	} else {
		log.Info("db.disabled.inmemory_users")
	}

	if cfg.RedisAddr != "" {
		rdb, err := NewRedisClient(ctx, cfg)
		if err != nil {
			_ = res.Close(ctx)
			return resources{}, fmt.Errorf("redis: %w", err)
		}
		res.redis = rdb
		log.Info("redis.enabled", "addr", cfg.RedisAddr)
	}

	return res, nil
}

// wire builds the service graph on top of already opened resources.
func wire(cfg Config, log Logger, res resources) (*App, error) {
	users, err := newUserStore(res)
	if err != nil {
		return nil, err
	}

	hasher := cfg.Password

	lockout, err := newLockout(cfg, res)
	if err != nil {
		return nil, err
	}

	verifier, err := identity.NewVerifier(users, hasher, lockout, log)
	if err != nil {
		return nil, err
	}

	store, err := newSessionStore(cfg, res)
	if err != nil {
		return nil, err
	}

	accCfg, err := accessConfig(cfg, log)
	if err != nil {
		return nil, err
	}
	issuer, err := access.New(accCfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	rotator, err := session.NewRotator(
		cfg.SessionConfig(),
		session.NewRegistry(store, hasher),
		users,
		issuer,
		session.SystemClock,
		session.WithLogger(log),
		session.WithObserver(m),
	)
	if err != nil {
		return nil, err
	}

	apiCfg, err := cfg.APIConfig()
	if err != nil {
		return nil, err
	}

	opts := []authapi.HandlerOption{authapi.WithSigninObserver(m)}
	if res.pool != nil {
		auditor, err := authapi.NewPostgresAuditor(res.pool, log)
		if err != nil {
			return nil, err
		}
		opts = append(opts, authapi.WithAuditor(auditor), authapi.WithSigninThrottle(auditor))
	}

	auth, err := authapi.NewHandler(log, apiCfg, authapi.Deps{
		Users:    users,
		Verifier: verifier,
		Rotator:  rotator,
		Issuer:   issuer,
	}, opts...)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		log:     log,
		res:     res,
		metrics: m,
		auth:    auth,
	}
	if d, ok := store.(expiredDeleter); ok {
		a.sweeper = d
	}
	return a, nil
}

func newUserStore(res resources) (identity.UserStore, error) {
	if res.pool == nil {
		return identity.NewMemoryStore(), nil
	}
	st, err := identity.NewPostgresStore(res.pool)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func newLockout(cfg Config, res resources) (identity.Lockout, error) {
	switch cfg.LockoutBackend {
	case BackendRedis:
		if res.redis == nil {
			return nil, errors.New("lockout: redis backend selected but redis is not configured")
		}
		hash, err := lockoutKeyHasher(cfg)
		if err != nil {
			return nil, err
		}
		return identity.NewRedisLockout(res.redis, cfg.LockoutConfig(), hash), nil
	default:
		return identity.NewMemoryLockout(cfg.LockoutConfig(), nil), nil
	}
}

func newSessionStore(cfg Config, res resources) (session.Store, error) {
	switch cfg.SessionBackend {
	case BackendPostgres:
		if res.pool == nil {
			return nil, errors.New("session: postgres backend selected but database is not configured")
		}
		st, err := session.NewPostgresStore(res.pool)
		if err != nil {
			return nil, err
		}
		return st, nil
	case BackendRedis:
		if res.redis == nil {
			return nil, errors.New("session: redis backend selected but redis is not configured")
		}
		return session.NewRedisStore(res.redis, cfg.RedisPrefix+":sess"), nil
	default:
		return session.NewMemoryStore(), nil
	}
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.res, a.auth, a.metrics)

	return WithRequestID(WithSecurityHeaders(WithRequestLogging(mux, a.log, a.metrics)))
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
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

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"env", a.cfg.Env,
		"session_backend", a.cfg.SessionBackend,
		"lockout_backend", a.cfg.LockoutBackend,
		"access_token_format", a.cfg.AccessTokenFormat,
	)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	if a.sweeper != nil && a.cfg.SweepInterval > 0 {
		go a.sweep(sweepCtx, a.cfg.SweepInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		stopSweep()
		_ = a.res.Close(context.Background())
		return err
	}
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.res.Close(shutdownCtx); err != nil {
		a.log.Error("resources.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

// sweep deletes records past their absolute deadline. Expiry is decided at
// read time, so a missed sweep only costs storage.
func (a *App) sweep(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := a.sweeper.DeleteExpired(ctx, time.Now().UTC())
			if err != nil {
				a.log.Warn("session.sweep.fail", "err", err)
				continue
			}
			if n > 0 {
				a.log.Info("session.sweep", "deleted", n)
			}
		}
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
