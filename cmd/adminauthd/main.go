// Command adminauthd serves the admin login API and gates the dashboard
// pages in front of the frontend.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/portfolio/adminauth"
	"github.com/portfolio/adminauth/httpapi"
	"github.com/portfolio/adminauth/internal/attempts"
	"github.com/portfolio/adminauth/internal/config"
	"github.com/portfolio/adminauth/internal/dbx"
	"github.com/portfolio/adminauth/internal/mail"
	"github.com/portfolio/adminauth/internal/migrations"
	"github.com/portfolio/adminauth/internal/sweeper"
	"github.com/portfolio/adminauth/internal/throttle"
	"github.com/portfolio/adminauth/internal/users"
	"github.com/portfolio/adminauth/metrics/export/prometheus"
	"github.com/portfolio/adminauth/middleware"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, fromFile, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if fromFile {
		logger.Info("loaded .env file")
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("adminauthd stopped", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(cfg config.AppConfig) (*zap.Logger, error) {
	if cfg.Development() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg config.AppConfig, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting adminauthd", zap.String("env", cfg.Env), zap.String("addr", cfg.HTTPAddr))

	db, err := dbx.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrations.Up(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("database ready")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("redis ready")

	builder := adminauth.New().
		WithConfig(cfg.Auth).
		WithRedis(rdb).
		WithUserProvider(users.NewPostgresRepository(db)).
		WithLogger(logger.Named("auth"))

	var tasks []sweeper.Task
	if cfg.AttemptLog == config.AttemptLogPostgres {
		attemptLog := attempts.NewPostgresLog(db)
		builder.WithAttemptLog(attemptLog)
		tasks = append(tasks, sweeper.Task{
			Name: "login_attempts",
			Run: func(ctx context.Context) (int64, error) {
				return attemptLog.Purge(ctx, time.Now().Add(-cfg.AttemptRetention))
			},
		})
	}

	if cfg.SMTP != nil {
		m, err := mail.New(*cfg.SMTP)
		if err != nil {
			return fmt.Errorf("mailer: %w", err)
		}
		builder.WithMailer(m)
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	tasks = append(tasks, sweeper.Task{
		Name: "sessions",
		Run: func(ctx context.Context) (int64, error) {
			n, err := engine.SweepExpiredSessions(ctx)
			return int64(n), err
		},
	})
	sw := sweeper.New(cfg.SweepInterval, time.Minute, logger.Named("sweeper"), tasks...)
	sw.Start(ctx)
	defer sw.Stop()

	router, err := newRouter(cfg, engine, rdb, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forced shutdown", zap.Error(err))
	}
	return nil
}

func newRouter(cfg config.AppConfig, engine *adminauth.Engine, rdb redis.UniversalClient, logger *zap.Logger) (http.Handler, error) {
	trusted, err := httpapi.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(httpapi.RealIP(trusted))
	r.Use(httpapi.RequestLogger(logger.Named("http")))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := engine.Ping(r.Context()); err != nil {
			httpapi.Error(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
		httpapi.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if cfg.Auth.Metrics.Enabled {
		r.Handle("/metrics", prometheus.NewExporter(engine).Handler())
	}

	limiter := throttle.New(rdb, cfg.Auth.Session.RedisPrefix+":thr", cfg.ThrottleLimit, cfg.ThrottleWindow)
	api := httpapi.NewHandler(engine,
		httpapi.WithThrottle(limiter),
		httpapi.WithLogger(logger.Named("api")),
	)
	r.Mount("/api/auth", api.Routes())

	r.With(middleware.RequireSession(engine, logger.Named("guard"))).
		Get("/api/admin/me", func(w http.ResponseWriter, r *http.Request) {
			s, _ := middleware.SessionFromContext(r.Context())
			httpapi.JSON(w, http.StatusOK, map[string]any{
				"userId":    s.UserID(),
				"expiresAt": s.ExpiresAt(),
			})
		})

	pages, err := pageHandler(cfg.FrontendURL)
	if err != nil {
		return nil, err
	}
	gate := middleware.Gatekeeper(engine)
	login := cfg.Auth.Routes.Login
	r.With(gate).Handle(login, pages)
	r.With(gate).Handle(login+"/*", pages)

	return r, nil
}

// pageHandler proxies dashboard pages to the frontend. Without one, gated
// requests that are allowed through get 404.
func pageHandler(frontend string) (http.Handler, error) {
	if frontend == "" {
		return http.NotFoundHandler(), nil
	}
	u, err := url.Parse(frontend)
	if err != nil {
		return nil, fmt.Errorf("frontend url: %w", err)
	}
	return httputil.NewSingleHostReverseProxy(u), nil
}
