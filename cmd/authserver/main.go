package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	auth "github.com/hichchidev/hichchi-sub000"
	"github.com/hichchidev/hichchi-sub000/kafkasink"
	"github.com/hichchidev/hichchi-sub000/metrics"
	"github.com/hichchidev/hichchi-sub000/repository"
	"github.com/hichchidev/hichchi-sub000/social"
	"github.com/hichchidev/hichchi-sub000/social/providers/google"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// serverConfig holds the process settings. Engine settings come from
// auth.LoadConfig.
type serverConfig struct {
	Addr         string        `env:"ADDR" envDefault:":8080"`
	RedisAddr    string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPrefix  string        `env:"REDIS_PREFIX" envDefault:"auth"`
	DatabaseDSN  string        `env:"DATABASE_DSN" envDefault:"file:auth.db?cache=shared"`
	HashidIDs    bool          `env:"HASHID_IDS" envDefault:"false"`
	KafkaBrokers []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string        `env:"KAFKA_TOPIC" envDefault:"auth.events"`
	StateSecret  string        `env:"STATE_SECRET"`
	StateTTL     time.Duration `env:"STATE_TTL" envDefault:"10m"`
	Mailer       string        `env:"MAILER" envDefault:"log"`
	SMTPAddr     string        `env:"SMTP_ADDR"`
	SMTPFrom     string        `env:"SMTP_FROM"`
	SMTPUsername string        `env:"SMTP_USERNAME"`
	SMTPPassword string        `env:"SMTP_PASSWORD"`
	Debug        bool          `env:"DEBUG" envDefault:"false"`
}

// newMailer picks the delivery backend. The log mailer only suits local
// development; token links reach the log at debug level.
func newMailer(cfg serverConfig, logger auth.Logger) (repository.Mailer, error) {
	switch cfg.Mailer {
	case "log":
		return repository.LogMailer{Logger: logger}, nil
	case "smtp":
		return repository.NewSMTPMailer(cfg.SMTPAddr, cfg.SMTPFrom, cfg.SMTPUsername, cfg.SMTPPassword)
	default:
		return nil, fmt.Errorf("unknown mailer %q", cfg.Mailer)
	}
}

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	var srvCfg serverConfig
	if err := env.ParseWithOptions(&srvCfg, env.Options{Prefix: "AUTHSERVER_"}); err != nil {
		return fmt.Errorf("load server config: %w", err)
	}

	level := slog.LevelInfo
	if srvCfg.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	logger := auth.NewSlogLogger(log)

	cfg, err := auth.LoadConfig()
	if err != nil {
		return fmt.Errorf("load auth config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sqldb, err := sql.Open(sqliteshim.ShimName, srvCfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	db := bun.NewDB(sqldb, sqlitedialect.New())
	defer db.Close()

	var userOpts []repository.UsersOption
	if srvCfg.HashidIDs {
		userOpts = append(userOpts, repository.WithHashidIDs())
	}
	users := repository.NewUsers(db, userOpts...)
	accounts := repository.NewSocialAccountRepository(db)
	if err := users.CreateSchema(ctx); err != nil {
		return err
	}
	if err := accounts.CreateSchema(ctx); err != nil {
		return fmt.Errorf("create social accounts table: %w", err)
	}

	redis := goredis.NewClient(&goredis.Options{Addr: srvCfg.RedisAddr})
	defer redis.Close()
	if err := redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	mailer, err := newMailer(srvCfg, logger)
	if err != nil {
		return fmt.Errorf("create mailer: %w", err)
	}
	provider := repository.NewUserProvider(users, mailer, cfg.ClientURL)
	service, err := auth.NewService(provider, auth.NewRedisCache(redis, srvCfg.RedisPrefix), cfg)
	if err != nil {
		return fmt.Errorf("create auth service: %w", err)
	}
	service.WithLogger(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	service.WithListener(metrics.NewCollector(registry))

	if len(srvCfg.KafkaBrokers) > 0 {
		sink, err := kafkasink.New(kafkasink.Config{Brokers: srvCfg.KafkaBrokers, Topic: srvCfg.KafkaTopic},
			kafkasink.WithLogger(logger))
		if err != nil {
			return err
		}
		defer sink.Close()
		service.WithListener(sink)
	}

	guard := auth.NewGuard(service).WithLogger(logger)
	limiter := auth.NewRateLimiter(auth.DefaultRateLimiterConfig(), logger)
	defer limiter.Stop()

	controller := auth.NewController(service, guard,
		auth.WithControllerLogger(logger),
		auth.WithControllerDebug(srvCfg.Debug),
		auth.WithRateLimiter(limiter),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Route("/auth", controller.Mount)

	if cfg.GoogleAuth.Enabled() {
		secret := srvCfg.StateSecret
		if secret == "" {
			secret = cfg.JWT.Secret
		}
		opts := []social.HandlerOption{
			social.WithAccountRepository(accounts),
			social.WithLogger(logger),
		}
		if cfg.AuthMethod == auth.AuthMethodCookie {
			opts = append(opts, social.WithCookieManager(guard.Cookies()))
		}
		handler, err := social.NewHandler(service, social.NewEncryptedStateManager(secret, srvCfg.StateTTL), opts...)
		if err != nil {
			return fmt.Errorf("create social handler: %w", err)
		}
		handler.Register(google.New(google.FromAuthConfig(cfg.GoogleAuth)))
		r.Route("/auth/social", handler.Mount)
	}

	srv := &http.Server{
		Addr:              srvCfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("auth server listening", slog.String("addr", srvCfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("auth server stopped")
	return nil
}
