package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"gatekeep.org/internal/audit"
	"gatekeep.org/internal/auth"
	"gatekeep.org/internal/config"
	"gatekeep.org/internal/httpapi"
	"gatekeep.org/internal/mail"
	"gatekeep.org/internal/obs"
	"gatekeep.org/internal/ratelimit"
	"gatekeep.org/internal/store/memory"
	"gatekeep.org/internal/store/pg"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := obs.NewLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("gatekeep-api stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	metrics := obs.NewMetrics()
	metrics.SetBuildInfo(cfg.Version, cfg.Commit)

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis ping", slog.Any("error", err))
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	mailer, closeMailer := newMailer(cfg, logger)
	defer closeMailer()

	hasher, err := auth.NewHasher(auth.WithAlgorithm(cfg.PasswordAlgorithm), auth.WithBcryptCost(cfg.BcryptCost))
	if err != nil {
		return err
	}
	codec, err := auth.NewTokenCodec(cfg.TokenSecret, auth.WithCodecIssuer(cfg.Issuer))
	if err != nil {
		return err
	}

	opts := []auth.Option{
		auth.WithHasher(hasher),
		auth.WithMailer(mailer),
		auth.WithRecorder(metrics),
		auth.WithLogger(logger),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithOTP(cfg.OTPTTL, cfg.OTPDigits),
		auth.WithDefaultRole(cfg.DefaultRole),
		auth.WithRequireActiveLogin(cfg.RequireActive),
		auth.WithRolePrecedence(cfg.RolePrecedence),
	}
	if redisClient != nil && cfg.OTPRateLimit > 0 {
		limiter, err := ratelimit.NewFixedWindow(redisClient, cfg.OTPRateLimit, cfg.OTPRateWindow)
		if err != nil {
			return err
		}
		opts = append(opts, auth.WithLimiter(limiter))
	}

	service, err := auth.NewService(store, codec, opts...)
	if err != nil {
		return err
	}
	workflows, err := auth.NewWorkflows(store, opts...)
	if err != nil {
		return err
	}
	authorizer, err := auth.NewAuthorizer(store, codec, opts...)
	if err != nil {
		return err
	}

	if err := service.EnsureBuiltins(ctx); err != nil {
		return fmt.Errorf("seed roles and permissions: %w", err)
	}
	if cfg.AdminEmail != "" {
		if err := service.BootstrapAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		logger.Info("admin account ensured", slog.String("email", auth.NormalizeEmail(cfg.AdminEmail)))
	}

	ready := httpapi.ReadyProbe{Store: store}
	api, err := httpapi.New(httpapi.Options{
		Service:        service,
		Workflows:      workflows,
		Authorizer:     authorizer,
		Ready:          ready,
		Metrics:        metrics,
		Audit:          audit.New(logger),
		Logger:         logger,
		Version:        cfg.Version,
		Commit:         cfg.Commit,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimitRPS:   cfg.HTTPRateLimitRPS,
		RateLimitBurst: cfg.HTTPRateLimitBurst,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		RequestTimeout: cfg.AppRequestTimeout,
		Production:     cfg.IsProduction(),
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: cfg.AppReadTimeout,
		WriteTimeout:      cfg.AppWriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		httpapi.UnaryLogging(logger),
		httpapi.UnaryAuthn(authorizer, logger),
	))
	httpapi.NewGRPCServer(ready, logger).Register(grpcServer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", slog.String("addr", cfg.AppAddr), slog.String("version", cfg.Version))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		logger.Info("grpc listening", slog.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore picks PostgreSQL when PG_DSN is set and the in-memory store
// otherwise.
func openStore(cfg *config.Config, logger *slog.Logger) (auth.Store, func(), error) {
	if cfg.PGDSN == "" {
		logger.Warn("PG_DSN not set, using in-memory store")
		return memory.New(), func() {}, nil
	}
	store, err := pg.Open(cfg.PGDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Warn("postgres close", slog.Any("error", err))
		}
	}, nil
}

func newMailer(cfg *config.Config, logger *slog.Logger) (auth.Mailer, func()) {
	if cfg.MailMode != config.MailModeQueue {
		return mail.NewSenderMailer(mail.NewLogSender(logger)), func() {}
	}
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	return mail.NewQueueMailer(client), func() {
		if err := client.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}
}
