package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"gatekeep.org/internal/config"
	"gatekeep.org/internal/mail"
	"gatekeep.org/internal/obs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorker()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := obs.NewLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel)

	var sender mail.Sender = mail.NewLogSender(logger)
	if cfg.SMTPHost != "" {
		smtpSender, err := mail.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom)
		if err != nil {
			logger.Error("configure smtp", slog.Any("error", err))
			os.Exit(1)
		}
		sender = smtpSender
	}

	worker := mail.NewWorker(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		cfg.Concurrency,
		mail.NewTaskHandler(sender, logger),
		logger,
	)
	logger.Info("mail worker started", slog.String("redis", cfg.RedisAddr), slog.Int("concurrency", cfg.Concurrency))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("mail worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("mail worker stopped")
}
