package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/digkill/imagestudio/internal/admin"
	"github.com/digkill/imagestudio/internal/api"
	"github.com/digkill/imagestudio/internal/config"
	"github.com/digkill/imagestudio/internal/database"
	"github.com/digkill/imagestudio/internal/ratelimit"
	"github.com/digkill/imagestudio/internal/repository"
	"github.com/digkill/imagestudio/internal/service"
	"github.com/digkill/imagestudio/internal/storage"
	"github.com/digkill/imagestudio/internal/telegram"
	"github.com/digkill/imagestudio/internal/wavespeed"
	"github.com/digkill/imagestudio/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	uploader, err := storage.NewUploader(storage.ConfigFrom(cfg))
	if err != nil {
		log.Fatalf("storage uploader: %v", err)
	}

	accountRepo := repository.NewAccountRepository(db)
	generationRepo := repository.NewGenerationRepository(db)
	packageRepo := repository.NewPackageRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	promptRepo := repository.NewPromptRepository(db)

	// notifier stays a nil interface when Telegram is not configured.
	var notifier service.Notifier
	if cfg.TelegramBotToken != "" && cfg.TelegramAdminChat != 0 {
		tg, err := telegram.NewBotNotifier(cfg.TelegramBotToken, cfg.TelegramAdminChat, logr)
		if err != nil {
			log.Fatalf("telegram notifier: %v", err)
		}
		go func() {
			if err := tg.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logr.Error("telegram notifier stopped", "err", err)
			}
		}()
		notifier = tg
	}

	accessService := service.NewAccessService(accountRepo, cfg.Pricing, logr)
	accountService := service.NewAccountService(accountRepo, accessService, cfg.Pricing)
	packageService := service.NewPackageService(packageRepo)
	promptService := service.NewPromptService(promptRepo, logr)
	generationService := service.NewGenerationService(cfg, logr, accessService, promptService, wavespeed.NewClient(cfg, logr), uploader, generationRepo, notifier)
	paymentService := service.NewPaymentService(cfg, logr, paymentRepo, packageService, accessService, notifier)

	var limiter ratelimit.Limiter = ratelimit.NewMemory(cfg.RateLimitPerMinute, time.Minute)
	if cfg.RedisURL != "" {
		client, err := ratelimit.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connect: %v", err)
		}
		defer client.Close()
		limiter = ratelimit.NewRedis(client, cfg.RateLimitPerMinute, time.Minute)
	}

	adminServer := admin.NewServer(cfg.AdminUsername, cfg.AdminPassword, logr, accountService, packageService, promptService)

	server := api.NewServer(cfg, logr, api.Deps{
		Accounts:    accountService,
		Access:      accessService,
		Generations: generationService,
		Payments:    paymentService,
		Packages:    packageService,
		Limiter:     limiter,
		Admin:       adminServer,
	})
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("http server stopped", "err", err)
	}
}
