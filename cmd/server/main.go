// Package main is the entry point for the referral bot: HTTP API plus
// an optional Telegram bot sharing one ledger.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"telegram-referral-bot/internal/api"
	"telegram-referral-bot/internal/bot"
	"telegram-referral-bot/internal/config"
	"telegram-referral-bot/internal/notify"
	"telegram-referral-bot/internal/pkg/db"
	"telegram-referral-bot/internal/repository"
	"telegram-referral-bot/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogger(&cfg.Log)

	log.Info().
		Int64("bonus_cents", cfg.Referral.BonusCents).
		Bool("verification", cfg.VerificationEnabled()).
		Bool("bot", cfg.BotEnabled()).
		Bool("notifications", cfg.NotificationsEnabled()).
		Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := db.Migrate(ctx, dbPool.Pool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	userRepo := repository.NewUserRepository(dbPool.Pool)
	referralRepo := repository.NewReferralRepository(dbPool.Pool)

	accountService := service.NewAccountService(userRepo, referralRepo)

	// The notifier reuses the bot client, so it is attached once the bot exists.
	var (
		telegramBot *bot.Bot
		notifier    service.Notifier
	)
	referralService := service.NewReferralService(
		referralRepo,
		nil,
		cfg.Telegram.BotToken,
		cfg.Referral.BonusCents,
		cfg.Telegram.NotifyTimeout,
	)
	if cfg.BotEnabled() {
		telegramBot, err = bot.New(&bot.Dependencies{
			Config:          cfg,
			ReferralService: referralService,
			AccountService:  accountService,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create bot")
		}
		if cfg.NotificationsEnabled() {
			notifier = notify.NewTelegramNotifier(telegramBot.GetBot(), cfg.Telegram.AdminChatID)
		}
	}
	referralService.SetNotifier(notifier)

	server := api.NewServer(cfg.Server, cfg.API.Key, referralService, accountService, dbPool)

	var wg sync.WaitGroup

	if telegramBot != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			telegramBot.Start()
		}()
	}

	if err := server.Run(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server failed")
		stop()
	}

	if telegramBot != nil {
		telegramBot.Stop()
	}
	wg.Wait()
	log.Info().Msg("Shutdown complete")
}

// setupLogger applies the configured level and output format.
func setupLogger(cfg *config.LogConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
