// Package bot provides the Telegram bot initialization and handler registration.
package bot

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"telegram-referral-bot/internal/config"
	"telegram-referral-bot/internal/handler"
	"telegram-referral-bot/internal/service"
)

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot *tele.Bot
	cfg *config.Config

	referralHandler *handler.ReferralHandler
	adminHandler    *handler.AdminHandler
}

// Dependencies holds all the dependencies needed by the bot handlers.
type Dependencies struct {
	Config          *config.Config
	ReferralService *service.ReferralService
	AccountService  *service.AccountService
}

// New creates a new Bot instance with the given dependencies.
func New(deps *Dependencies) (*Bot, error) {
	if deps.Config.Telegram.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	poller, err := newPoller(&deps.Config.Telegram)
	if err != nil {
		return nil, err
	}

	teleBot, err := tele.NewBot(tele.Settings{
		Token:  deps.Config.Telegram.BotToken,
		Poller: poller,
		OnError: func(err error, c tele.Context) {
			logEvent := log.Error().Err(err)
			if c != nil && c.Sender() != nil {
				logEvent = logEvent.Int64("user_id", c.Sender().ID)
			}
			logEvent.Msg("Bot handler error")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := &Bot{
		bot:             teleBot,
		cfg:             deps.Config,
		referralHandler: handler.NewReferralHandler(deps.ReferralService, deps.AccountService, deps.Config.Referral.StartPrefix),
		adminHandler:    handler.NewAdminHandler(deps.AccountService),
	}

	b.registerMiddleware()
	b.registerHandlers()

	return b, nil
}

// newPoller picks a webhook when a public URL is configured and long
// polling otherwise.
func newPoller(cfg *config.TelegramConfig) (tele.Poller, error) {
	if cfg.WebhookURL == "" {
		return &tele.LongPoller{Timeout: 10 * time.Second}, nil
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("telegram.webhook_secret is required in webhook mode")
	}
	return &tele.Webhook{
		Listen:      cfg.WebhookListen,
		SecretToken: cfg.WebhookSecret,
		Endpoint:    &tele.WebhookEndpoint{PublicURL: cfg.WebhookURL},
	}, nil
}

// registerMiddleware registers all middleware.
func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(LoggingMiddleware())
}

// registerHandlers registers all command handlers.
func (b *Bot) registerHandlers() {
	b.bot.Handle("/start", b.referralHandler.HandleStart)
	b.bot.Handle("/help", b.referralHandler.HandleHelp)
	b.bot.Handle("/balance", b.referralHandler.HandleBalance)
	b.bot.Handle("/withdraw", b.referralHandler.HandleWithdraw)

	adminGroup := b.bot.Group()
	adminGroup.Use(AdminMiddleware(b.cfg))
	adminGroup.Handle("/admin_user", b.adminHandler.HandleAdminUser)
}

// Start starts receiving updates. It blocks until Stop is called.
func (b *Bot) Start() {
	mode := "long_polling"
	if b.cfg.Telegram.WebhookURL != "" {
		mode = "webhook"
	}
	log.Info().
		Str("username", b.bot.Me.Username).
		Str("mode", mode).
		Msg("Starting bot...")
	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
}

// GetBot returns the underlying telebot instance.
func (b *Bot) GetBot() *tele.Bot {
	return b.bot
}
