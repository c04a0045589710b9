package bot

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"telegram-referral-bot/internal/config"
)

// AdminMiddleware rejects senders that are not listed in admin.ids.
func AdminMiddleware(cfg *config.Config) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil {
				return nil
			}

			if !cfg.IsAdmin(sender.ID) {
				command, _ := splitCommand(c.Text())
				log.Warn().
					Int64("user_id", sender.ID).
					Str("command", command).
					Msg("Non-admin attempted admin command")
				return c.Reply("❌ Permission denied: admin only")
			}

			return next(c)
		}
	}
}

// LoggingMiddleware logs the command and its payload for every update.
// Referral starts are logged at info so deep-link traffic is visible
// without debug logging.
func LoggingMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			command, payload := splitCommand(c.Text())

			logEvent := log.Debug()
			if command == "/start" && payload != "" {
				logEvent = log.Info()
			}
			if sender := c.Sender(); sender != nil {
				logEvent = logEvent.Int64("user_id", sender.ID)
			}
			if chat := c.Chat(); chat != nil {
				logEvent = logEvent.Str("chat_type", string(chat.Type))
			}
			logEvent.
				Str("command", command).
				Str("payload", payload).
				Msg("Bot command received")

			return next(c)
		}
	}
}

// RecoveryMiddleware turns a handler panic into an error for OnError,
// after telling the user something went wrong.
func RecoveryMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					command, _ := splitCommand(c.Text())
					log.Error().
						Interface("panic", r).
						Str("command", command).
						Msg("Recovered from panic in handler")
					if replyErr := c.Reply("❌ Internal error, please try again later."); replyErr != nil {
						log.Warn().Err(replyErr).Msg("Failed to reply after panic")
					}
					err = fmt.Errorf("panic in %s handler: %v", command, r)
				}
			}()
			return next(c)
		}
	}
}

// splitCommand splits "/start@MyBot ref42" into "/start" and "ref42".
// Text that is not a command yields an empty command.
func splitCommand(text string) (command, payload string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	head, rest, _ := strings.Cut(text, " ")
	head, _, _ = strings.Cut(head, "@")
	return head, strings.TrimSpace(rest)
}
