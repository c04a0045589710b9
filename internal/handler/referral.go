// Package handler provides Telegram bot command handlers.
package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"telegram-referral-bot/internal/model"
	"telegram-referral-bot/internal/service"
)

const handlerTimeout = 10 * time.Second

// ReferralHandler handles the user-facing referral commands.
type ReferralHandler struct {
	referralService *service.ReferralService
	accountService  *service.AccountService
	startPrefix     string
}

// NewReferralHandler creates a new ReferralHandler.
func NewReferralHandler(referralService *service.ReferralService, accountService *service.AccountService, startPrefix string) *ReferralHandler {
	return &ReferralHandler{
		referralService: referralService,
		accountService:  accountService,
		startPrefix:     startPrefix,
	}
}

// HandleStart handles /start, including deep links of the form
// /start <prefix><referrerId>. The sender is the new user.
func (h *ReferralHandler) HandleStart(c tele.Context) error {
	sender := c.Sender()
	msg := c.Message()
	if sender == nil || msg == nil {
		return nil
	}

	referrerID, ok := ParseReferralPayload(msg.Payload, h.startPrefix)
	if !ok {
		return c.Reply(fmt.Sprintf(
			"👋 Welcome, %s!\n\n"+
				"Share your own link to earn %s per friend who joins:\n"+
				"%s",
			displayName(sender), FormatCents(h.referralService.BonusCents()), h.referralLink(c, sender.ID),
		))
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	res, err := h.referralService.Register(ctx, service.RegisterRequest{
		NewUserID:  strconv.FormatInt(sender.ID, 10),
		ReferrerID: referrerID,
		Profile: model.Profile{
			FirstName: model.StringPtr(sender.FirstName),
			LastName:  model.StringPtr(sender.LastName),
			Username:  model.StringPtr(sender.Username),
		},
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSelfReferral):
			return c.Reply("❌ You cannot use your own referral link.")
		case errors.Is(err, service.ErrMissingUserIDs):
			return c.Reply("❌ Invalid referral link.")
		default:
			return c.Reply("❌ Could not record the referral, please try again later.")
		}
	}

	if res.Credited {
		return c.Reply(fmt.Sprintf(
			"✅ Referral verified, referrer credited.\n"+
				"Referrer balance: %s (refs: %d)",
			FormatCents(res.ReferrerBalanceCents), res.ReferrerReferralCount,
		))
	}
	return c.Reply("ℹ️ Referral recorded earlier (no new credit).")
}

// HandleHelp handles the /help command.
func (h *ReferralHandler) HandleHelp(c tele.Context) error {
	var id int64
	if sender := c.Sender(); sender != nil {
		id = sender.ID
	}
	return c.Reply(fmt.Sprintf(
		"This bot pays %s for every new user who joins through your referral link.\n\n"+
			"Your link: %s\n\n"+
			"Commands:\n"+
			"/balance - your balance and referral count\n"+
			"/withdraw <amount> - request a withdrawal\n"+
			"/help - this message",
		FormatCents(h.referralService.BonusCents()), h.referralLink(c, id),
	))
}

// HandleBalance handles the /balance command.
func (h *ReferralHandler) HandleBalance(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	balance, count, err := h.accountService.Totals(ctx, strconv.FormatInt(sender.ID, 10))
	if err != nil {
		return c.Reply("❌ Failed to get balance, please try again later.")
	}

	return c.Reply(fmt.Sprintf(
		"💰 Balance: %s\n"+
			"👥 Referrals: %d",
		FormatCents(balance), count,
	))
}

// HandleWithdraw handles /withdraw <amount>. The request is only logged
// under a request id; payout happens outside the bot.
func (h *ReferralHandler) HandleWithdraw(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	args := c.Args()
	if len(args) < 1 {
		return c.Reply("❌ Usage: /withdraw <amount>\nExample: /withdraw 1.50")
	}

	amount, err := ParseAmountCents(args[0])
	if err != nil || amount <= 0 {
		return c.Reply("❌ Amount must be a positive number with at most two decimals.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	userID := strconv.FormatInt(sender.ID, 10)
	balance, _, err := h.accountService.Totals(ctx, userID)
	if err != nil {
		return c.Reply("❌ Failed to get balance, please try again later.")
	}
	if amount > balance {
		return c.Reply(fmt.Sprintf("❌ Insufficient balance. Available: %s", FormatCents(balance)))
	}

	requestID := uuid.NewString()
	log.Info().
		Str("request_id", requestID).
		Str("user_id", userID).
		Int64("amount_cents", amount).
		Int64("balance_cents", balance).
		Msg("Withdrawal requested")

	return c.Reply(fmt.Sprintf(
		"📝 Withdrawal request received\n\n"+
			"Amount: %s\n"+
			"Request ID: %s",
		FormatCents(amount), requestID,
	))
}

func (h *ReferralHandler) referralLink(c tele.Context, userID int64) string {
	payload := h.startPrefix + strconv.FormatInt(userID, 10)
	if me := c.Bot().Me; me != nil && me.Username != "" {
		return fmt.Sprintf("https://t.me/%s?start=%s", me.Username, payload)
	}
	return "/start " + payload
}

// ParseReferralPayload extracts the referrer id from a /start payload.
// The payload must be the prefix followed by an id of letters, digits,
// '_' or '-'.
func ParseReferralPayload(payload, prefix string) (string, bool) {
	payload = strings.TrimSpace(payload)
	if prefix == "" || !strings.HasPrefix(payload, prefix) {
		return "", false
	}

	id := payload[len(prefix):]
	if id == "" {
		return "", false
	}
	for _, r := range id {
		if !isPayloadRune(r) {
			return "", false
		}
	}
	return id, true
}

func isPayloadRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
}

// FormatCents renders cents as a USDT amount, e.g. 150 -> "USDT 1.50".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("USDT %s%d.%02d", sign, cents/100, cents%100)
}

// ParseAmountCents parses a decimal amount with at most two fraction
// digits into cents.
func ParseAmountCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" || !isDigits(whole) || (hasFrac && (frac == "" || len(frac) > 2 || !isDigits(frac))) {
		return 0, fmt.Errorf("invalid amount %q", s)
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units > (1<<62)/100 {
		return 0, fmt.Errorf("invalid amount %q", s)
	}

	var cents int64
	if hasFrac {
		if len(frac) == 1 {
			frac += "0"
		}
		cents, _ = strconv.ParseInt(frac, 10, 64)
	}
	return units*100 + cents, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func displayName(u *tele.User) string {
	if u.Username != "" {
		return "@" + u.Username
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return strconv.FormatInt(u.ID, 10)
}
