package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"telegram-referral-bot/internal/repository"
	"telegram-referral-bot/internal/service"
)

// adminReferralPreview caps how many referrals /admin_user lists.
const adminReferralPreview = 10

// AdminHandler handles admin-related commands.
type AdminHandler struct {
	accountService *service.AccountService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(accountService *service.AccountService) *AdminHandler {
	return &AdminHandler{accountService: accountService}
}

// HandleAdminUser handles the /admin_user command.
// Format: /admin_user <user_id>
func (h *AdminHandler) HandleAdminUser(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	args := c.Args()
	if len(args) < 1 || strings.TrimSpace(args[0]) == "" {
		return c.Reply("❌ Usage: /admin_user <user_id>\nExample: /admin_user 123456789")
	}
	targetID := strings.TrimSpace(args[0])

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	detail, err := h.accountService.GetUserDetail(ctx, targetID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return c.Reply("❌ User not found")
		}
		log.Error().Err(err).Str("target_id", targetID).Msg("Admin user lookup failed")
		return c.Reply("❌ Lookup failed, please try again later.")
	}

	log.Info().
		Int64("admin_id", sender.ID).
		Str("target_id", targetID).
		Str("operation", "admin_user").
		Msg("Admin operation executed")

	return c.Reply(FormatUserDetail(detail))
}

// FormatUserDetail renders a user and their most recent referrals.
func FormatUserDetail(detail *service.UserDetail) string {
	u := detail.User

	var sb strings.Builder
	sb.WriteString("👤 User " + u.ID + "\n")
	sb.WriteString("━━━━━━━━━━━━━━━\n")
	if u.Username != nil {
		sb.WriteString("Username: @" + *u.Username + "\n")
	}
	if name := strings.TrimSpace(deref(u.FirstName) + " " + deref(u.LastName)); name != "" {
		sb.WriteString("Name: " + name + "\n")
	}
	sb.WriteString(fmt.Sprintf("Balance: %s\n", FormatCents(u.BalanceCents)))
	sb.WriteString(fmt.Sprintf("Referrals: %d\n", u.ReferralCount))
	sb.WriteString(fmt.Sprintf("Joined: %s\n", u.CreatedAt.Format("2006-01-02 15:04")))

	if len(detail.Referrals) > 0 {
		sb.WriteString("━━━━━━━━━━━━━━━\n")
		sb.WriteString("Recent referrals:\n")
		for i, ev := range detail.Referrals {
			if i == adminReferralPreview {
				sb.WriteString(fmt.Sprintf("… and %d more\n", len(detail.Referrals)-adminReferralPreview))
				break
			}
			sb.WriteString(fmt.Sprintf("• %s (%s)\n", ev.NewUserID, ev.CreatedAt.Format("2006-01-02")))
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
