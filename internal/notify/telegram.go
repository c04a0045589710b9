// Package notify delivers admin alerts about credited referrals.
package notify

import (
	"context"
	"fmt"

	tele "gopkg.in/telebot.v3"

	"telegram-referral-bot/internal/service"
)

// Sender is the subset of *tele.Bot used to deliver messages.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramNotifier posts credited referrals to an admin chat.
type TelegramNotifier struct {
	sender Sender
	chat   tele.ChatID
}

// NewTelegramNotifier creates a notifier that writes to chatID.
func NewTelegramNotifier(sender Sender, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{
		sender: sender,
		chat:   tele.ChatID(chatID),
	}
}

// ReferralCredited sends the notice. telebot has no context support, so
// the send runs aside and ctx only bounds how long the caller waits.
// After ctx expires the send keeps running until telebot's HTTP client
// gives up (one minute by default) and its result is discarded; the
// bot's long-poll requests share that client, so it is not shortened
// to the notify timeout.
func (n *TelegramNotifier) ReferralCredited(ctx context.Context, notice service.CreditNotice) error {
	done := make(chan error, 1)
	go func() {
		_, err := n.sender.Send(n.chat, FormatCredit(notice))
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send referral notice: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("referral notice not delivered: %w", ctx.Err())
	}
}

// FormatCredit renders the admin message for a credited referral.
func FormatCredit(notice service.CreditNotice) string {
	return fmt.Sprintf(
		"New referral credited\n"+
			"Referrer: %s\n"+
			"NewUser: %s\n"+
			"Amount (cents): %d\n"+
			"Referrer balance (cents): %d",
		notice.ReferrerID, notice.NewUserID, notice.BonusCents, notice.BalanceCents,
	)
}
