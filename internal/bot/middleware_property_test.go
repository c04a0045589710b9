package bot

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"
	"pgregory.net/rapid"

	"telegram-referral-bot/internal/config"
)

// TestAdminPermissionCheckProperty: a user is an admin iff their id is listed.
func TestAdminPermissionCheckProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		adminIDs := rapid.SliceOfN(rapid.Int64Range(1, 1000000000), 0, 10).Draw(t, "adminIDs")
		cfg := &config.Config{Admin: config.AdminConfig{IDs: adminIDs}}

		userID := rapid.Int64Range(1, 1000000000).Draw(t, "userID")

		expected := false
		for _, id := range adminIDs {
			if id == userID {
				expected = true
				break
			}
		}

		if got := cfg.IsAdmin(userID); got != expected {
			t.Fatalf("Admin check mismatch: userID=%d, adminIDs=%v, expected=%v, got=%v",
				userID, adminIDs, expected, got)
		}

		if len(adminIDs) > 0 {
			known := adminIDs[rapid.IntRange(0, len(adminIDs)-1).Draw(t, "adminIndex")]
			if !cfg.IsAdmin(known) {
				t.Fatalf("Known admin ID %d should be recognized, adminIDs=%v", known, adminIDs)
			}
		}
	})
}

func newOfflineContext(t *testing.T, sender *tele.User, text string) tele.Context {
	t.Helper()
	b, err := tele.NewBot(tele.Settings{Offline: true})
	require.NoError(t, err)
	return b.NewContext(tele.Update{
		Message: &tele.Message{
			Sender: sender,
			Chat:   &tele.Chat{ID: 42, Type: tele.ChatPrivate},
			Text:   text,
		},
	})
}

func TestAdminMiddleware_PassesAdmins(t *testing.T) {
	cfg := &config.Config{Admin: config.AdminConfig{IDs: []int64{7}}}

	called := false
	h := AdminMiddleware(cfg)(func(tele.Context) error {
		called = true
		return nil
	})

	require.NoError(t, h(newOfflineContext(t, &tele.User{ID: 7}, "/admin_user 1")))
	assert.True(t, called)
}

func TestAdminMiddleware_IgnoresMissingSender(t *testing.T) {
	cfg := &config.Config{Admin: config.AdminConfig{IDs: []int64{7}}}

	called := false
	h := AdminMiddleware(cfg)(func(tele.Context) error {
		called = true
		return nil
	})

	require.NoError(t, h(newOfflineContext(t, nil, "/admin_user 1")))
	assert.False(t, called)
}

// replyRecorder captures replies instead of calling the Bot API.
type replyRecorder struct {
	tele.Context
	replies []string
}

func (r *replyRecorder) Reply(what interface{}, _ ...interface{}) error {
	r.replies = append(r.replies, fmt.Sprint(what))
	return nil
}

func TestAdminMiddleware_RejectsNonAdmins(t *testing.T) {
	cfg := &config.Config{Admin: config.AdminConfig{IDs: []int64{7}}}

	called := false
	h := AdminMiddleware(cfg)(func(tele.Context) error {
		called = true
		return nil
	})

	c := &replyRecorder{Context: newOfflineContext(t, &tele.User{ID: 8}, "/admin_user 1")}
	require.NoError(t, h(c))
	assert.False(t, called)
	assert.Equal(t, []string{"❌ Permission denied: admin only"}, c.replies)
}

func TestRecoveryMiddleware_ReportsPanic(t *testing.T) {
	h := RecoveryMiddleware()(func(tele.Context) error {
		panic("nil ledger")
	})

	c := &replyRecorder{Context: newOfflineContext(t, &tele.User{ID: 1}, "/balance")}
	err := h(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/balance")
	assert.Contains(t, err.Error(), "nil ledger")
	assert.Equal(t, []string{"❌ Internal error, please try again later."}, c.replies)
}

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		text, command, payload string
	}{
		{"/start ref42", "/start", "ref42"},
		{"/start@ReferralBot ref42", "/start", "ref42"},
		{"/help", "/help", ""},
		{"  /withdraw   1.50 ", "/withdraw", "1.50"},
		{"hello", "", ""},
		{"", "", ""},
	}
	for _, tc := range cases {
		command, payload := splitCommand(tc.text)
		assert.Equal(t, tc.command, command, tc.text)
		assert.Equal(t, tc.payload, payload, tc.text)
	}
}

func TestLoggingAndRecoveryPassThrough(t *testing.T) {
	sentinel := errors.New("handler result")
	h := RecoveryMiddleware()(LoggingMiddleware()(func(tele.Context) error {
		return sentinel
	}))

	err := h(newOfflineContext(t, &tele.User{ID: 1, Username: "ann"}, "/help"))
	assert.ErrorIs(t, err, sentinel)
}

func TestNewPoller(t *testing.T) {
	p, err := newPoller(&config.TelegramConfig{})
	require.NoError(t, err)
	assert.IsType(t, &tele.LongPoller{}, p)

	_, err = newPoller(&config.TelegramConfig{WebhookURL: "https://example.com/hook"})
	assert.Error(t, err, "webhook mode needs a secret token")

	p, err = newPoller(&config.TelegramConfig{
		WebhookURL:    "https://example.com/hook",
		WebhookListen: ":8443",
		WebhookSecret: "s3cret",
	})
	require.NoError(t, err)
	wh, ok := p.(*tele.Webhook)
	require.True(t, ok)
	assert.Equal(t, ":8443", wh.Listen)
	assert.Equal(t, "s3cret", wh.SecretToken)
	assert.Equal(t, "https://example.com/hook", wh.Endpoint.PublicURL)
}
