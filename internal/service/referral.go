// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"telegram-referral-bot/internal/model"
	"telegram-referral-bot/internal/pkg/fingerprint"
	"telegram-referral-bot/internal/pkg/initdata"
)

// Registration errors. Validation and auth errors are returned before
// storage is touched; ErrStorage means the ledger rolled back.
var (
	ErrMissingUserIDs  = errors.New("missing newUserId or referrerId")
	ErrSelfReferral    = errors.New("self-referral is not allowed")
	ErrInitDataInvalid = errors.New("initData verification failed")
	ErrStorage         = errors.New("storage error")
)

const defaultNotifyTimeout = 5 * time.Second

// Ledger records referral events and credits referrers atomically.
type Ledger interface {
	RegisterReferral(ctx context.Context, in model.ReferralCredit) (*model.CreditResult, error)
}

// Notifier delivers best-effort alerts about credited referrals.
type Notifier interface {
	ReferralCredited(ctx context.Context, notice CreditNotice) error
}

// CreditNotice describes a credited referral for notifications.
type CreditNotice struct {
	ReferrerID   string
	NewUserID    string
	BonusCents   int64
	BalanceCents int64
}

// RegisterRequest is one inbound referral registration.
type RegisterRequest struct {
	NewUserID  string
	ReferrerID string
	Profile    model.Profile
	// InitData is the raw signed payload, empty when the caller has none.
	InitData string
}

// RegisterResult is what the caller gets back on every success path.
type RegisterResult struct {
	Credited              bool
	ReferrerBalanceCents  int64
	ReferrerReferralCount int64
}

// ReferralService orchestrates referral registration:
// validate, verify, fingerprint, then one ledger transaction.
type ReferralService struct {
	ledger        Ledger
	notifier      Notifier
	secret        string
	bonusCents    int64
	notifyTimeout time.Duration
}

// NewReferralService creates a new ReferralService instance.
// secret is the initData signing secret; empty disables verification.
// notifier may be nil.
func NewReferralService(
	ledger Ledger,
	notifier Notifier,
	secret string,
	bonusCents int64,
	notifyTimeout time.Duration,
) *ReferralService {
	if notifyTimeout <= 0 {
		notifyTimeout = defaultNotifyTimeout
	}
	return &ReferralService{
		ledger:        ledger,
		notifier:      notifier,
		secret:        secret,
		bonusCents:    bonusCents,
		notifyTimeout: notifyTimeout,
	}
}

// SetNotifier attaches a notifier. It must be called before Register
// is used concurrently; nil disables notifications.
func (s *ReferralService) SetNotifier(notifier Notifier) {
	s.notifier = notifier
}

// BonusCents returns the amount credited per referral.
func (s *ReferralService) BonusCents() int64 {
	return s.bonusCents
}

// Register credits the referrer for a new user exactly once.
// A repeated registration succeeds with Credited=false and the referrer's
// current totals, so callers can retry with the same payload safely.
// Register never retries on its own.
func (s *ReferralService) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	newUserID := strings.TrimSpace(req.NewUserID)
	referrerID := strings.TrimSpace(req.ReferrerID)

	if newUserID == "" || referrerID == "" {
		return nil, ErrMissingUserIDs
	}
	if newUserID == referrerID {
		return nil, ErrSelfReferral
	}

	if req.InitData != "" && !initdata.Verify(req.InitData, s.secret) {
		log.Warn().
			Str("new_user_id", newUserID).
			Str("referrer_id", referrerID).
			Msg("Rejected referral with invalid initData")
		return nil, ErrInitDataInvalid
	}

	res, err := s.ledger.RegisterReferral(ctx, model.ReferralCredit{
		ReferrerID:  referrerID,
		NewUserID:   newUserID,
		Fingerprint: fingerprint.Of(newUserID, referrerID, req.InitData),
		BonusCents:  s.bonusCents,
		Profile:     req.Profile,
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("new_user_id", newUserID).
			Str("referrer_id", referrerID).
			Msg("Referral transaction failed")
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	log.Info().
		Str("new_user_id", newUserID).
		Str("referrer_id", referrerID).
		Str("outcome", res.Outcome.String()).
		Int64("balance_cents", res.ReferrerBalanceCents).
		Int64("referral_count", res.ReferrerReferralCount).
		Msg("Referral registered")

	if res.Credited() {
		s.notifyCredited(CreditNotice{
			ReferrerID:   referrerID,
			NewUserID:    newUserID,
			BonusCents:   s.bonusCents,
			BalanceCents: res.ReferrerBalanceCents,
		})
	}

	return &RegisterResult{
		Credited:              res.Credited(),
		ReferrerBalanceCents:  res.ReferrerBalanceCents,
		ReferrerReferralCount: res.ReferrerReferralCount,
	}, nil
}

// notifyCredited sends the notice in the background. The credit is
// already committed; a failed or slow notification only gets logged.
func (s *ReferralService) notifyCredited(notice CreditNotice) {
	if s.notifier == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()

		if err := s.notifier.ReferralCredited(ctx, notice); err != nil {
			log.Warn().
				Err(err).
				Str("referrer_id", notice.ReferrerID).
				Str("new_user_id", notice.NewUserID).
				Msg("Referral notification failed")
		}
	}()
}
