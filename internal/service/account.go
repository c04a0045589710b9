package service

import (
	"context"
	"errors"
	"fmt"

	"telegram-referral-bot/internal/model"
	"telegram-referral-bot/internal/repository"
)

// Listing limits for admin views.
const (
	DefaultListLimit = 500
	MaxListLimit     = 1000
)

// UserReader reads user rows.
type UserReader interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	List(ctx context.Context, limit int) ([]*model.User, error)
}

// ReferralReader reads referral events.
type ReferralReader interface {
	ListByReferrer(ctx context.Context, referrerID string, limit int) ([]*model.ReferralEvent, error)
}

// UserDetail is a user together with the referrals they made.
type UserDetail struct {
	User      *model.User
	Referrals []*model.ReferralEvent
}

// AccountService handles read-only account operations.
type AccountService struct {
	users     UserReader
	referrals ReferralReader
}

// NewAccountService creates a new AccountService instance.
func NewAccountService(users UserReader, referrals ReferralReader) *AccountService {
	return &AccountService{
		users:     users,
		referrals: referrals,
	}
}

// GetUser retrieves a user by id.
// Returns repository.ErrUserNotFound if the user does not exist.
func (s *AccountService) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.users.GetByID(ctx, id)
}

// GetUserDetail retrieves a user and their most recent referrals.
func (s *AccountService) GetUserDetail(ctx context.Context, id string) (*UserDetail, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	referrals, err := s.referrals.ListByReferrer(ctx, id, DefaultListLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to get referrals: %w", err)
	}

	return &UserDetail{User: user, Referrals: referrals}, nil
}

// ListUsers retrieves users newest first. A non-positive limit means the
// default; larger limits are capped.
func (s *AccountService) ListUsers(ctx context.Context, limit int) ([]*model.User, error) {
	return s.users.List(ctx, ClampLimit(limit))
}

// Totals returns a user's balance and referral count; unknown users have zeros.
func (s *AccountService) Totals(ctx context.Context, id string) (balanceCents, referralCount int64, err error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("failed to get totals: %w", err)
	}
	return user.BalanceCents, user.ReferralCount, nil
}

// ClampLimit normalizes a list limit into [1, MaxListLimit].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
