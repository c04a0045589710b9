// Package model defines the data models for the referral bot.
package model

import "time"

// User represents an account that has appeared either as a referrer or
// as a referred new user. Profile fields are informational and are only
// ever filled in, never overwritten.
type User struct {
	ID            string    `db:"id"`
	FirstName     *string   `db:"first_name"`
	LastName      *string   `db:"last_name"`
	Username      *string   `db:"username"`
	BalanceCents  int64     `db:"balance_cents"`
	ReferralCount int64     `db:"referral_count"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// ReferralEvent is one distinct referral, keyed by its fingerprint.
type ReferralEvent struct {
	ID          int64     `db:"id"`
	NewUserID   string    `db:"new_user_id"`
	ReferrerID  string    `db:"referrer_id"`
	Fingerprint string    `db:"fingerprint"`
	Credited    bool      `db:"credited"`
	CreatedAt   time.Time `db:"created_at"`
}

// Profile carries the optional display fields of a new user.
// Nil means "unknown", not "clear".
type Profile struct {
	FirstName *string
	LastName  *string
	Username  *string
}

// ReferralCredit is the input of one ledger transaction.
type ReferralCredit struct {
	ReferrerID  string
	NewUserID   string
	Fingerprint string
	BonusCents  int64
	Profile     Profile
}

// InsertOutcome tells whether the referral event row was newly inserted.
type InsertOutcome int

const (
	OutcomeInserted      InsertOutcome = iota // first time this event is seen, referrer credited
	OutcomeAlreadyExists                      // event already recorded, nothing changed
)

// String returns a log-friendly name of the outcome.
func (o InsertOutcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeAlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// CreditResult is the ledger's answer: the outcome plus the referrer's
// balance and count as of the end of the transaction.
type CreditResult struct {
	Outcome               InsertOutcome
	EventID               int64
	ReferrerBalanceCents  int64
	ReferrerReferralCount int64
}

// Credited reports whether this call credited the referrer.
func (r *CreditResult) Credited() bool {
	return r.Outcome == OutcomeInserted
}

// StringPtr returns a pointer to s, or nil when s is blank.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
