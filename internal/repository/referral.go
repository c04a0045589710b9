package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"telegram-referral-bot/internal/model"
)

// ReferralRepository is the referral ledger: it records referral events
// and credits referrers, one transaction per event.
type ReferralRepository struct {
	pool *pgxpool.Pool
}

// NewReferralRepository creates a new ReferralRepository instance.
func NewReferralRepository(pool *pgxpool.Pool) *ReferralRepository {
	return &ReferralRepository{pool: pool}
}

// RegisterReferral records the event and credits the referrer atomically.
//
// The event insert comes first and is the dedup point: the unique
// fingerprint and new_user_id constraints make a concurrent or repeated
// insert of the same event a no-op, which is reported as
// OutcomeAlreadyExists together with the referrer's current totals.
// Any error means the transaction was rolled back and nothing changed.
func (r *ReferralRepository) RegisterReferral(ctx context.Context, in model.ReferralCredit) (*model.CreditResult, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	// No-op once committed
	defer func() { _ = tx.Rollback(ctx) }()

	const insertEvent = `
		INSERT INTO referral_events (new_user_id, referrer_id, fingerprint, credited, created_at)
		VALUES ($1, $2, $3, FALSE, NOW())
		ON CONFLICT DO NOTHING
		RETURNING id
	`

	var eventID int64
	err = tx.QueryRow(ctx, insertEvent, in.NewUserID, in.ReferrerID, in.Fingerprint).Scan(&eventID)
	if errors.Is(err, pgx.ErrNoRows) {
		if err := tx.Rollback(ctx); err != nil {
			return nil, fmt.Errorf("failed to roll back duplicate referral: %w", err)
		}
		return r.currentTotals(ctx, in.ReferrerID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert referral event: %w", err)
	}

	if err := ensureUsers(ctx, tx, in); err != nil {
		return nil, err
	}

	const credit = `
		UPDATE users
		SET balance_cents = balance_cents + $2, referral_count = referral_count + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING balance_cents, referral_count
	`

	result := &model.CreditResult{Outcome: model.OutcomeInserted, EventID: eventID}
	err = tx.QueryRow(ctx, credit, in.ReferrerID, in.BonusCents).Scan(
		&result.ReferrerBalanceCents,
		&result.ReferrerReferralCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to credit referrer: %w", err)
	}

	const markCredited = `UPDATE referral_events SET credited = TRUE WHERE id = $1 AND credited = FALSE`

	tag, err := tx.Exec(ctx, markCredited, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark referral credited: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return nil, fmt.Errorf("failed to mark referral credited: event %d not pending", eventID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit referral: %w", err)
	}

	return result, nil
}

// ensureUsers creates missing user rows and fills in absent profile fields.
// Rows are touched in id order so that two transactions crediting each
// other's users cannot deadlock.
func ensureUsers(ctx context.Context, tx pgx.Tx, in model.ReferralCredit) error {
	const upsert = `
		INSERT INTO users (id, first_name, last_name, username, balance_cents, referral_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			first_name = COALESCE(users.first_name, EXCLUDED.first_name),
			last_name = COALESCE(users.last_name, EXCLUDED.last_name),
			username = COALESCE(users.username, EXCLUDED.username)
	`

	profiles := map[string]model.Profile{in.ReferrerID: {}}
	profiles[in.NewUserID] = in.Profile

	ids := make([]string, 0, len(profiles))
	for id := range profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		p := profiles[id]
		if _, err := tx.Exec(ctx, upsert, id, p.FirstName, p.LastName, p.Username); err != nil {
			return fmt.Errorf("failed to ensure user %s: %w", id, err)
		}
	}
	return nil
}

// currentTotals reads the referrer's committed balance and count.
// A referrer that was never stored reports zeros.
func (r *ReferralRepository) currentTotals(ctx context.Context, referrerID string) (*model.CreditResult, error) {
	const query = `SELECT balance_cents, referral_count FROM users WHERE id = $1`

	result := &model.CreditResult{Outcome: model.OutcomeAlreadyExists}
	err := r.pool.QueryRow(ctx, query, referrerID).Scan(
		&result.ReferrerBalanceCents,
		&result.ReferrerReferralCount,
	)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to read referrer totals: %w", err)
	}

	return result, nil
}

// ListByReferrer retrieves the referral events of a referrer, newest first.
func (r *ReferralRepository) ListByReferrer(ctx context.Context, referrerID string, limit int) ([]*model.ReferralEvent, error) {
	const query = `
		SELECT id, new_user_id, referrer_id, fingerprint, credited, created_at
		FROM referral_events
		WHERE referrer_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, referrerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get referral events: %w", err)
	}
	defer rows.Close()

	events := make([]*model.ReferralEvent, 0)
	for rows.Next() {
		var ev model.ReferralEvent
		err := rows.Scan(
			&ev.ID,
			&ev.NewUserID,
			&ev.ReferrerID,
			&ev.Fingerprint,
			&ev.Credited,
			&ev.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan referral event: %w", err)
		}
		events = append(events, &ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating referral events: %w", err)
	}

	return events, nil
}
