package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// migrations are applied in order on every start; each one is idempotent.
var migrations = []struct {
	name string
	sql  string
}{
	{
		name: "users table",
		sql: `
			CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				first_name TEXT,
				last_name TEXT,
				username TEXT,
				balance_cents BIGINT NOT NULL DEFAULT 0 CHECK (balance_cents >= 0),
				referral_count BIGINT NOT NULL DEFAULT 0 CHECK (referral_count >= 0),
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_users_created_at ON users(created_at DESC);
		`,
	},
	{
		// The user foreign keys are deferred so that the event row can be
		// inserted first and the users ensured later in the same transaction.
		name: "referral_events table",
		sql: `
			CREATE TABLE IF NOT EXISTS referral_events (
				id BIGSERIAL PRIMARY KEY,
				new_user_id TEXT NOT NULL REFERENCES users(id) DEFERRABLE INITIALLY DEFERRED,
				referrer_id TEXT NOT NULL REFERENCES users(id) DEFERRABLE INITIALLY DEFERRED,
				fingerprint CHAR(64) NOT NULL,
				credited BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				CONSTRAINT referral_events_fingerprint_key UNIQUE (fingerprint),
				CONSTRAINT referral_events_new_user_key UNIQUE (new_user_id)
			);
			CREATE INDEX IF NOT EXISTS idx_referral_events_referrer ON referral_events(referrer_id, created_at DESC);
		`,
	},
}

// Migrate applies the database schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	log.Info().Msg("Running database migrations...")

	for i, m := range migrations {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", i+1, m.name, err)
		}
		log.Info().Int("migration", i+1).Str("name", m.name).Msg("Migration applied")
	}

	log.Info().Msg("All migrations completed successfully")
	return nil
}
