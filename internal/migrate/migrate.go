// Package migrate applies the fixed schema the Postgres stores expect. The
// schema is small and versioned in code; applied versions are tracked in a
// bookkeeping table so reruns are no-ops.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one ordered schema step.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrations is the full ordered schema history.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "accounts",
		SQL: `
create table if not exists accounts (
	id text primary key,
	username text not null unique,
	email text not null unique,
	password_hash text not null,
	roles jsonb not null default '[]',
	attributes jsonb not null default '{}',
	clearance_level integer not null default 0,
	verified boolean not null default false,
	locked boolean not null default false,
	login_attempts integer not null default 0,
	mfa jsonb,
	refresh_token text,
	pending_verification jsonb,
	created_at timestamptz not null,
	updated_at timestamptz not null
);
create index if not exists accounts_refresh_token_idx on accounts (refresh_token);
create index if not exists accounts_pending_token_idx on accounts ((pending_verification->>'token_hash'));`,
	},
	{
		Version: 2,
		Name:    "roles",
		SQL: `
create table if not exists roles (
	id text primary key,
	name text not null unique,
	permissions jsonb not null default '[]',
	created_at timestamptz not null,
	updated_at timestamptz not null
);`,
	},
	{
		Version: 3,
		Name:    "test_results",
		SQL: `
create table if not exists test_results (
	id text primary key,
	patient_id text not null,
	test_name text not null,
	result_data jsonb,
	uploaded_by text not null,
	owner_id text not null,
	shared_with jsonb not null default '[]',
	department text not null,
	sensitivity_level integer not null default 0,
	created_at timestamptz not null,
	updated_at timestamptz not null
);
create index if not exists test_results_owner_idx on test_results (owner_id);`,
	},
	{
		Version: 4,
		Name:    "audit_log",
		SQL: `
create table if not exists audit_log (
	id text primary key,
	iv text not null,
	ciphertext text not null,
	created_at timestamptz not null
);
create index if not exists audit_log_created_idx on audit_log (created_at desc);`,
	},
}

// Apply runs all pending migrations in order inside individual transactions.
func Apply(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		create table if not exists schema_migrations (
			version integer primary key,
			name text not null,
			applied_at timestamptz not null default now()
		)
	`); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}
	for _, m := range Migrations {
		applied, err := isApplied(ctx, db, m.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d %s: %w", m.Version, m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `
			insert into schema_migrations (version, name) values ($1, $2)
		`, m.Version, m.Name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func isApplied(ctx context.Context, db *sql.DB, version int) (bool, error) {
	var count int
	if err := db.QueryRowContext(ctx, `
		select count(*) from schema_migrations where version = $1
	`, version).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
