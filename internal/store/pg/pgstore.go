// Package pg implements the store contracts on PostgreSQL through the pgx
// stdlib driver. Account sub-documents (roles, attributes, MFA enrollment,
// pending verification) are stored as JSONB so each mutation remains a
// single-row write.
package pg

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"clinvault.org/internal/audit"
	"clinvault.org/internal/auth"
	"clinvault.org/internal/records"
)

// Store wraps one connection pool shared by all contract implementations.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL and tunes the pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle (used by tests with sqlmock).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for readiness pings and migrations.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks connectivity within the given context.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Accounts exposes the credential-store contract.
func (s *Store) Accounts() auth.AccountStore { return &accountStore{db: s.db} }

// Roles exposes the role-store contract.
func (s *Store) Roles() auth.RoleStore { return &roleStore{db: s.db} }

// Results exposes the test-result store contract.
func (s *Store) Results() records.Store { return &resultStore{db: s.db} }

// Audit exposes the append-only audit store contract.
func (s *Store) Audit() audit.Store { return &auditStore{db: s.db} }
