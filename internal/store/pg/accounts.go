package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"clinvault.org/internal/auth"
)

type accountStore struct {
	db *sql.DB
}

const accountColumns = `id, username, email, password_hash, roles, attributes,
	clearance_level, verified, locked, login_attempts, mfa, refresh_token,
	pending_verification, created_at, updated_at`

func (s *accountStore) Create(ctx context.Context, a *auth.Account) error {
	roles, attrs, mfa, pending, err := marshalAccountDocs(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into accounts (`+accountColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, a.ID, a.Username, a.Email, a.PasswordHash, roles, attrs,
		a.ClearanceLevel, a.Verified, a.Locked, a.LoginAttempts, mfa,
		nullString(a.RefreshToken), pending, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *accountStore) FindByID(ctx context.Context, id string) (*auth.Account, error) {
	return s.findOne(ctx, `where id = $1`, id)
}

func (s *accountStore) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	return s.findOne(ctx, `where email = $1`, email)
}

func (s *accountStore) FindByRefreshToken(ctx context.Context, token string) (*auth.Account, error) {
	if token == "" {
		return nil, auth.ErrNotFound
	}
	return s.findOne(ctx, `where refresh_token = $1`, token)
}

func (s *accountStore) FindByVerificationTokenHash(ctx context.Context, hash string) (*auth.Account, error) {
	return s.findOne(ctx, `where pending_verification->>'token_hash' = $1`, hash)
}

func (s *accountStore) Update(ctx context.Context, a *auth.Account) error {
	roles, attrs, mfa, pending, err := marshalAccountDocs(a)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update accounts set
			username = $2, email = $3, password_hash = $4, roles = $5,
			attributes = $6, clearance_level = $7, verified = $8, locked = $9,
			login_attempts = $10, mfa = $11, refresh_token = $12,
			pending_verification = $13, updated_at = $14
		where id = $1
	`, a.ID, a.Username, a.Email, a.PasswordHash, roles, attrs,
		a.ClearanceLevel, a.Verified, a.Locked, a.LoginAttempts, mfa,
		nullString(a.RefreshToken), pending, a.UpdatedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *accountStore) List(ctx context.Context) ([]*auth.Account, error) {
	rows, err := s.db.QueryContext(ctx, `select `+accountColumns+` from accounts order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*auth.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *accountStore) findOne(ctx context.Context, where string, arg any) (*auth.Account, error) {
	row := s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts `+where, arg)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*auth.Account, error) {
	var (
		a       auth.Account
		roles   []byte
		attrs   []byte
		mfa     []byte
		pending []byte
		refresh sql.NullString
	)
	if err := row.Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &roles,
		&attrs, &a.ClearanceLevel, &a.Verified, &a.Locked, &a.LoginAttempts,
		&mfa, &refresh, &pending, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(roles, &a.Roles); err != nil {
		return nil, fmt.Errorf("decode roles: %w", err)
	}
	if err := json.Unmarshal(attrs, &a.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	if len(mfa) > 0 && string(mfa) != "null" {
		a.MFA = &auth.MFAEnrollment{}
		if err := json.Unmarshal(mfa, a.MFA); err != nil {
			return nil, fmt.Errorf("decode mfa: %w", err)
		}
	}
	if len(pending) > 0 && string(pending) != "null" {
		a.PendingVerification = &auth.PendingVerification{}
		if err := json.Unmarshal(pending, a.PendingVerification); err != nil {
			return nil, fmt.Errorf("decode pending verification: %w", err)
		}
	}
	if refresh.Valid {
		a.RefreshToken = refresh.String
	}
	return &a, nil
}

func marshalAccountDocs(a *auth.Account) (roles, attrs, mfa, pending []byte, err error) {
	if roles, err = json.Marshal(a.Roles); err != nil {
		return nil, nil, nil, nil, err
	}
	attributes := a.Attributes
	if attributes == nil {
		attributes = map[string]string{}
	}
	if attrs, err = json.Marshal(attributes); err != nil {
		return nil, nil, nil, nil, err
	}
	if mfa, err = json.Marshal(a.MFA); err != nil {
		return nil, nil, nil, nil, err
	}
	if pending, err = json.Marshal(a.PendingVerification); err != nil {
		return nil, nil, nil, nil, err
	}
	return roles, attrs, mfa, pending, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// isUniqueViolation matches the Postgres unique_violation SQLSTATE without
// binding the store to the driver's error type.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
