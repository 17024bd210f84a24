package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clinvault.org/internal/auth"
	"clinvault.org/internal/ids"
)

type roleStore struct {
	db *sql.DB
}

func (s *roleStore) Ensure(ctx context.Context, roles []auth.Role) error {
	for _, r := range roles {
		perms, err := json.Marshal(r.Permissions)
		if err != nil {
			return err
		}
		id := r.ID
		if id == "" {
			id = ids.New()
		}
		now := time.Now().UTC()
		if _, err := s.db.ExecContext(ctx, `
			insert into roles (id, name, permissions, created_at, updated_at)
			values ($1,$2,$3,$4,$5)
			on conflict (name) do nothing
		`, id, r.Name, perms, now, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, name, permissions, created_at, updated_at from roles where name = $1
	`, name)
	r, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *roleStore) FindByNames(ctx context.Context, names []string) ([]*auth.Role, error) {
	if len(names) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(names)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, name, permissions, created_at, updated_at
		from roles
		where name in (select jsonb_array_elements_text($1::jsonb))
		order by name
	`, encoded)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*auth.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRole(row rowScanner) (*auth.Role, error) {
	var (
		r     auth.Role
		perms []byte
	)
	if err := row.Scan(&r.ID, &r.Name, &perms, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(perms, &r.Permissions); err != nil {
		return nil, fmt.Errorf("decode permissions: %w", err)
	}
	return &r, nil
}
