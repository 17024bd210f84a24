package pg

import (
	"context"
	"database/sql"

	"clinvault.org/internal/audit"
)

type auditStore struct {
	db *sql.DB
}

func (s *auditStore) Append(ctx context.Context, e *audit.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log (id, iv, ciphertext, created_at)
		values ($1,$2,$3,$4)
	`, e.ID, e.IV, e.Ciphertext, e.CreatedAt)
	return err
}

func (s *auditStore) ListAll(ctx context.Context) ([]*audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, iv, ciphertext, created_at from audit_log order by created_at desc, id desc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*audit.Entry
	for rows.Next() {
		var e audit.Entry
		if err := rows.Scan(&e.ID, &e.IV, &e.Ciphertext, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
