package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"clinvault.org/internal/records"
)

type resultStore struct {
	db *sql.DB
}

const resultColumns = `id, patient_id, test_name, result_data, uploaded_by,
	owner_id, shared_with, department, sensitivity_level, created_at, updated_at`

func (s *resultStore) Create(ctx context.Context, r *records.TestResult) error {
	data, shared, err := marshalResultDocs(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into test_results (`+resultColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, r.ID, r.PatientID, r.TestName, data, r.UploadedBy, r.OwnerID,
		shared, r.Department, r.SensitivityLevel, r.CreatedAt, r.UpdatedAt)
	return err
}

func (s *resultStore) FindByID(ctx context.Context, id string) (*records.TestResult, error) {
	row := s.db.QueryRowContext(ctx, `select `+resultColumns+` from test_results where id = $1`, id)
	var (
		r      records.TestResult
		data   []byte
		shared []byte
	)
	err := row.Scan(&r.ID, &r.PatientID, &r.TestName, &data, &r.UploadedBy,
		&r.OwnerID, &shared, &r.Department, &r.SensitivityLevel,
		&r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, records.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &r.ResultData); err != nil {
			return nil, fmt.Errorf("decode result data: %w", err)
		}
	}
	if err := json.Unmarshal(shared, &r.SharedWith); err != nil {
		return nil, fmt.Errorf("decode shared with: %w", err)
	}
	return &r, nil
}

func (s *resultStore) Update(ctx context.Context, r *records.TestResult) error {
	data, shared, err := marshalResultDocs(r)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update test_results set
			patient_id = $2, test_name = $3, result_data = $4, uploaded_by = $5,
			owner_id = $6, shared_with = $7, department = $8,
			sensitivity_level = $9, updated_at = $10
		where id = $1
	`, r.ID, r.PatientID, r.TestName, data, r.UploadedBy, r.OwnerID,
		shared, r.Department, r.SensitivityLevel, r.UpdatedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return records.ErrNotFound
	}
	return nil
}

func marshalResultDocs(r *records.TestResult) (data, shared []byte, err error) {
	if data, err = json.Marshal(r.ResultData); err != nil {
		return nil, nil, err
	}
	sharedWith := r.SharedWith
	if sharedWith == nil {
		sharedWith = []records.Share{}
	}
	if shared, err = json.Marshal(sharedWith); err != nil {
		return nil, nil, err
	}
	return data, shared, nil
}
