// Package records models a lab test result carrying ownership, sharing and
// sensitivity metadata, plus the thin operations that run once the
// authorization pipeline has allowed a request.
package records

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("records: not found")
	ErrForbidden    = errors.New("records: forbidden")
	ErrInvalidInput = errors.New("records: invalid input")
)

// Share permissions.
const (
	PermissionRead  = "read"
	PermissionWrite = "write"
)

// Share grants a user read and/or write on a result. At most one entry per
// user exists on a result.
type Share struct {
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
}

// TestResult is the protected resource. The owner is implicitly granted all
// permissions.
type TestResult struct {
	ID               string         `json:"id"`
	PatientID        string         `json:"patient_id"`
	TestName         string         `json:"test_name"`
	ResultData       map[string]any `json:"result_data"`
	UploadedBy       string         `json:"uploaded_by"`
	OwnerID          string         `json:"owner_id"`
	SharedWith       []Share        `json:"shared_with"`
	Department       string         `json:"department"`
	SensitivityLevel int            `json:"sensitivity_level"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// SharedWithUser reports whether the result has a share entry for the user.
func (r *TestResult) SharedWithUser(userID string) bool {
	for _, s := range r.SharedWith {
		if s.UserID == userID {
			return true
		}
	}
	return false
}

// Store is the persistence contract for test results. The pipeline only
// reads resources; writes happen through the service below.
type Store interface {
	Create(ctx context.Context, r *TestResult) error
	FindByID(ctx context.Context, id string) (*TestResult, error)
	Update(ctx context.Context, r *TestResult) error
}

func validSharePermissions(perms []string) bool {
	if len(perms) == 0 {
		return false
	}
	for _, p := range perms {
		if p != PermissionRead && p != PermissionWrite {
			return false
		}
	}
	return true
}
