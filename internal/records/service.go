package records

import (
	"context"
	"fmt"
	"strings"
	"time"

	"clinvault.org/internal/ids"
)

// Service wraps the store with the create/get/share operations the HTTP
// layer exposes behind the authorization pipeline.
type Service struct {
	store Store
	now   func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the records service.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateParams are the caller-supplied fields of a new test result.
type CreateParams struct {
	PatientID        string
	TestName         string
	ResultData       map[string]any
	Department       string
	SensitivityLevel int
}

// Create stores a new result owned by the acting user.
func (s *Service) Create(ctx context.Context, actorID string, p CreateParams) (*TestResult, error) {
	p.PatientID = strings.TrimSpace(p.PatientID)
	p.TestName = strings.TrimSpace(p.TestName)
	p.Department = strings.TrimSpace(p.Department)
	if p.PatientID == "" || p.TestName == "" || p.Department == "" {
		return nil, fmt.Errorf("%w: patient_id, test_name and department are required", ErrInvalidInput)
	}
	if p.SensitivityLevel < 0 {
		return nil, fmt.Errorf("%w: sensitivity_level must be >= 0", ErrInvalidInput)
	}
	now := s.now().UTC()
	result := &TestResult{
		ID:               ids.New(),
		PatientID:        p.PatientID,
		TestName:         p.TestName,
		ResultData:       p.ResultData,
		UploadedBy:       actorID,
		OwnerID:          actorID,
		Department:       p.Department,
		SensitivityLevel: p.SensitivityLevel,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.Create(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Get loads a result by id.
func (s *Service) Get(ctx context.Context, id string) (*TestResult, error) {
	return s.store.FindByID(ctx, id)
}

// Share grants another user access to a result. Only the owner may share;
// a repeated share for the same user replaces the earlier grant so at most
// one entry per user remains.
func (s *Service) Share(ctx context.Context, resultID, actorID, targetUserID string, permissions []string) (*TestResult, error) {
	targetUserID = strings.TrimSpace(targetUserID)
	if targetUserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if !validSharePermissions(permissions) {
		return nil, fmt.Errorf("%w: permissions must be a non-empty subset of read, write", ErrInvalidInput)
	}
	result, err := s.store.FindByID(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if result.OwnerID != actorID {
		return nil, fmt.Errorf("%w: only the owner can share this result", ErrForbidden)
	}
	replaced := false
	for i := range result.SharedWith {
		if result.SharedWith[i].UserID == targetUserID {
			result.SharedWith[i].Permissions = permissions
			replaced = true
			break
		}
	}
	if !replaced {
		result.SharedWith = append(result.SharedWith, Share{UserID: targetUserID, Permissions: permissions})
	}
	result.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}
