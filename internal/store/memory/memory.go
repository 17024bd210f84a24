// Package memory provides map-backed implementations of every store
// contract. It backs the test suites and the DSN-less development mode; the
// production deployment uses the Postgres stores.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"clinvault.org/internal/audit"
	"clinvault.org/internal/auth"
	"clinvault.org/internal/ids"
	"clinvault.org/internal/records"
)

// Store holds all collections behind one mutex. Single-instance semantics
// match the service's concurrency model: lost updates are tolerated at the
// service level, documents are never corrupted.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*auth.Account
	roles    map[string]*auth.Role
	results  map[string]*records.TestResult
	entries  []*audit.Entry
}

// New returns an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[string]*auth.Account),
		roles:    make(map[string]*auth.Role),
		results:  make(map[string]*records.TestResult),
	}
}

// Accounts exposes the credential-store contract.
func (s *Store) Accounts() auth.AccountStore { return (*accountStore)(s) }

// Roles exposes the role-store contract.
func (s *Store) Roles() auth.RoleStore { return (*roleStore)(s) }

// Results exposes the test-result store contract.
func (s *Store) Results() records.Store { return (*resultStore)(s) }

// Audit exposes the append-only audit store contract.
func (s *Store) Audit() audit.Store { return (*auditStore)(s) }

type accountStore Store

var _ auth.AccountStore = (*accountStore)(nil)

func (s *accountStore) Create(_ context.Context, a *auth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if existing.Email == a.Email || existing.Username == a.Username {
			return auth.ErrAlreadyExists
		}
	}
	s.accounts[a.ID] = cloneAccount(a)
	return nil
}

func (s *accountStore) FindByID(_ context.Context, id string) (*auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneAccount(a), nil
}

func (s *accountStore) FindByEmail(_ context.Context, email string) (*auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.Email == email {
			return cloneAccount(a), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *accountStore) FindByRefreshToken(_ context.Context, token string) (*auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if token == "" {
		return nil, auth.ErrNotFound
	}
	for _, a := range s.accounts {
		if a.RefreshToken == token {
			return cloneAccount(a), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *accountStore) FindByVerificationTokenHash(_ context.Context, hash string) (*auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.PendingVerification != nil && a.PendingVerification.TokenHash == hash {
			return cloneAccount(a), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *accountStore) Update(_ context.Context, a *auth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; !ok {
		return auth.ErrNotFound
	}
	s.accounts[a.ID] = cloneAccount(a)
	return nil
}

func (s *accountStore) List(_ context.Context) ([]*auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*auth.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, cloneAccount(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type roleStore Store

var _ auth.RoleStore = (*roleStore)(nil)

func (s *roleStore) Ensure(_ context.Context, roles []auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range roles {
		if _, ok := s.roles[r.Name]; ok {
			continue
		}
		cp := r
		if cp.ID == "" {
			cp.ID = ids.New()
		}
		now := time.Now().UTC()
		cp.CreatedAt = now
		cp.UpdatedAt = now
		s.roles[cp.Name] = &cp
	}
	return nil
}

func (s *roleStore) FindByName(_ context.Context, name string) (*auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[name]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *roleStore) FindByNames(_ context.Context, names []string) ([]*auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*auth.Role, 0, len(names))
	for _, n := range names {
		if r, ok := s.roles[n]; ok {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

type resultStore Store

var _ records.Store = (*resultStore)(nil)

func (s *resultStore) Create(_ context.Context, r *records.TestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.ID] = cloneResult(r)
	return nil
}

func (s *resultStore) FindByID(_ context.Context, id string) (*records.TestResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[id]
	if !ok {
		return nil, records.ErrNotFound
	}
	return cloneResult(r), nil
}

func (s *resultStore) Update(_ context.Context, r *records.TestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.results[r.ID]; !ok {
		return records.ErrNotFound
	}
	s.results[r.ID] = cloneResult(r)
	return nil
}

type auditStore Store

var _ audit.Store = (*auditStore)(nil)

func (s *auditStore) Append(_ context.Context, e *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *auditStore) ListAll(_ context.Context) ([]*audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*audit.Entry, len(s.entries))
	for i := range s.entries {
		cp := *s.entries[len(s.entries)-1-i]
		out[i] = &cp
	}
	return out, nil
}

func cloneAccount(a *auth.Account) *auth.Account {
	cp := *a
	cp.Roles = append([]string(nil), a.Roles...)
	if a.Attributes != nil {
		cp.Attributes = make(map[string]string, len(a.Attributes))
		for k, v := range a.Attributes {
			cp.Attributes[k] = v
		}
	}
	if a.MFA != nil {
		mfa := *a.MFA
		cp.MFA = &mfa
	}
	if a.PendingVerification != nil {
		pv := *a.PendingVerification
		cp.PendingVerification = &pv
	}
	return &cp
}

func cloneResult(r *records.TestResult) *records.TestResult {
	cp := *r
	cp.SharedWith = make([]records.Share, len(r.SharedWith))
	for i, sh := range r.SharedWith {
		cp.SharedWith[i] = records.Share{
			UserID:      sh.UserID,
			Permissions: append([]string(nil), sh.Permissions...),
		}
	}
	if r.ResultData != nil {
		cp.ResultData = make(map[string]any, len(r.ResultData))
		for k, v := range r.ResultData {
			cp.ResultData[k] = v
		}
	}
	return &cp
}
