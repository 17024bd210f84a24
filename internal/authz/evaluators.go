package authz

import (
	"context"
	"fmt"
	"time"
)

// RolePermissionMode selects the set test a role/permission guard performs.
type RolePermissionMode int

const (
	// AnyOf allows when any required string matches a role name or a
	// permission the principal holds. Used by coarse administrative routes.
	AnyOf RolePermissionMode = iota
	// AllPermissions allows only when every required permission string is
	// granted by the principal's role union.
	AllPermissions
)

// RolePermission is the RBAC evaluator.
type RolePermission struct {
	Mode     RolePermissionMode
	Required []string
}

func (RolePermission) Name() string { return "rbac" }

func (e RolePermission) Evaluate(_ context.Context, in Input, _ *State) (Verdict, error) {
	if in.Principal.Account == nil {
		return Verdict{}, ErrNotFound
	}
	switch e.Mode {
	case AllPermissions:
		if in.Principal.HasAllPermissions(e.Required...) {
			return allow(), nil
		}
	default:
		for _, want := range e.Required {
			if in.Principal.HasRole(want) || in.Principal.HasPermission(want) {
				return allow(), nil
			}
		}
	}
	return deny(e.Name(), "you do not have the required role or permission"), nil
}

// Clearance is the MAC evaluator: strictly numeric, never bypassed.
type Clearance struct{}

func (Clearance) Name() string { return "mac" }

func (e Clearance) Evaluate(_ context.Context, in Input, _ *State) (Verdict, error) {
	if in.Principal.Account == nil || in.Resource == nil {
		return Verdict{}, ErrNotFound
	}
	if in.Principal.Account.ClearanceLevel < in.Resource.SensitivityLevel {
		return deny(e.Name(), "insufficient security clearance"), nil
	}
	return allow(), nil
}

// Ownership is the DAC evaluator. An owner or share grant sets the bypass
// flag so the attribute match is skipped; lack of a grant is not a denial,
// evaluation simply continues.
type Ownership struct{}

func (Ownership) Name() string { return "dac" }

func (e Ownership) Evaluate(_ context.Context, in Input, st *State) (Verdict, error) {
	if in.Principal.Account == nil || in.Resource == nil {
		return Verdict{}, ErrNotFound
	}
	id := in.Principal.Account.ID
	if in.Resource.OwnerID == id || in.Resource.SharedWithUser(id) {
		st.BypassAttribute = true
	}
	return allow(), nil
}

// Attribute is the ABAC evaluator: department equality, skipped entirely
// when a direct grant already allowed the request.
type Attribute struct{}

func (Attribute) Name() string { return "abac" }

func (e Attribute) Evaluate(_ context.Context, in Input, st *State) (Verdict, error) {
	if in.Principal.Account == nil || in.Resource == nil {
		return Verdict{}, ErrNotFound
	}
	if st.BypassAttribute {
		return allow(), nil
	}
	if in.Principal.Account.Department() != in.Resource.Department {
		return deny(e.Name(), "you do not have access to this department's records"), nil
	}
	return allow(), nil
}

// TimeWindow is the RuBAC evaluator. It binds to one restricted role;
// principals without that role always pass. The window is evaluated in the
// configured location (tenant timezone is configurable, not hard-coded).
type TimeWindow struct {
	RestrictedRole string
	StartHour      int
	EndHour        int
	Location       *time.Location
}

func (TimeWindow) Name() string { return "rubac" }

func (e TimeWindow) Evaluate(_ context.Context, in Input, _ *State) (Verdict, error) {
	if in.Principal.Account == nil {
		return Verdict{}, ErrNotFound
	}
	if !in.Principal.HasRole(e.RestrictedRole) {
		return allow(), nil
	}
	loc := e.Location
	if loc == nil {
		loc = time.Local
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	hour := now.In(loc).Hour()
	if !hourInWindow(hour, e.StartHour, e.EndHour) {
		return deny(e.Name(), fmt.Sprintf("access is restricted outside working hours (%02d:00-%02d:00)", e.StartHour, e.EndHour)), nil
	}
	return allow(), nil
}

// hourInWindow treats start < end as a same-day window and start > end as
// one spanning midnight.
func hourInWindow(hour, start, end int) bool {
	if start == end {
		return true
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
