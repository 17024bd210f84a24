package auth

// Principal is an account with its role references resolved to permission
// strings. Pipeline evaluators and route guards work against this, never
// against raw role documents.
type Principal struct {
	Account     *Account
	Roles       []string
	Permissions map[string]struct{}
}

// NewPrincipal builds a principal from an account and its resolved roles.
func NewPrincipal(account *Account, roles []*Role) Principal {
	names := make([]string, 0, len(roles))
	perms := make(map[string]struct{})
	for _, r := range roles {
		names = append(names, r.Name)
		for _, p := range r.Permissions {
			perms[p] = struct{}{}
		}
	}
	return Principal{Account: account, Roles: names, Permissions: perms}
}

// HasPermission reports whether any of the principal's roles grants the
// permission string.
func (p Principal) HasPermission(key string) bool {
	_, ok := p.Permissions[key]
	return ok
}

// HasRole reports whether the principal holds the named role.
func (p Principal) HasRole(name string) bool {
	for _, r := range p.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether the principal holds every one of the
// given permission strings.
func (p Principal) HasAllPermissions(keys ...string) bool {
	for _, k := range keys {
		if !p.HasPermission(k) {
			return false
		}
	}
	return true
}
