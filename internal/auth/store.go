package auth

import "context"

// AccountStore is the credential-store contract the session service depends
// on. Implementations live under internal/store; the service never assumes a
// particular persistence technology.
type AccountStore interface {
	Create(ctx context.Context, a *Account) error
	FindByID(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	// FindByRefreshToken matches the stored refresh-token value exactly.
	FindByRefreshToken(ctx context.Context, token string) (*Account, error)
	// FindByVerificationTokenHash performs an exact-match lookup on the
	// stored verification-token hash, so raw tokens are never compared.
	FindByVerificationTokenHash(ctx context.Context, hash string) (*Account, error)
	Update(ctx context.Context, a *Account) error
	List(ctx context.Context) ([]*Account, error)
}

// RoleStore resolves role references to permission sets.
type RoleStore interface {
	// Ensure creates any of the given roles that do not exist yet.
	Ensure(ctx context.Context, roles []Role) error
	FindByName(ctx context.Context, name string) (*Role, error)
	FindByNames(ctx context.Context, names []string) ([]*Role, error)
}
