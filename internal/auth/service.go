package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinvault.org/internal/ids"
	"clinvault.org/internal/notify"
)

const (
	defaultAccessTTL        = 15 * time.Minute
	defaultRefreshTTL       = 7 * 24 * time.Hour
	defaultMFAPendingTTL    = 10 * time.Minute
	defaultVerificationTTL  = 10 * time.Minute
	defaultLockoutThreshold = 5
	defaultIssuer           = "clinvault"
)

// Service is the session/token manager: credential verification, lockout
// accounting, email verification, MFA enrollment and step-up, and token
// issuance. It is a state machine over the account document; every mutation
// is persisted with a single store write.
type Service struct {
	accounts AccountStore
	roles    RoleStore
	notifier notify.Notifier

	secret []byte
	issuer string
	now    func() time.Time

	accessTTL        time.Duration
	refreshTTL       time.Duration
	mfaPendingTTL    time.Duration
	verificationTTL  time.Duration
	lockoutThreshold int
	bcryptCost       int
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

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithMFAPendingTTL configures the lifetime of the MFA step-up token.
func WithMFAPendingTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.mfaPendingTTL = ttl
		}
	}
}

// WithVerificationTTL configures the email-verification token expiry.
func WithVerificationTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.verificationTTL = ttl
		}
	}
}

// WithLockoutThreshold sets the failed-attempt count that locks an account.
func WithLockoutThreshold(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.lockoutThreshold = n
		}
	}
}

// WithBcryptCost sets the bcrypt work factor for new hashes.
func WithBcryptCost(cost int) ServiceOption {
	return func(s *Service) {
		if cost > 0 {
			s.bcryptCost = cost
		}
	}
}

// NewService constructs the session service.
func NewService(accounts AccountStore, roles RoleStore, notifier notify.Notifier, secret []byte, opts ...ServiceOption) (*Service, error) {
	if accounts == nil || roles == nil {
		return nil, errors.New("auth: account and role stores are required")
	}
	if len(secret) == 0 {
		return nil, errors.New("auth: signing secret is required")
	}
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	s := &Service{
		accounts:         accounts,
		roles:            roles,
		notifier:         notifier,
		secret:           secret,
		issuer:           defaultIssuer,
		now:              time.Now,
		accessTTL:        defaultAccessTTL,
		refreshTTL:       defaultRefreshTTL,
		mfaPendingTTL:    defaultMFAPendingTTL,
		verificationTTL:  defaultVerificationTTL,
		lockoutThreshold: defaultLockoutThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnsureBuiltinRoles creates the built-in role set when missing.
func (s *Service) EnsureBuiltinRoles(ctx context.Context) error {
	return s.roles.Ensure(ctx, BuiltinRoles)
}

// Register creates an unverified account with the default role and emits a
// verification message carrying the raw token. If delivery fails, the
// pending-verification fields are cleared and the registration fails.
func (s *Service) Register(ctx context.Context, username, email, password, department string) (*Account, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(strings.ToLower(email))
	department = strings.TrimSpace(department)
	if username == "" || email == "" || password == "" || department == "" {
		return nil, fmt.Errorf("%w: username, email, password and department are required", ErrInvalidInput)
	}

	if _, err := s.roles.FindByName(ctx, DefaultRole); err != nil {
		return nil, fmt.Errorf("default role lookup: %w", err)
	}

	if _, err := s.accounts.FindByEmail(ctx, email); err == nil {
		return nil, ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	hash, err := HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	rawToken, tokenHash, err := newVerificationToken()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	account := &Account{
		ID:           ids.New(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Roles:        []string{DefaultRole},
		Attributes:   map[string]string{AttributeDepartment: department},
		PendingVerification: &PendingVerification{
			TokenHash: tokenHash,
			ExpiresAt: now.Add(s.verificationTTL),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, err
	}

	if err := s.notifier.SendVerification(ctx, email, rawToken); err != nil {
		account.PendingVerification = nil
		account.UpdatedAt = s.now().UTC()
		if updErr := s.accounts.Update(ctx, account); updErr != nil {
			return nil, fmt.Errorf("clear pending verification after notify failure: %w", updErr)
		}
		return nil, fmt.Errorf("send verification message: %w", err)
	}
	return account, nil
}

// VerifyEmail consumes a single-use verification token. The lookup runs on
// the token hash so raw tokens are never compared.
func (s *Service) VerifyEmail(ctx context.Context, rawToken string) (*Account, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, ErrInvalidOrExpiredToken
	}
	account, err := s.accounts.FindByVerificationTokenHash(ctx, HashVerificationToken(rawToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, err
	}
	if account.PendingVerification == nil || account.PendingVerification.Expired(s.now().UTC()) {
		return nil, ErrInvalidOrExpiredToken
	}
	account.Verified = true
	account.PendingVerification = nil
	account.UpdatedAt = s.now().UTC()
	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// LoginResult is the outcome of a successful credential (or MFA) check.
// Either MFARequired is set with an MFA-pending token, or a full session is
// issued.
type LoginResult struct {
	Account *Account

	MFARequired bool
	MFAToken    string

	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Login runs the fixed state order: lock-check, credential-compare,
// attempt-accounting, verification-check, MFA gate, token issue.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Same answer as a bad password, to avoid account enumeration.
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if account.Locked {
		return LoginResult{}, ErrAccountLocked
	}

	if err := VerifyPassword(account.PasswordHash, password); err != nil {
		account.LoginAttempts++
		justLocked := false
		if account.LoginAttempts >= s.lockoutThreshold {
			account.Locked = true
			justLocked = true
		}
		account.UpdatedAt = s.now().UTC()
		if err := s.accounts.Update(ctx, account); err != nil {
			return LoginResult{}, err
		}
		if justLocked {
			return LoginResult{}, ErrAccountLocked
		}
		return LoginResult{}, ErrInvalidCredentials
	}

	// A correct password always clears the counter, even when verification
	// subsequently blocks the login.
	if account.LoginAttempts != 0 {
		account.LoginAttempts = 0
		account.UpdatedAt = s.now().UTC()
		if err := s.accounts.Update(ctx, account); err != nil {
			return LoginResult{}, err
		}
	}

	if !account.Verified {
		return LoginResult{}, ErrEmailNotVerified
	}

	if account.MFAEnabled() {
		mfaToken, _, err := s.signToken(tokenKindMFAPending, account.ID, nil, s.mfaPendingTTL)
		if err != nil {
			return LoginResult{}, err
		}
		return LoginResult{Account: account, MFARequired: true, MFAToken: mfaToken}, nil
	}

	return s.issueSession(ctx, account)
}

// VerifyMFALogin completes a login that was gated on a TOTP code. MFA
// failures are not credential-lockout events and never touch LoginAttempts.
func (s *Service) VerifyMFALogin(ctx context.Context, mfaToken, code string) (LoginResult, error) {
	claims, err := s.parseToken(mfaToken, tokenKindMFAPending)
	if err != nil {
		return LoginResult{}, ErrInvalidMFAToken
	}
	account, err := s.accounts.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginResult{}, ErrInvalidMFAToken
		}
		return LoginResult{}, err
	}
	if !account.MFAEnabled() || !ValidateTOTP(code, account.MFA.Secret) {
		return LoginResult{}, ErrInvalidMFAToken
	}
	account.LoginAttempts = 0
	return s.issueSession(ctx, account)
}

// issueSession mints the access/refresh pair and mirrors the refresh token
// on the account, overwriting any prior value. Last write wins; only the
// latest refresh token stays valid.
func (s *Service) issueSession(ctx context.Context, account *Account) (LoginResult, error) {
	access, accessExp, err := s.signToken(tokenKindAccess, account.ID, account.Roles, s.accessTTL)
	if err != nil {
		return LoginResult{}, err
	}
	refresh, refreshExp, err := s.signToken(tokenKindRefresh, account.ID, nil, s.refreshTTL)
	if err != nil {
		return LoginResult{}, err
	}
	account.RefreshToken = refresh
	account.UpdatedAt = s.now().UTC()
	if err := s.accounts.Update(ctx, account); err != nil {
		return LoginResult{}, err
	}
	return LoginResult{
		Account:          account,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// SetupMFA generates a fresh TOTP secret and persists it unconfirmed. The
// secret is unusable for login until ConfirmMFA succeeds; re-running setup
// replaces any prior enrollment and requires a new confirmation.
func (s *Service) SetupMFA(ctx context.Context, accountID string) (secret, uri string, err error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return "", "", err
	}
	secret, uri, err = GenerateTOTPSecret(s.issuer, account.Email)
	if err != nil {
		return "", "", err
	}
	account.MFA = &MFAEnrollment{Secret: secret}
	account.UpdatedAt = s.now().UTC()
	if err := s.accounts.Update(ctx, account); err != nil {
		return "", "", err
	}
	return secret, uri, nil
}

// ConfirmMFA verifies one TOTP code against the pending enrollment and
// enables MFA for subsequent logins.
func (s *Service) ConfirmMFA(ctx context.Context, accountID, code string) error {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account.MFA == nil {
		return ErrInvalidMFAToken
	}
	if !ValidateTOTP(code, account.MFA.Secret) {
		return ErrInvalidMFAToken
	}
	account.MFA.Confirmed = true
	account.UpdatedAt = s.now().UTC()
	return s.accounts.Update(ctx, account)
}

// Refresh exchanges a refresh-token cookie value for a new access token. The
// refresh token itself is not rotated.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, time.Time, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return "", time.Time{}, ErrUnauthenticated
	}
	account, err := s.accounts.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", time.Time{}, ErrForbidden
		}
		return "", time.Time{}, err
	}
	claims, err := s.parseToken(refreshToken, tokenKindRefresh)
	if err != nil {
		return "", time.Time{}, ErrForbidden
	}
	if claims.Subject != account.ID {
		return "", time.Time{}, ErrForbidden
	}
	return s.signToken(tokenKindAccess, account.ID, account.Roles, s.accessTTL)
}

// Logout clears the stored refresh token for the matching account. Absence
// of a token is success, not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	account, err := s.accounts.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	account.RefreshToken = ""
	account.UpdatedAt = s.now().UTC()
	return s.accounts.Update(ctx, account)
}

// ChangePassword requires the current password, rejects reuse, and revokes
// the live refresh token so other sessions must log in again.
func (s *Service) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(account.PasswordHash, currentPassword); err != nil {
		return ErrInvalidCredentials
	}
	// Reuse is detected through the hash-verify function, never by comparing
	// plaintext values.
	if VerifyPassword(account.PasswordHash, newPassword) == nil {
		return fmt.Errorf("%w: new password must differ from the current one", ErrInvalidInput)
	}
	hash, err := HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	account.PasswordHash = hash
	account.LoginAttempts = 0
	account.Locked = false
	account.RefreshToken = ""
	account.UpdatedAt = s.now().UTC()
	return s.accounts.Update(ctx, account)
}

// AuthenticateAccess verifies a bearer access token and loads its account.
func (s *Service) AuthenticateAccess(ctx context.Context, bearer string) (*Account, error) {
	claims, err := s.parseToken(bearer, tokenKindAccess)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	account, err := s.accounts.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	return account, nil
}

// ResolvePrincipal joins the account's role references against the role
// store. Resolved at evaluation time, not lazily dereferenced.
func (s *Service) ResolvePrincipal(ctx context.Context, account *Account) (Principal, error) {
	roles, err := s.roles.FindByNames(ctx, account.Roles)
	if err != nil {
		return Principal{}, err
	}
	return NewPrincipal(account, roles), nil
}

// GetAccount loads an account by id.
func (s *Service) GetAccount(ctx context.Context, id string) (*Account, error) {
	return s.accounts.FindByID(ctx, id)
}

// ListAccounts returns all accounts (administrative use).
func (s *Service) ListAccounts(ctx context.Context) ([]*Account, error) {
	return s.accounts.List(ctx)
}

// SetRoles replaces an account's role references. Every name must resolve to
// an existing role.
func (s *Service) SetRoles(ctx context.Context, accountID string, roleNames []string) (*Account, error) {
	names := NormalizeRoleNames(roleNames)
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: at least one role is required", ErrInvalidInput)
	}
	resolved, err := s.roles.FindByNames(ctx, names)
	if err != nil {
		return nil, err
	}
	if len(resolved) != len(names) {
		return nil, fmt.Errorf("%w: unknown role", ErrNotFound)
	}
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	account.Roles = names
	account.UpdatedAt = s.now().UTC()
	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// SetLocked locks or unlocks an account. Unlocking resets the attempt
// counter so the next failure starts a fresh window.
func (s *Service) SetLocked(ctx context.Context, accountID string, locked bool) (*Account, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	account.Locked = locked
	if !locked {
		account.LoginAttempts = 0
	}
	account.UpdatedAt = s.now().UTC()
	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}
