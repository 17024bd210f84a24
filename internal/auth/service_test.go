package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"clinvault.org/internal/auth"
	"clinvault.org/internal/store/memory"
)

type captureNotifier struct {
	email string
	token string
	fail  bool
}

func (n *captureNotifier) SendVerification(_ context.Context, email, rawToken string) error {
	if n.fail {
		return errors.New("smtp down")
	}
	n.email = email
	n.token = rawToken
	return nil
}

type testEnv struct {
	svc      *auth.Service
	store    *memory.Store
	notifier *captureNotifier
	now      *time.Time
}

func newTestEnv(t *testing.T, opts ...auth.ServiceOption) *testEnv {
	t.Helper()
	store := memory.New()
	notifier := &captureNotifier{}
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	env := &testEnv{store: store, notifier: notifier, now: &now}

	base := []auth.ServiceOption{
		auth.WithClock(func() time.Time { return *env.now }),
		auth.WithBcryptCost(bcrypt.MinCost),
	}
	svc, err := auth.NewService(store.Accounts(), store.Roles(), notifier, []byte("test-secret"), append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.EnsureBuiltinRoles(context.Background()); err != nil {
		t.Fatalf("EnsureBuiltinRoles: %v", err)
	}
	env.svc = svc
	return env
}

// registerVerified registers and verifies an account in one step.
func (env *testEnv) registerVerified(t *testing.T, username, email, password string) *auth.Account {
	t.Helper()
	ctx := context.Background()
	if _, err := env.svc.Register(ctx, username, email, password, "oncology"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	account, err := env.svc.VerifyEmail(ctx, env.notifier.token)
	if err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	return account
}

func TestRegisterVerifyLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	account, err := env.svc.Register(ctx, "alice", "Alice@Example.com", "s3cret-pw", "oncology")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if account.Email != "alice@example.com" {
		t.Fatalf("email was not normalized: %s", account.Email)
	}
	if len(account.Roles) != 1 || account.Roles[0] != auth.RolePatient {
		t.Fatalf("expected default patient role, got %v", account.Roles)
	}
	if account.Verified {
		t.Fatal("account must start unverified")
	}
	if env.notifier.token == "" {
		t.Fatal("verification token was not sent")
	}

	if _, err := env.svc.Login(ctx, "alice@example.com", "s3cret-pw"); !errors.Is(err, auth.ErrEmailNotVerified) {
		t.Fatalf("login before verification: want ErrEmailNotVerified, got %v", err)
	}

	if _, err := env.svc.VerifyEmail(ctx, env.notifier.token); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	// The token is single use.
	if _, err := env.svc.VerifyEmail(ctx, env.notifier.token); !errors.Is(err, auth.ErrInvalidOrExpiredToken) {
		t.Fatalf("second VerifyEmail: want ErrInvalidOrExpiredToken, got %v", err)
	}

	res, err := env.svc.Login(ctx, "alice@example.com", "s3cret-pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.MFARequired {
		t.Fatal("MFA gate triggered without an enrollment")
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatal("expected a full token pair")
	}

	got, err := env.svc.AuthenticateAccess(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("AuthenticateAccess: %v", err)
	}
	if got.ID != account.ID {
		t.Fatalf("authenticated wrong account: %s", got.ID)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.Register(ctx, "alice", "alice@example.com", "s3cret-pw", "oncology"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := env.svc.Register(ctx, "alice2", "alice@example.com", "other-pw", "radiology"); !errors.Is(err, auth.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists, got %v", err)
	}
}

func TestRegisterNotifierFailureClearsPending(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.fail = true
	ctx := context.Background()

	if _, err := env.svc.Register(ctx, "alice", "alice@example.com", "s3cret-pw", "oncology"); err == nil {
		t.Fatal("expected registration to fail when the notifier fails")
	}

	account, err := env.store.Accounts().FindByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if account.PendingVerification != nil {
		t.Fatal("pending verification must be cleared after a notify failure")
	}
}

func TestVerifyEmailExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.Register(ctx, "alice", "alice@example.com", "s3cret-pw", "oncology"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	*env.now = env.now.Add(11 * time.Minute)
	if _, err := env.svc.VerifyEmail(ctx, env.notifier.token); !errors.Is(err, auth.ErrInvalidOrExpiredToken) {
		t.Fatalf("want ErrInvalidOrExpiredToken, got %v", err)
	}
}

func TestLoginUnknownEmailMatchesBadPassword(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.svc.Login(context.Background(), "nobody@example.com", "whatever"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginLockout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerVerified(t, "alice", "alice@example.com", "s3cret-pw")

	for i := 0; i < 4; i++ {
		if _, err := env.svc.Login(ctx, "alice@example.com", "wrong"); !errors.Is(err, auth.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: want ErrInvalidCredentials, got %v", i+1, err)
		}
	}
	// The fifth failure crosses the threshold.
	if _, err := env.svc.Login(ctx, "alice@example.com", "wrong"); !errors.Is(err, auth.ErrAccountLocked) {
		t.Fatalf("attempt 5: want ErrAccountLocked, got %v", err)
	}
	// Once locked, even the correct password is refused.
	if _, err := env.svc.Login(ctx, "alice@example.com", "s3cret-pw"); !errors.Is(err, auth.ErrAccountLocked) {
		t.Fatalf("locked login: want ErrAccountLocked, got %v", err)
	}

	account, err := env.store.Accounts().FindByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	unlocked, err := env.svc.SetLocked(ctx, account.ID, false)
	if err != nil {
		t.Fatalf("SetLocked: %v", err)
	}
	if unlocked.LoginAttempts != 0 {
		t.Fatalf("unlock must reset attempts, got %d", unlocked.LoginAttempts)
	}
	if _, err := env.svc.Login(ctx, "alice@example.com", "s3cret-pw"); err != nil {
		t.Fatalf("login after unlock: %v", err)
	}
}

func TestLoginResetsAttemptsOnSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerVerified(t, "alice", "alice@example.com", "s3cret-pw")

	for i := 0; i < 3; i++ {
		if _, err := env.svc.Login(ctx, "alice@example.com", "wrong"); !errors.Is(err, auth.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	if _, err := env.svc.Login(ctx, "alice@example.com", "s3cret-pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	account, err := env.store.Accounts().FindByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if account.LoginAttempts != 0 {
		t.Fatalf("attempts not reset, got %d", account.LoginAttempts)
	}
}

func TestLoginUnverifiedStillResetsAttempts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.svc.Register(ctx, "alice", "alice@example.com", "s3cret-pw", "oncology"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := env.svc.Login(ctx, "alice@example.com", "wrong"); !errors.Is(err, auth.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	// Correct password, unverified account: the counter resets before the
	// verification check blocks the login.
	if _, err := env.svc.Login(ctx, "alice@example.com", "s3cret-pw"); !errors.Is(err, auth.ErrEmailNotVerified) {
		t.Fatalf("want ErrEmailNotVerified, got %v", err)
	}

	account, err := env.store.Accounts().FindByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if account.LoginAttempts != 0 {
		t.Fatalf("attempts not reset, got %d", account.LoginAttempts)
	}
}

func TestMFAFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.registerVerified(t, "alice", "alice@example.com", "s3cret-pw")

	secret, uri, err := env.svc.SetupMFA(ctx, account.ID)
	if err != nil {
		t.Fatalf("SetupMFA: %v", err)
	}
	if secret == "" || uri == "" {
		t.Fatal("expected a secret and a provisioning URI")
	}

	// Unconfirmed enrollment must not gate logins.
	res, err := env.svc.Login(ctx, "alice@example.com", "s3cret-pw")
	if err != nil {
		t.Fatalf("Login with unconfirmed MFA: %v", err)
	}
	if res.MFARequired {
		t.Fatal("unconfirmed enrollment gated the login")
	}

	if err := env.svc.ConfirmMFA(ctx, account.ID, "000000"); !errors.Is(err, auth.ErrInvalidMFAToken) {
		t.Fatalf("ConfirmMFA with bad code: want ErrInvalidMFAToken, got %v", err)
	}
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if err := env.svc.ConfirmMFA(ctx, account.ID, code); err != nil {
		t.Fatalf("ConfirmMFA: %v", err)
	}

	res, err = env.svc.Login(ctx, "alice@example.com", "s3cret-pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !res.MFARequired || res.MFAToken == "" {
		t.Fatal("expected an MFA-pending result")
	}
	if res.AccessToken != "" || res.RefreshToken != "" {
		t.Fatal("no session tokens may be issued before the code check")
	}

	if _, err := env.svc.VerifyMFALogin(ctx, res.MFAToken, "000000"); !errors.Is(err, auth.ErrInvalidMFAToken) {
		t.Fatalf("bad code: want ErrInvalidMFAToken, got %v", err)
	}
	code, err = totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	session, err := env.svc.VerifyMFALogin(ctx, res.MFAToken, code)
	if err != nil {
		t.Fatalf("VerifyMFALogin: %v", err)
	}
	if session.AccessToken == "" || session.RefreshToken == "" {
		t.Fatal("expected a full token pair after the code check")
	}

	// An access token is not an MFA-pending token.
	if _, err := env.svc.VerifyMFALogin(ctx, session.AccessToken, code); !errors.Is(err, auth.ErrInvalidMFAToken) {
		t.Fatalf("wrong token kind: want ErrInvalidMFAToken, got %v", err)
	}
}

func TestRefreshAndLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerVerified(t, "alice", "alice@example.com", "s3cret-pw")

	res, err := env.svc.Login(ctx, "alice@example.com", "s3cret-pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, _, err := env.svc.Refresh(ctx, ""); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("empty token: want ErrUnauthenticated, got %v", err)
	}
	if _, _, err := env.svc.Refresh(ctx, "not-a-token"); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("unknown token: want ErrForbidden, got %v", err)
	}

	access, _, err := env.svc.Refresh(ctx, res.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if access == "" {
		t.Fatal("expected a fresh access token")
	}
	// Refresh does not rotate: the same token keeps working.
	if _, _, err := env.svc.Refresh(ctx, res.RefreshToken); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}

	if err := env.svc.Logout(ctx, res.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, _, err := env.svc.Refresh(ctx, res.RefreshToken); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("refresh after logout: want ErrForbidden, got %v", err)
	}
	// Logging out an already-revoked token is a no-op.
	if err := env.svc.Logout(ctx, res.RefreshToken); err != nil {
		t.Fatalf("repeated Logout: %v", err)
	}
}

func TestRefreshExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registerVerified(t, "alice", "alice@example.com", "s3cret-pw")

	res, err := env.svc.Login(ctx, "alice@example.com", "s3cret-pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	*env.now = env.now.Add(8 * 24 * time.Hour)
	if _, _, err := env.svc.Refresh(ctx, res.RefreshToken); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expired token: want ErrForbidden, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.registerVerified(t, "alice", "alice@example.com", "s3cret-pw")

	res, err := env.svc.Login(ctx, "alice@example.com", "s3cret-pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := env.svc.ChangePassword(ctx, account.ID, "wrong", "new-pw-123"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("wrong current password: want ErrInvalidCredentials, got %v", err)
	}
	if err := env.svc.ChangePassword(ctx, account.ID, "s3cret-pw", "s3cret-pw"); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("password reuse: want ErrInvalidInput, got %v", err)
	}
	if err := env.svc.ChangePassword(ctx, account.ID, "s3cret-pw", "new-pw-123"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	// The change revokes the live refresh token.
	if _, _, err := env.svc.Refresh(ctx, res.RefreshToken); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("refresh after password change: want ErrForbidden, got %v", err)
	}
	if _, err := env.svc.Login(ctx, "alice@example.com", "s3cret-pw"); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("old password accepted after change")
	}
	if _, err := env.svc.Login(ctx, "alice@example.com", "new-pw-123"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestSetRoles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.registerVerified(t, "alice", "alice@example.com", "s3cret-pw")

	if _, err := env.svc.SetRoles(ctx, account.ID, []string{"doctor", "janitor"}); err == nil {
		t.Fatal("unknown role name must be rejected")
	}

	updated, err := env.svc.SetRoles(ctx, account.ID, []string{"doctor", "lab_tech"})
	if err != nil {
		t.Fatalf("SetRoles: %v", err)
	}
	if len(updated.Roles) != 2 {
		t.Fatalf("unexpected roles: %v", updated.Roles)
	}

	principal, err := env.svc.ResolvePrincipal(ctx, updated)
	if err != nil {
		t.Fatalf("ResolvePrincipal: %v", err)
	}
	if !principal.HasPermission(auth.PermUploadResults) || !principal.HasPermission(auth.PermCreateReport) {
		t.Fatal("principal is missing permissions granted by its roles")
	}
}
