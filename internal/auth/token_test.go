package auth

import (
	"strings"
	"testing"
	"time"

	"clinvault.org/internal/notify"
	"golang.org/x/crypto/bcrypt"
)

func newTokenService(t *testing.T, now *time.Time) *Service {
	t.Helper()
	svc := &Service{
		secret:           []byte("test-secret"),
		issuer:           "clinvault-test",
		now:              func() time.Time { return *now },
		accessTTL:        defaultAccessTTL,
		refreshTTL:       defaultRefreshTTL,
		mfaPendingTTL:    defaultMFAPendingTTL,
		verificationTTL:  defaultVerificationTTL,
		lockoutThreshold: defaultLockoutThreshold,
		bcryptCost:       bcrypt.MinCost,
		notifier:         notify.LogNotifier{},
	}
	return svc
}

func TestTokenKindIsEnforced(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	svc := newTokenService(t, &now)

	access, _, err := svc.signToken(tokenKindAccess, "acc-1", []string{"Doctor", "doctor"}, svc.accessTTL)
	if err != nil {
		t.Fatalf("signToken: %v", err)
	}

	claims, err := svc.parseToken(access, tokenKindAccess)
	if err != nil {
		t.Fatalf("parseToken: %v", err)
	}
	if claims.Subject != "acc-1" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "doctor" {
		t.Fatalf("roles not normalized: %v", claims.Roles)
	}

	// An access token does not pass as refresh or MFA-pending.
	if _, err := svc.parseToken(access, tokenKindRefresh); err == nil {
		t.Fatal("access token accepted as refresh")
	}
	if _, err := svc.parseToken(access, tokenKindMFAPending); err == nil {
		t.Fatal("access token accepted as mfa_pending")
	}
}

func TestTokenExpiry(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	svc := newTokenService(t, &now)

	access, exp, err := svc.signToken(tokenKindAccess, "acc-1", nil, svc.accessTTL)
	if err != nil {
		t.Fatalf("signToken: %v", err)
	}
	if !exp.Equal(now.Add(svc.accessTTL)) {
		t.Fatalf("unexpected expiry: %v", exp)
	}

	now = now.Add(svc.accessTTL + time.Second)
	if _, err := svc.parseToken(access, tokenKindAccess); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestTokenIssuerAndTamper(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	svc := newTokenService(t, &now)

	access, _, err := svc.signToken(tokenKindAccess, "acc-1", nil, svc.accessTTL)
	if err != nil {
		t.Fatalf("signToken: %v", err)
	}

	other := newTokenService(t, &now)
	other.issuer = "someone-else"
	if _, err := other.parseToken(access, tokenKindAccess); err == nil {
		t.Fatal("foreign issuer accepted")
	}

	parts := strings.Split(access, ".")
	tampered := parts[0] + "." + parts[1] + ".AAAA" + parts[2][4:]
	if _, err := svc.parseToken(tampered, tokenKindAccess); err == nil {
		t.Fatal("tampered signature accepted")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret-pw", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "s3cret-pw" {
		t.Fatal("password stored in the clear")
	}
	if err := VerifyPassword(hash, "s3cret-pw"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Fatal("wrong password verified")
	}
	if _, err := HashPassword("", bcrypt.MinCost); err == nil {
		t.Fatal("empty password hashed")
	}

	// Same input, distinct salts.
	again, err := HashPassword("s3cret-pw", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == again {
		t.Fatal("two hashes of the same password are identical")
	}
}

func TestVerificationTokenHash(t *testing.T) {
	raw, hash, err := newVerificationToken()
	if err != nil {
		t.Fatalf("newVerificationToken: %v", err)
	}
	if len(raw) != 64 {
		t.Fatalf("raw token length: %d", len(raw))
	}
	if hash == raw {
		t.Fatal("hash equals the raw token")
	}
	if HashVerificationToken(raw) != hash {
		t.Fatal("hash is not reproducible from the raw token")
	}
}
