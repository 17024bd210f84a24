package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token kinds carried in the token_type claim. A token is only accepted for
// the purpose its kind names; an MFA-pending token cannot act as an access
// token and vice versa.
const (
	tokenKindAccess     = "access"
	tokenKindRefresh    = "refresh"
	tokenKindMFAPending = "mfa_pending"
)

// Claims are the JWT claims minted by the session service.
type Claims struct {
	Kind  string   `json:"token_type"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

func (s *Service) signToken(kind, subject string, roles []string, ttl time.Duration) (string, time.Time, error) {
	now := s.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		Kind:  kind,
		Roles: NormalizeRoleNames(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// parseToken verifies signature, expiry, issuer and kind. All failures
// collapse to ErrInvalidOrExpiredToken; callers narrow the error per
// operation (refresh vs. MFA verify).
func (s *Service) parseToken(raw, wantKind string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidOrExpiredToken
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidOrExpiredToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }))
	if err != nil {
		return nil, ErrInvalidOrExpiredToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidOrExpiredToken
	}
	if claims.Kind != wantKind {
		return nil, ErrInvalidOrExpiredToken
	}
	if claims.Issuer != s.issuer {
		return nil, ErrInvalidOrExpiredToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidOrExpiredToken
	}
	return claims, nil
}
