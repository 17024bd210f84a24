package auth

import (
	"github.com/pquerna/otp/totp"
)

// GenerateTOTPSecret creates a fresh TOTP secret for MFA enrollment and the
// otpauth provisioning URI an authenticator app consumes.
func GenerateTOTPSecret(issuer, accountName string) (secret, uri string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// ValidateTOTP checks a 6-digit code against the enrolled secret using the
// standard 30-second step with one step of skew tolerance either way.
func ValidateTOTP(code, secret string) bool {
	return totp.Validate(code, secret)
}
