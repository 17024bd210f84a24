// Package notify defines the outbound-message boundary. Real delivery is an
// external concern; the service only depends on this contract.
package notify

import (
	"context"

	"clinvault.org/internal/obs"
)

// Notifier delivers the email-verification message carrying the raw token.
type Notifier interface {
	SendVerification(ctx context.Context, email, rawToken string) error
}

// LogNotifier writes the message to the structured log instead of sending it.
// Used in development and tests.
type LogNotifier struct{}

// SendVerification logs the verification token for the given address.
func (LogNotifier) SendVerification(_ context.Context, email, rawToken string) error {
	obs.LogRequest(map[string]any{
		"level": "info",
		"msg":   "verification message",
		"email": email,
		"token": rawToken,
	})
	return nil
}
