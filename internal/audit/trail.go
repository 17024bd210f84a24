// Package audit is the tamper-resistant trail of security-relevant events.
// Payloads are encrypted before persistence and the store is append-only;
// recording is best-effort and never aborts the operation it accompanies.
package audit

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"clinvault.org/internal/ids"
	"clinvault.org/internal/obs"
)

// Entry is the persisted form: opaque ciphertext plus its nonce. The
// plaintext payload is never stored.
type Entry struct {
	ID         string    `json:"id"`
	IV         string    `json:"iv"`
	Ciphertext string    `json:"ciphertext"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is the append-only persistence contract.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	// ListAll returns all entries newest-first.
	ListAll(ctx context.Context) ([]*Entry, error)
}

// payload is the encrypted document shape.
type payload struct {
	UserID    *string        `json:"userId"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details"`
	Timestamp time.Time      `json:"timestamp"`
}

// Trail records and queries encrypted audit events.
type Trail struct {
	cipher *Cipher
	store  Store
	now    func() time.Time
}

// TrailOption configures Trail behavior.
type TrailOption func(*Trail)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) TrailOption {
	return func(t *Trail) {
		if fn != nil {
			t.now = fn
		}
	}
}

// NewTrail constructs the audit trail.
func NewTrail(cipher *Cipher, store Store, opts ...TrailOption) *Trail {
	t := &Trail{cipher: cipher, store: store, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record encrypts and appends one event. Failures are logged and counted,
// never propagated; the business operation already happened.
func (t *Trail) Record(ctx context.Context, actorID, action string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	p := payload{
		Action:    action,
		Details:   details,
		Timestamp: t.now().UTC(),
	}
	if actorID != "" {
		p.UserID = &actorID
	}
	plaintext, err := json.Marshal(p)
	if err != nil {
		t.observeFailure(action, err)
		return
	}
	iv, ciphertext, err := t.cipher.Encrypt(plaintext)
	if err != nil {
		t.observeFailure(action, err)
		return
	}
	entry := &Entry{
		ID:         ids.New(),
		IV:         iv,
		Ciphertext: ciphertext,
		CreatedAt:  t.now().UTC(),
	}
	if err := t.store.Append(ctx, entry); err != nil {
		t.observeFailure(action, err)
		return
	}
	obs.ObserveAuditWrite("ok")
}

// RecordRequest is Record enriched with request metadata, so request context
// is captured even though the HTTP layer is out of the trail's scope.
func (t *Trail) RecordRequest(r *http.Request, actorID, action string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["request"] = map[string]any{
		"ip":        clientIP(r),
		"userAgent": r.UserAgent(),
		"path":      r.URL.Path,
		"method":    r.Method,
	}
	t.Record(r.Context(), actorID, action, details)
}

func (t *Trail) observeFailure(action string, err error) {
	obs.ObserveAuditWrite("error")
	obs.LogError("audit record failed", map[string]any{
		"action": action,
		"error":  err.Error(),
	})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
