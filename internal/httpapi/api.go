// Package httpapi is the HTTP boundary: routing, bearer authentication, the
// per-route authorization chains, and the thin handlers around the session,
// records and audit services.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"clinvault.org/internal/audit"
	"clinvault.org/internal/auth"
	"clinvault.org/internal/authz"
	"clinvault.org/internal/obs"
	"clinvault.org/internal/records"
)

// Pinger reports readiness of the backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config wires the API's collaborators.
type Config struct {
	Auth    *auth.Service
	Records *records.Service
	Trail   *audit.Trail

	// ReadChain guards GET /tests/{id}; UploadChain guards POST /tests/upload.
	ReadChain   authz.Chain
	UploadChain authz.Chain

	Ready   Pinger
	Version string

	// Clock overrides the time source for window evaluation (tests).
	Clock func() time.Time
}

// API is the HTTP layer.
type API struct {
	mux         *http.ServeMux
	auth        *auth.Service
	records     *records.Service
	trail       *audit.Trail
	readChain   authz.Chain
	uploadChain authz.Chain
	ready       Pinger
	version     string
	now         func() time.Time
}

// New builds the router.
func New(cfg Config) *API {
	a := &API{
		mux:         http.NewServeMux(),
		auth:        cfg.Auth,
		records:     cfg.Records,
		trail:       cfg.Trail,
		readChain:   cfg.ReadChain,
		uploadChain: cfg.UploadChain,
		ready:       cfg.Ready,
		version:     cfg.Version,
		now:         cfg.Clock,
	}
	if a.now == nil {
		a.now = time.Now
	}

	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.HandleFunc("GET /readyz", a.handleReadyz)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /auth/register", a.handleRegister)
	a.mux.HandleFunc("GET /auth/verifyemail/{token}", a.handleVerifyEmail)
	a.mux.HandleFunc("POST /auth/login", a.handleLogin)
	a.mux.HandleFunc("POST /auth/login/mfa/verify", a.handleLoginMFAVerify)
	a.mux.HandleFunc("POST /auth/mfa/setup", a.handleMFASetup)
	a.mux.HandleFunc("POST /auth/mfa/verify", a.handleMFAConfirm)
	a.mux.HandleFunc("POST /auth/change-password", a.handleChangePassword)
	a.mux.HandleFunc("GET /auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("GET /auth/logout", a.handleLogout)

	a.mux.HandleFunc("POST /tests", a.handleCreateTest)
	a.mux.HandleFunc("GET /tests/{id}", a.handleGetTest)
	a.mux.HandleFunc("POST /tests/upload", a.handleUploadTest)
	a.mux.HandleFunc("POST /tests/{id}/share", a.handleShareTest)

	a.mux.HandleFunc("GET /users", a.handleListUsers)
	a.mux.HandleFunc("GET /users/{id}", a.handleGetUser)
	a.mux.HandleFunc("PATCH /users/{id}/roles", a.handleUpdateUserRoles)
	a.mux.HandleFunc("PATCH /users/{id}/lock", a.handleUpdateUserLock)

	a.mux.HandleFunc("GET /audit-logs", a.handleAuditLogs)

	return a
}

// Handler assembles the middleware stack around the router. The rate limiter
// runs first so throttled requests never reach authentication.
func (a *API) Handler(ratePerSecond, rateBurst int, maxBodyBytes int64) http.Handler {
	h := a.withAuth(a.mux)
	h = Logging(h)
	h = RateLimit(h, ratePerSecond, rateBurst)
	h = MaxBodyBytes(h, maxBodyBytes)
	h = SecurityHeaders(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "clinvault-api",
		"version": a.version,
	})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.ready.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// requirePrincipal extracts the authenticated principal or writes a 401.
func (a *API) requirePrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return auth.Principal{}, false
	}
	return principal, true
}

// requireAny gates a route on the coarse any-of role/permission test and
// writes the 403 (with the evaluator's reason) itself on denial.
func (a *API) requireAny(w http.ResponseWriter, r *http.Request, required ...string) (auth.Principal, bool) {
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return auth.Principal{}, false
	}
	guard := authz.RolePermission{Mode: authz.AnyOf, Required: required}
	verdict, err := guard.Evaluate(r.Context(), authz.Input{Principal: principal}, &authz.State{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server error")
		return auth.Principal{}, false
	}
	if !verdict.Allow {
		obs.ObserveAuthzDenial(verdict.Evaluator)
		writeError(w, http.StatusForbidden, verdict.Reason)
		return auth.Principal{}, false
	}
	return principal, true
}
