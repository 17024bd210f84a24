package httpapi

import (
	"errors"
	"net/http"
	"time"

	"clinvault.org/internal/auth"
	"clinvault.org/internal/obs"
)

// refreshCookieName carries the refresh token between the browser and the
// /auth endpoints. It is never readable by scripts.
const refreshCookieName = "refresh_token"

func setRefreshCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     "/auth",
		Expires:  expires,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username   string `json:"username"`
		Email      string `json:"email"`
		Password   string `json:"password"`
		Department string `json:"department"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	account, err := a.auth.Register(r.Context(), req.Username, req.Email, req.Password, req.Department)
	if err != nil {
		handleAuthError(w, err)
		return
	}
	a.trail.RecordRequest(r, account.ID, "USER_REGISTERED", map[string]any{
		"username": account.Username,
		"email":    account.Email,
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Registration successful. Please check your email to verify your account.",
		"user": map[string]any{
			"id":       account.ID,
			"username": account.Username,
			"email":    account.Email,
			"roles":    account.Roles,
		},
	})
}

func (a *API) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	account, err := a.auth.VerifyEmail(r.Context(), r.PathValue("token"))
	if err != nil {
		handleAuthError(w, err)
		return
	}
	a.trail.RecordRequest(r, account.ID, "EMAIL_VERIFIED", map[string]any{
		"email": account.Email,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Email verified successfully. You can now log in.",
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	res, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		obs.ObserveLogin(loginFailureResult(err))
		handleAuthError(w, err)
		return
	}
	if res.MFARequired {
		obs.ObserveLogin("mfa_pending")
		writeJSON(w, http.StatusOK, map[string]any{
			"mfaRequired": true,
			"mfaToken":    res.MFAToken,
		})
		return
	}
	obs.ObserveLogin("success")
	a.trail.RecordRequest(r, res.Account.ID, "USER_LOGIN", map[string]any{
		"email": res.Account.Email,
	})
	setRefreshCookie(w, res.RefreshToken, res.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken": res.AccessToken,
		"expiresAt":   res.AccessExpiresAt.UTC().Format(time.RFC3339),
	})
}

func loginFailureResult(err error) string {
	switch {
	case errors.Is(err, auth.ErrAccountLocked):
		return "locked"
	case errors.Is(err, auth.ErrEmailNotVerified):
		return "unverified"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "invalid_credentials"
	default:
		return "error"
	}
}

func (a *API) handleLoginMFAVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MFAToken string `json:"mfaToken"`
		Code     string `json:"code"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	res, err := a.auth.VerifyMFALogin(r.Context(), req.MFAToken, req.Code)
	if err != nil {
		obs.ObserveLogin("mfa_failed")
		handleAuthError(w, err)
		return
	}
	obs.ObserveLogin("success")
	a.trail.RecordRequest(r, res.Account.ID, "USER_LOGIN", map[string]any{
		"email": res.Account.Email,
		"mfa":   true,
	})
	setRefreshCookie(w, res.RefreshToken, res.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken": res.AccessToken,
		"expiresAt":   res.AccessExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (a *API) handleMFASetup(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	secret, uri, err := a.auth.SetupMFA(r.Context(), principal.Account.ID)
	if err != nil {
		handleAuthError(w, err)
		return
	}
	a.trail.RecordRequest(r, principal.Account.ID, "MFA_SETUP", nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"secret":     secret,
		"otpauthUrl": uri,
	})
}

func (a *API) handleMFAConfirm(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if err := a.auth.ConfirmMFA(r.Context(), principal.Account.ID, req.Code); err != nil {
		handleAuthError(w, err)
		return
	}
	a.trail.RecordRequest(r, principal.Account.ID, "MFA_ENABLED", nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "MFA enabled successfully.",
	})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	if err := a.auth.ChangePassword(r.Context(), principal.Account.ID, req.CurrentPassword, req.NewPassword); err != nil {
		handleAuthError(w, err)
		return
	}
	a.trail.RecordRequest(r, principal.Account.ID, "PASSWORD_CHANGED", nil)
	// Existing sessions are revoked, so the cookie is stale either way.
	clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Password changed successfully. Please log in again.",
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing refresh token")
		return
	}
	accessToken, expiresAt, err := a.auth.Refresh(r.Context(), cookie.Value)
	if err != nil {
		handleAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken": accessToken,
		"expiresAt":   expiresAt.UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(refreshCookieName); err == nil {
		if err := a.auth.Logout(r.Context(), cookie.Value); err != nil {
			handleAuthError(w, err)
			return
		}
	}
	clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}
