package httpapi

import (
	"net/http"

	"clinvault.org/internal/auth"
)

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	_, ok := a.requireAny(w, r, auth.RoleAdmin)
	if !ok {
		return
	}
	accounts, err := a.auth.ListAccounts(r.Context())
	if err != nil {
		handleAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": accounts})
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	_, ok := a.requireAny(w, r, auth.RoleAdmin, auth.RoleDoctor)
	if !ok {
		return
	}
	account, err := a.auth.GetAccount(r.Context(), r.PathValue("id"))
	if err != nil {
		handleAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (a *API) handleUpdateUserRoles(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requireAny(w, r, auth.PermManageRoles)
	if !ok {
		return
	}
	var req struct {
		Roles []string `json:"roles"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	account, err := a.auth.SetRoles(r.Context(), r.PathValue("id"), req.Roles)
	if err != nil {
		handleAuthError(w, err)
		return
	}
	a.trail.RecordRequest(r, principal.Account.ID, "USER_ROLES_UPDATED", map[string]any{
		"targetUserId": account.ID,
		"roles":        account.Roles,
	})
	writeJSON(w, http.StatusOK, account)
}

func (a *API) handleUpdateUserLock(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requireAny(w, r, auth.RoleAdmin)
	if !ok {
		return
	}
	var req struct {
		Locked bool `json:"locked"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	account, err := a.auth.SetLocked(r.Context(), r.PathValue("id"), req.Locked)
	if err != nil {
		handleAuthError(w, err)
		return
	}
	action := "USER_UNLOCKED"
	if account.Locked {
		action = "USER_LOCKED"
	}
	a.trail.RecordRequest(r, principal.Account.ID, action, map[string]any{
		"targetUserId": account.ID,
	})
	writeJSON(w, http.StatusOK, account)
}
