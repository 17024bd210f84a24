package httpapi

import (
	"net/http"

	"clinvault.org/internal/auth"
	"clinvault.org/internal/authz"
	"clinvault.org/internal/obs"
	"clinvault.org/internal/records"
)

func (a *API) handleCreateTest(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requireAny(w, r, auth.PermCreateReport)
	if !ok {
		return
	}
	var req struct {
		PatientID        string         `json:"patientId"`
		TestName         string         `json:"testName"`
		ResultData       map[string]any `json:"resultData"`
		Department       string         `json:"department"`
		SensitivityLevel int            `json:"sensitivityLevel"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	result, err := a.records.Create(r.Context(), principal.Account.ID, records.CreateParams{
		PatientID:        req.PatientID,
		TestName:         req.TestName,
		ResultData:       req.ResultData,
		Department:       req.Department,
		SensitivityLevel: req.SensitivityLevel,
	})
	if err != nil {
		handleRecordsError(w, err)
		return
	}
	a.trail.RecordRequest(r, principal.Account.ID, "CREATE_TEST_RESULT", map[string]any{
		"resultId":  result.ID,
		"patientId": result.PatientID,
		"testName":  result.TestName,
	})
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleGetTest(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	result, err := a.records.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		handleRecordsError(w, err)
		return
	}
	verdict, err := a.readChain.Evaluate(r.Context(), authz.Input{
		Principal: principal,
		Resource:  result,
		Now:       a.now(),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if !verdict.Allow {
		obs.ObserveAuthzDenial(verdict.Evaluator)
		a.trail.RecordRequest(r, principal.Account.ID, "TEST_RESULT_ACCESS_DENIED", map[string]any{
			"resultId": result.ID,
			"reason":   verdict.Reason,
		})
		writeError(w, http.StatusForbidden, verdict.Reason)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleUploadTest(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	verdict, err := a.uploadChain.Evaluate(r.Context(), authz.Input{Principal: principal, Now: a.now()})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if !verdict.Allow {
		obs.ObserveAuthzDenial(verdict.Evaluator)
		writeError(w, http.StatusForbidden, verdict.Reason)
		return
	}
	var req struct {
		PatientID        string         `json:"patientId"`
		TestName         string         `json:"testName"`
		ResultData       map[string]any `json:"resultData"`
		Department       string         `json:"department"`
		SensitivityLevel int            `json:"sensitivityLevel"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	result, err := a.records.Create(r.Context(), principal.Account.ID, records.CreateParams{
		PatientID:        req.PatientID,
		TestName:         req.TestName,
		ResultData:       req.ResultData,
		Department:       req.Department,
		SensitivityLevel: req.SensitivityLevel,
	})
	if err != nil {
		handleRecordsError(w, err)
		return
	}
	a.trail.RecordRequest(r, principal.Account.ID, "UPLOAD_TEST_RESULT", map[string]any{
		"resultId":  result.ID,
		"patientId": result.PatientID,
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Access granted: you can upload results at this time.",
		"result":  result,
	})
}

func (a *API) handleShareTest(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return
	}
	var req struct {
		UserID      string   `json:"userId"`
		Permissions []string `json:"permissions"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	result, err := a.records.Share(r.Context(), r.PathValue("id"), principal.Account.ID, req.UserID, req.Permissions)
	if err != nil {
		handleRecordsError(w, err)
		return
	}
	a.trail.RecordRequest(r, principal.Account.ID, "SHARE_TEST_RESULT", map[string]any{
		"resultId":    result.ID,
		"sharedWith":  req.UserID,
		"permissions": req.Permissions,
	})
	writeJSON(w, http.StatusOK, result)
}
