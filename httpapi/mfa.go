package httpapi

import (
	"net/http"
)

// SetupMFA handles GET /auth/mfa/setup. Each call replaces any pending
// secret; nothing is enabled until VerifyMFA succeeds.
func (h *authHandler) SetupMFA(w http.ResponseWriter, r *http.Request) {
	setup, err := h.engine.SetupMFA(r.Context(), currentIdentity(r).AccountID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeData(w, http.StatusOK, mfaSetupResponse{
		Secret:     setup.Secret,
		QRCode:     setup.QRCode,
		OTPAuthURI: setup.OTPAuthURI,
	})
}

// VerifyMFA handles POST /auth/mfa/verify
func (h *authHandler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !bind(w, r, &req) {
		return
	}
	if err := h.engine.ConfirmMFA(r.Context(), currentIdentity(r).AccountID, req.Code); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeMessage(w, "two-factor authentication enabled")
}

// DisableMFA handles POST /auth/mfa/disable
func (h *authHandler) DisableMFA(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !bind(w, r, &req) {
		return
	}
	if err := h.engine.DisableMFA(r.Context(), currentIdentity(r).AccountID, req.Code); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeMessage(w, "two-factor authentication disabled")
}
