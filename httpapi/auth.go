package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/modforge/authcore"
	"github.com/modforge/authcore/internal/logger"
)

const tokenTypeBearer = "Bearer"

// authHandler serves the account, password and login endpoints.
type authHandler struct {
	engine *authcore.Engine
}

// currentIdentity returns the caller resolved by the gate. Routes behind
// RequireIdentity always have one.
func currentIdentity(r *http.Request) *authcore.Identity {
	id, _ := authcore.IdentityFromContext(r.Context())
	return id
}

// Register handles POST /auth/register
func (h *authHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !bind(w, r, &req) {
		return
	}

	account, err := h.engine.Register(r.Context(), authcore.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toAccountResponse(account))
}

// Verify handles POST /auth/verify?token=
func (h *authHandler) Verify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeAppError(w, r, &authcore.ValidationError{Fields: map[string]string{"token": "is required"}})
		return
	}
	if err := h.engine.VerifyEmail(r.Context(), token); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeMessage(w, "email verified")
}

// ResendVerification handles POST /auth/resend-verification
func (h *authHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ResendVerification(r.Context(), currentIdentity(r).AccountID); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeMessage(w, "verification email sent")
}

// ForgotPassword handles POST /auth/forgot-password. The answer never
// depends on whether the address is registered.
func (h *authHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !bind(w, r, &req) {
		return
	}
	if err := h.engine.InitiatePasswordReset(r.Context(), req.Email); err != nil {
		logger.FromContext(r.Context()).WarnContext(r.Context(), "password reset not started", slog.String("error", err.Error()))
	}
	writeMessage(w, "if the email exists, a password reset link has been sent")
}

// ResetPassword handles POST /auth/reset-password
func (h *authHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !bind(w, r, &req) {
		return
	}
	if err := h.engine.CompletePasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeMessage(w, "password has been reset")
}

// SetCredentials handles PUT /auth/credentials
func (h *authHandler) SetCredentials(w http.ResponseWriter, r *http.Request) {
	var req setCredentialsRequest
	if !bind(w, r, &req) {
		return
	}
	if err := h.engine.SetCredentials(r.Context(), currentIdentity(r).AccountID, req.Email, req.Password); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeMessage(w, "credentials updated")
}

// ChangePassword handles POST /auth/change-password. A wrong current
// password is a 400.
func (h *authHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !bind(w, r, &req) {
		return
	}
	err := h.engine.ChangePassword(r.Context(), currentIdentity(r).AccountID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		if errors.Is(err, authcore.ErrInvalidCredentials) {
			writeError(w, r, http.StatusBadRequest, "INVALID_CREDENTIALS", "current password is incorrect")
			return
		}
		writeAppError(w, r, err)
		return
	}
	writeMessage(w, "password changed")
}

// SignIn handles POST /auth/signin. MFA accounts get 202 with a pre-auth
// token instead of tokens.
func (h *authHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !bind(w, r, &req) {
		return
	}

	result, err := h.engine.SignIn(r.Context(), req.Username, req.Password)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if result.MFARequired {
		writeData(w, http.StatusAccepted, mfaChallengeResponse{MFARequired: true, PreAuthToken: result.PreAuthToken})
		return
	}
	h.writeLogin(w, r, result)
}

// ValidateLogin handles POST /auth/mfa/validate-login
func (h *authHandler) ValidateLogin(w http.ResponseWriter, r *http.Request) {
	var req validateLoginRequest
	if !bind(w, r, &req) {
		return
	}

	result, err := h.engine.CompleteMFALogin(r.Context(), req.PreAuthToken, req.Code)
	if err != nil {
		ae := classify(err)
		if errors.Is(err, authcore.ErrInvalidOrExpiredToken) || errors.Is(err, authcore.ErrInvalidOTP) {
			ae.Status = http.StatusUnauthorized
		}
		writeClassified(w, r, err, ae)
		return
	}
	h.writeLogin(w, r, result)
}

func (h *authHandler) writeLogin(w http.ResponseWriter, r *http.Request, result *authcore.LoginResult) {
	h.engine.SetTokenCookie(w, r, result.RefreshToken)
	writeData(w, http.StatusOK, loginResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    tokenTypeBearer,
		User:         toAccountResponse(result.Account),
	})
}

// Refresh handles POST /auth/refresh. The token comes from the body or,
// failing that, the refresh cookie.
func (h *authHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !bindOptional(w, r, &req) {
		return
	}
	token := req.RefreshToken
	if token == "" {
		token = h.engine.RefreshTokenFromRequest(r)
	}
	if token == "" {
		writeAppError(w, r, authcore.ErrUnauthorized)
		return
	}

	result, err := h.engine.Refresh(r.Context(), token)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, refreshResponse{
		AccessToken: result.AccessToken,
		TokenType:   tokenTypeBearer,
		User:        toAccountResponse(result.Account),
	})
}

// SignOut handles POST /auth/signout. Issued tokens stay valid until they
// expire; only the refresh cookie is cleared.
func (h *authHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.engine.ClearTokenCookie(w, r)
	writeMessage(w, "signed out")
}

// DeleteMe handles DELETE /auth/me. The account is soft-deleted and the
// refresh cookie cleared.
func (h *authHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteAccount(r.Context(), currentIdentity(r).AccountID); err != nil {
		writeAppError(w, r, err)
		return
	}
	h.engine.ClearTokenCookie(w, r)
	writeMessage(w, "account deleted")
}

// Me handles GET /auth/me
func (h *authHandler) Me(w http.ResponseWriter, r *http.Request) {
	account, err := h.engine.GetAccount(r.Context(), currentIdentity(r).AccountID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toAccountResponse(account))
}
