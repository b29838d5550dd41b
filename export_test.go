package authcore

import "time"

// TOTPCodeAt computes the SHA1, 6 digit, 30 second code for secret at t.
func TOTPCodeAt(secret string, at time.Time) (string, error) {
	key, err := decodeTOTPSecret(secret)
	if err != nil {
		return "", err
	}
	return hotpCode(key, at.Unix()/30, 6, "SHA1")
}

// SetPasswordCheckHook observes every argon2id verification Authenticate runs.
func (e *Engine) SetPasswordCheckHook(fn func(placeholder bool)) {
	e.onPasswordCheck = fn
}
