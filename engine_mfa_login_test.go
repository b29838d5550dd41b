package authcore_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/modforge/authcore"
)

func enableMFA(t *testing.T, env *testEnv, accountID string) string {
	t.Helper()
	setup, err := env.engine.SetupMFA(context.Background(), accountID)
	if err != nil {
		t.Fatalf("SetupMFA failed: %v", err)
	}
	if err := env.engine.ConfirmMFA(context.Background(), accountID, totpCode(t, setup.Secret, env.clock.Now())); err != nil {
		t.Fatalf("ConfirmMFA failed: %v", err)
	}
	return setup.Secret
}

func TestSetupMFAIsPendingUntilConfirmed(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "alice@example.com", "correct-horse-battery")

	setup, err := env.engine.SetupMFA(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("SetupMFA failed: %v", err)
	}
	if !strings.HasPrefix(setup.QRCode, "data:image/png;base64,") {
		t.Fatal("expected QR data URI")
	}
	if !strings.HasPrefix(setup.OTPAuthURI, "otpauth://totp/") {
		t.Fatalf("unexpected otpauth uri %q", setup.OTPAuthURI)
	}

	stored, _ := env.store.GetAccountByID(context.Background(), account.ID)
	if stored.MFA != authcore.MFAPending {
		t.Fatalf("expected pending, got %s", stored.MFA)
	}

	res, err := env.engine.SignIn(context.Background(), "alice", "correct-horse-battery")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if res.MFARequired {
		t.Fatal("pending enrollment must not require a code at login")
	}

	if err := env.engine.ConfirmMFA(context.Background(), account.ID, wrongCode(t, setup.Secret, env.clock.Now())); !errors.Is(err, authcore.ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP, got %v", err)
	}
	if err := env.engine.ConfirmMFA(context.Background(), account.ID, totpCode(t, setup.Secret, env.clock.Now())); err != nil {
		t.Fatalf("ConfirmMFA failed: %v", err)
	}

	if _, err := env.engine.SetupMFA(context.Background(), account.ID); !errors.Is(err, authcore.ErrMFAAlreadyEnabled) {
		t.Fatalf("expected ErrMFAAlreadyEnabled, got %v", err)
	}
}

func TestConfirmMFAWithoutSetup(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "alice@example.com", "correct-horse-battery")
	if err := env.engine.ConfirmMFA(context.Background(), account.ID, "123456"); !errors.Is(err, authcore.ErrMFANotPending) {
		t.Fatalf("expected ErrMFANotPending, got %v", err)
	}
	if err := env.engine.DisableMFA(context.Background(), account.ID, "123456"); !errors.Is(err, authcore.ErrMFANotEnabled) {
		t.Fatalf("expected ErrMFANotEnabled, got %v", err)
	}
}

func TestSignInWithMFARequiresSecondStep(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "alice@example.com", "correct-horse-battery")
	secret := enableMFA(t, env, account.ID)

	res, err := env.engine.SignIn(context.Background(), "alice", "correct-horse-battery")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if !res.MFARequired || res.PreAuthToken == "" {
		t.Fatalf("expected MFA challenge, got %+v", res)
	}
	if res.AccessToken != "" || res.RefreshToken != "" {
		t.Fatal("no session tokens may be issued before the second factor")
	}

	if _, err := env.engine.ValidateToken(res.PreAuthToken, authcore.TokenAccess); !errors.Is(err, authcore.ErrTokenInvalid) {
		t.Fatalf("pre-auth token must not pass as access token: %v", err)
	}

	if _, err := env.engine.CompleteMFALogin(context.Background(), res.PreAuthToken, wrongCode(t, secret, env.clock.Now())); !errors.Is(err, authcore.ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP, got %v", err)
	}

	done, err := env.engine.CompleteMFALogin(context.Background(), res.PreAuthToken, totpCode(t, secret, env.clock.Now()))
	if err != nil {
		t.Fatalf("CompleteMFALogin failed: %v", err)
	}
	if done.AccessToken == "" || done.RefreshToken == "" {
		t.Fatal("expected token pair after second factor")
	}
	claims, err := env.engine.ValidateToken(done.AccessToken, authcore.TokenAccess)
	if err != nil || claims.UserID() != account.ID {
		t.Fatalf("access token invalid: %v", err)
	}
}

func TestCompleteMFALoginRejectsExpiredPreAuth(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "alice@example.com", "correct-horse-battery")
	secret := enableMFA(t, env, account.ID)

	res, err := env.engine.SignIn(context.Background(), "alice", "correct-horse-battery")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	env.clock.Advance(6 * time.Minute)
	_, err = env.engine.CompleteMFALogin(context.Background(), res.PreAuthToken, totpCode(t, secret, env.clock.Now()))
	if !errors.Is(err, authcore.ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken, got %v", err)
	}
}

func TestCompleteMFALoginRejectsOtherTokenTypes(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "alice@example.com", "correct-horse-battery")
	secret := enableMFA(t, env, account.ID)

	access, err := env.engine.GenerateAccessToken(account)
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}
	_, err = env.engine.CompleteMFALogin(context.Background(), access, totpCode(t, secret, env.clock.Now()))
	if !errors.Is(err, authcore.ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken, got %v", err)
	}
}

func TestDisableMFA(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "alice@example.com", "correct-horse-battery")
	secret := enableMFA(t, env, account.ID)

	if err := env.engine.DisableMFA(context.Background(), account.ID, wrongCode(t, secret, env.clock.Now())); !errors.Is(err, authcore.ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP, got %v", err)
	}
	if err := env.engine.DisableMFA(context.Background(), account.ID, totpCode(t, secret, env.clock.Now())); err != nil {
		t.Fatalf("DisableMFA failed: %v", err)
	}

	res, err := env.engine.SignIn(context.Background(), "alice", "correct-horse-battery")
	if err != nil || res.MFARequired {
		t.Fatalf("expected direct login after disable, res=%+v err=%v", res, err)
	}
}

func TestRefreshIssuesAccessToken(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "alice@example.com", "correct-horse-battery")

	res, err := env.engine.SignIn(context.Background(), "alice", "correct-horse-battery")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if !env.engine.IsRefreshToken(res.RefreshToken) || env.engine.IsRefreshToken(res.AccessToken) {
		t.Fatal("IsRefreshToken misclassified tokens")
	}

	env.clock.Advance(20 * time.Minute)
	if _, err := env.engine.ValidateToken(res.AccessToken, authcore.TokenAccess); !errors.Is(err, authcore.ErrTokenExpired) {
		t.Fatalf("expected expired access token, got %v", err)
	}

	refreshed, err := env.engine.Refresh(context.Background(), res.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	claims, err := env.engine.ValidateToken(refreshed.AccessToken, authcore.TokenAccess)
	if err != nil || claims.UserID() != account.ID {
		t.Fatalf("refreshed access token invalid: %v", err)
	}

	if _, err := env.engine.Refresh(context.Background(), res.AccessToken); !errors.Is(err, authcore.ErrTokenExpired) && !errors.Is(err, authcore.ErrTokenInvalid) {
		t.Fatalf("access token must not refresh: %v", err)
	}
	if _, err := env.engine.Refresh(context.Background(), refreshed.AccessToken); !errors.Is(err, authcore.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for access token, got %v", err)
	}
}

func TestTamperedTokenIsInvalidNotExpired(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "alice@example.com", "correct-horse-battery")
	access, err := env.engine.GenerateAccessToken(account)
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	tampered := access[:len(access)-2] + flip(access[len(access)-2:])
	if _, err := env.engine.ValidateToken(tampered, authcore.TokenAccess); !errors.Is(err, authcore.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	if _, err := env.engine.GetUserIDFromToken("garbage"); !errors.Is(err, authcore.ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestGetUserIDFromTokenAcceptsOnlyAccess(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "alice@example.com", "correct-horse-battery")

	access, err := env.engine.GenerateAccessToken(account)
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}
	refresh, err := env.engine.GenerateRefreshToken(account)
	if err != nil {
		t.Fatalf("GenerateRefreshToken failed: %v", err)
	}
	preAuth, err := env.engine.GeneratePreAuthToken(account.ID)
	if err != nil {
		t.Fatalf("GeneratePreAuthToken failed: %v", err)
	}

	id, err := env.engine.GetUserIDFromToken(access)
	if err != nil || id != account.ID {
		t.Fatalf("GetUserIDFromToken(access) = %q, %v", id, err)
	}
	for name, token := range map[string]string{"refresh": refresh, "pre-auth": preAuth} {
		if id, err := env.engine.GetUserIDFromToken(token); !errors.Is(err, authcore.ErrTokenInvalid) || id != "" {
			t.Fatalf("%s token: got %q, %v; want ErrTokenInvalid", name, id, err)
		}
	}
}

func flip(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] == 'A' {
			b[i] = 'B'
		} else {
			b[i] = 'A'
		}
	}
	return string(b)
}

// wrongCode returns a six digit code that is not valid for secret at any
// step inside the default skew window.
func wrongCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	valid := map[string]bool{}
	for _, d := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		valid[totpCode(t, secret, at.Add(d))] = true
	}
	for _, c := range []string{"000000", "111111", "222222", "333333"} {
		if !valid[c] {
			return c
		}
	}
	t.Fatal("could not find an invalid code")
	return ""
}
