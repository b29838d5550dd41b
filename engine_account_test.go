package authcore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/modforge/authcore"
)

func TestRegisterCreatesUnverifiedAccount(t *testing.T) {
	env := newTestEnv(t)

	account := env.register(t, "alice", "Alice@Example.com", "correct-horse-battery")
	if account.ID == "" {
		t.Fatal("expected account id")
	}
	if account.Email != "alice@example.com" {
		t.Fatalf("expected normalized email, got %q", account.Email)
	}
	if account.EmailVerified {
		t.Fatal("new account must start unverified")
	}
	if account.Tier != "free" || len(account.Roles) != 1 || account.Roles[0] != "user" {
		t.Fatalf("unexpected defaults tier=%q roles=%v", account.Tier, account.Roles)
	}
	if account.PasswordHash == "" || account.PasswordHash == "correct-horse-battery" {
		t.Fatal("expected hashed password")
	}
	if env.notifier.verificationToken(account.ID) == "" {
		t.Fatal("expected verification token sent")
	}
	if len(env.notifier.registered) != 1 {
		t.Fatalf("expected one registration notice, got %d", len(env.notifier.registered))
	}
}

func TestRegisterRejectsDuplicateUsernameAnyCase(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com", "correct-horse-battery")

	_, err := env.engine.Register(context.Background(), authcore.RegisterInput{
		Username: "ALICE",
		Email:    "other@example.com",
		Password: "correct-horse-battery",
	})
	var verr *authcore.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, ok := verr.Fields["username"]; !ok {
		t.Fatalf("expected username field error, got %v", verr.Fields)
	}
	if !errors.Is(err, authcore.ErrValidation) {
		t.Fatal("ValidationError must match ErrValidation")
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com", "correct-horse-battery")

	_, err := env.engine.Register(context.Background(), authcore.RegisterInput{
		Username: "alice2",
		Email:    "ALICE@example.com",
		Password: "correct-horse-battery",
	})
	var verr *authcore.ValidationError
	if !errors.As(err, &verr) || verr.Fields["email"] == "" {
		t.Fatalf("expected email ValidationError, got %v", err)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	cfg := testConfig()
	cfg.EmailVerification.BlockedDomains = []string{"mailinator.com"}
	env := newTestEnvWithConfig(t, cfg)

	cases := map[string]struct {
		in    authcore.RegisterInput
		field string
	}{
		"short username": {authcore.RegisterInput{Username: "al", Email: "al@example.com", Password: "correct-horse-battery"}, "username"},
		"bad characters": {authcore.RegisterInput{Username: "al ice", Email: "al@example.com", Password: "correct-horse-battery"}, "username"},
		"bad email":      {authcore.RegisterInput{Username: "alice", Email: "not-an-email", Password: "correct-horse-battery"}, "email"},
		"missing email":  {authcore.RegisterInput{Username: "alice", Password: "correct-horse-battery"}, "email"},
		"blocked domain": {authcore.RegisterInput{Username: "alice", Email: "a@mailinator.com", Password: "correct-horse-battery"}, "email"},
		"short password": {authcore.RegisterInput{Username: "alice", Email: "a@example.com", Password: "short"}, "password"},
		"empty password": {authcore.RegisterInput{Username: "alice", Email: "a@example.com"}, "password"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.engine.Register(context.Background(), tc.in)
			var verr *authcore.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if _, ok := verr.Fields[tc.field]; !ok {
				t.Fatalf("expected %s field error, got %v", tc.field, verr.Fields)
			}
		})
	}
}

func TestRegisterRateLimitedPerIP(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Register = authcore.LimitConfig{Max: 2, Window: time.Hour}
	env := newTestEnvWithConfig(t, cfg)

	ctx := authcore.WithClientIP(context.Background(), "198.51.100.4")
	for i, name := range []string{"user1", "user2"} {
		_, err := env.engine.Register(ctx, authcore.RegisterInput{Username: name, Email: name + "@example.com", Password: "correct-horse-battery"})
		if err != nil {
			t.Fatalf("register %d failed: %v", i, err)
		}
	}
	_, err := env.engine.Register(ctx, authcore.RegisterInput{Username: "user3", Email: "user3@example.com", Password: "correct-horse-battery"})
	if !errors.Is(err, authcore.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	other := authcore.WithClientIP(context.Background(), "198.51.100.5")
	if _, err := env.engine.Register(other, authcore.RegisterInput{Username: "user3", Email: "user3@example.com", Password: "correct-horse-battery"}); err != nil {
		t.Fatalf("other ip should not be limited: %v", err)
	}
}

func TestAuthenticateByUsernameOrEmail(t *testing.T) {
	env := newTestEnv(t)
	created := env.register(t, "alice", "alice@example.com", "correct-horse-battery")

	for _, identifier := range []string{"alice", "ALICE", "alice@example.com", "Alice@Example.com"} {
		account, err := env.engine.Authenticate(context.Background(), identifier, "correct-horse-battery")
		if err != nil {
			t.Fatalf("Authenticate(%q) failed: %v", identifier, err)
		}
		if account.ID != created.ID {
			t.Fatalf("Authenticate(%q) returned %s, want %s", identifier, account.ID, created.ID)
		}
	}
}

func TestAuthenticateFailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	created := env.register(t, "alice", "alice@example.com", "correct-horse-battery")

	deleted := env.register(t, "bob", "bob@example.com", "correct-horse-battery")
	deleted.DeletedAt = ptrTime(env.clock.Now())
	if err := env.store.UpdateAccount(context.Background(), deleted); err != nil {
		t.Fatalf("soft delete failed: %v", err)
	}

	federated := &authcore.Account{ID: "fed-1", Username: "carol", Tier: "free"}
	if err := env.store.CreateAccount(context.Background(), federated); err != nil {
		t.Fatalf("create federated account: %v", err)
	}

	cases := map[string][2]string{
		"wrong password": {"alice", "wrong-password-1"},
		"unknown user":   {"nobody", "correct-horse-battery"},
		"deleted user":   {"bob", "correct-horse-battery"},
		"no password":    {"carol", "correct-horse-battery"},
		"empty password": {"alice", ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			account, err := env.engine.Authenticate(context.Background(), tc[0], tc[1])
			if !errors.Is(err, authcore.ErrInvalidCredentials) {
				t.Fatalf("expected ErrInvalidCredentials, got %v", err)
			}
			if account != nil {
				t.Fatal("expected no account on failure")
			}
		})
	}

	if _, err := env.engine.Authenticate(context.Background(), "alice", "correct-horse-battery"); err != nil {
		t.Fatalf("valid login after failures: %v (id %s)", err, created.ID)
	}
}

func TestAuthenticateHashesOnEveryFailurePath(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "alice@example.com", "correct-horse-battery")

	deleted := env.register(t, "bob", "bob@example.com", "correct-horse-battery")
	deleted.DeletedAt = ptrTime(env.clock.Now())
	if err := env.store.UpdateAccount(context.Background(), deleted); err != nil {
		t.Fatalf("soft delete failed: %v", err)
	}
	federated := &authcore.Account{ID: "fed-1", Username: "carol", Tier: "free"}
	if err := env.store.CreateAccount(context.Background(), federated); err != nil {
		t.Fatalf("create federated account: %v", err)
	}

	var checks []bool
	env.engine.SetPasswordCheckHook(func(placeholder bool) { checks = append(checks, placeholder) })

	cases := []struct {
		identifier      string
		wantPlaceholder bool
	}{
		{"alice", false},
		{"nobody", true},
		{"nobody@example.com", true},
		{"bob", true},
		{"carol", true},
	}
	for _, tc := range cases {
		checks = nil
		if _, err := env.engine.Authenticate(context.Background(), tc.identifier, "wrong-password-1"); !errors.Is(err, authcore.ErrInvalidCredentials) {
			t.Fatalf("%s: expected ErrInvalidCredentials, got %v", tc.identifier, err)
		}
		if len(checks) != 1 {
			t.Fatalf("%s: expected one password check, got %d", tc.identifier, len(checks))
		}
		if checks[0] != tc.wantPlaceholder {
			t.Fatalf("%s: placeholder=%v, want %v", tc.identifier, checks[0], tc.wantPlaceholder)
		}
	}

	// The placeholder never matches, whatever the caller sends.
	checks = nil
	if _, err := env.engine.Authenticate(context.Background(), "nobody", "correct-horse-battery"); !errors.Is(err, authcore.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if len(checks) != 1 {
		t.Fatalf("expected one password check, got %d", len(checks))
	}
}

func TestAuthenticateUpgradesLegacyBcryptHash(t *testing.T) {
	env := newTestEnv(t)

	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-password-1"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	account := &authcore.Account{ID: "legacy-1", Username: "oldtimer", PasswordHash: string(legacy), Tier: "free"}
	if err := env.store.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("create legacy account: %v", err)
	}

	if _, err := env.engine.Authenticate(context.Background(), "oldtimer", "legacy-password-1"); err != nil {
		t.Fatalf("legacy login failed: %v", err)
	}

	stored, err := env.store.GetAccountByID(context.Background(), "legacy-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.PasswordHash == string(legacy) {
		t.Fatal("expected bcrypt hash to be replaced")
	}
	if _, err := env.engine.Authenticate(context.Background(), "oldtimer", "legacy-password-1"); err != nil {
		t.Fatalf("login after upgrade failed: %v", err)
	}
}

func TestAuthenticateRateLimitedPerIdentifier(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Login = authcore.LimitConfig{Max: 3, Window: time.Minute}
	env := newTestEnvWithConfig(t, cfg)
	env.register(t, "alice", "alice@example.com", "correct-horse-battery")

	for i := 0; i < 3; i++ {
		_, _ = env.engine.Authenticate(context.Background(), "alice", "wrong-password-1")
	}
	_, err := env.engine.Authenticate(context.Background(), "alice", "correct-horse-battery")
	if !errors.Is(err, authcore.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	env.redis.FastForward(2 * time.Minute)
	if _, err := env.engine.Authenticate(context.Background(), "alice", "correct-horse-battery"); err != nil {
		t.Fatalf("expected login after window, got %v", err)
	}
}

func TestSetCredentialsOnFederatedAccount(t *testing.T) {
	env := newTestEnv(t)
	account := &authcore.Account{ID: "fed-1", Username: "carol", Tier: "free"}
	if err := env.store.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := env.engine.SetCredentials(context.Background(), "fed-1", "Carol@Example.com", "correct-horse-battery"); err != nil {
		t.Fatalf("SetCredentials failed: %v", err)
	}
	if env.notifier.verificationToken("fed-1") == "" {
		t.Fatal("expected verification token for the new email")
	}
	if _, err := env.engine.Authenticate(context.Background(), "carol@example.com", "correct-horse-battery"); err != nil {
		t.Fatalf("login with new credentials failed: %v", err)
	}

	err := env.engine.SetCredentials(context.Background(), "fed-1", "", "another-password-1")
	var verr *authcore.ValidationError
	if !errors.As(err, &verr) || verr.Fields["password"] == "" {
		t.Fatalf("expected password already set error, got %v", err)
	}
}

func TestGetAccountRejectsDeleted(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "alice@example.com", "correct-horse-battery")
	account.DeletedAt = ptrTime(env.clock.Now())
	if err := env.store.UpdateAccount(context.Background(), account); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	if _, err := env.engine.GetAccount(context.Background(), account.ID); !errors.Is(err, authcore.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

func TestDeleteAccountLocksEveryEntryPoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.register(t, "alice", "alice@example.com", "correct-horse-battery")

	refresh, err := env.engine.GenerateRefreshToken(account)
	if err != nil {
		t.Fatalf("GenerateRefreshToken failed: %v", err)
	}
	preAuth, err := env.engine.GeneratePreAuthToken(account.ID)
	if err != nil {
		t.Fatalf("GeneratePreAuthToken failed: %v", err)
	}
	key, err := env.engine.CreateAPIKey(ctx, account.ID, "ci")
	if err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}

	if err := env.engine.DeleteAccount(ctx, account.ID); err != nil {
		t.Fatalf("DeleteAccount failed: %v", err)
	}
	stored, err := env.store.GetAccountByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.DeletedAt == nil || !stored.DeletedAt.Equal(env.clock.Now()) {
		t.Fatalf("expected DeletedAt %v, got %v", env.clock.Now(), stored.DeletedAt)
	}

	if _, err := env.engine.Authenticate(ctx, "alice", "correct-horse-battery"); !errors.Is(err, authcore.ErrInvalidCredentials) {
		t.Fatalf("login: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := env.engine.Refresh(ctx, refresh); err == nil {
		t.Fatal("refresh: expected rejection")
	}
	if _, ok := env.engine.ValidatePreAuthToken(ctx, preAuth); ok {
		t.Fatal("pre-auth: expected rejection")
	}
	resolved, err := env.engine.ResolveKey(ctx, key.Secret)
	if err != nil {
		t.Fatalf("ResolveKey failed: %v", err)
	}
	if _, err := env.engine.GetUserFromKey(ctx, resolved); !errors.Is(err, authcore.ErrUnauthorized) {
		t.Fatalf("api key owner: expected ErrUnauthorized, got %v", err)
	}

	if err := env.engine.DeleteAccount(ctx, account.ID); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
	if err := env.engine.DeleteAccount(ctx, "missing"); !errors.Is(err, authcore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	env.engine.Close()
	var deletes int
	for len(env.audit.Events()) > 0 {
		ev := <-env.audit.Events()
		if ev.EventType == "account_deleted" && ev.Success && ev.UserID == account.ID {
			deletes++
		}
	}
	if deletes != 2 {
		t.Fatalf("expected 2 successful account_deleted events, got %d", deletes)
	}
}
