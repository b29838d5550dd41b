package authcore_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/modforge/authcore"
	"github.com/modforge/authcore/oauth"
	"github.com/modforge/authcore/store/memory"
)

// testClock is a settable time source shared by the engine and the test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingNotifier keeps the last raw token sent per account.
type recordingNotifier struct {
	mu           sync.Mutex
	verification map[string]string
	reset        map[string]string
	registered   []string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		verification: map[string]string{},
		reset:        map[string]string{},
	}
}

func (n *recordingNotifier) SendEmailVerification(_ context.Context, a *authcore.Account, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verification[a.ID] = token
	return nil
}

func (n *recordingNotifier) SendPasswordReset(_ context.Context, a *authcore.Account, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reset[a.ID] = token
	return nil
}

func (n *recordingNotifier) AccountRegistered(_ context.Context, a *authcore.Account) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.registered = append(n.registered, a.ID)
	return nil
}

func (n *recordingNotifier) verificationToken(accountID string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.verification[accountID]
}

func (n *recordingNotifier) resetToken(accountID string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reset[accountID]
}

type testEnv struct {
	engine   *authcore.Engine
	store    *memory.Store
	notifier *recordingNotifier
	clock    *testClock
	redis    *miniredis.Miniredis
	audit    *authcore.ChannelSink
}

func testConfig() authcore.Config {
	cfg := authcore.DefaultConfig()
	cfg.JWT.PrivateKey = []byte(strings.Repeat("s", 32))
	cfg.Cookie.FrontendURL = "https://app.modforge.test"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithConfig(t, testConfig())
}

func newTestEnvWithConfig(t *testing.T, cfg authcore.Config) *testEnv {
	t.Helper()
	return newTestEnvWithProviders(t, cfg)
}

func newTestEnvWithProviders(t *testing.T, cfg authcore.Config, providers ...oauth.Provider) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEnv{
		store:    memory.New(),
		notifier: newRecordingNotifier(),
		clock:    newTestClock(),
		redis:    mr,
		audit:    authcore.NewChannelSink(4096),
	}

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(env.store).
		WithAPIKeyStore(env.store).
		WithNotifier(env.notifier).
		WithAuditSink(env.audit).
		WithOAuthProviders(providers...).
		WithClock(env.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	env.engine = engine
	return env
}

func (env *testEnv) register(t *testing.T, username, email, pass string) *authcore.Account {
	t.Helper()
	account, err := env.engine.Register(context.Background(), authcore.RegisterInput{
		Username: username,
		Email:    email,
		Password: pass,
	})
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", username, err)
	}
	return account
}

func totpCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := authcore.TOTPCodeAt(secret, at)
	if err != nil {
		t.Fatalf("totp code: %v", err)
	}
	return code
}
