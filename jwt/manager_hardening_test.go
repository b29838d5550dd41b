package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func newHSManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    30 * 24 * time.Hour,
		PreAuthTTL:    5 * time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func edConfig(pub ed25519.PublicKey, priv ed25519.PrivateKey) Config {
	return Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		PreAuthTTL:    time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
	}
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	pub, _ := newEdKeys(t)
	cfg := edConfig(pub, nil)
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := Claims{Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims)
	token, err := tok.SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := m.Parse(token, TypeAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestParseEnforcesExpectedType(t *testing.T) {
	m := newHSManager(t)

	access, err := m.CreateAccess("u1", "pro", []string{"user", "moderator"})
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	refresh, err := m.CreateRefresh("u1")
	if err != nil {
		t.Fatalf("create refresh: %v", err)
	}
	preAuth, err := m.CreatePreAuth("u1")
	if err != nil {
		t.Fatalf("create pre-auth: %v", err)
	}

	claims, err := m.Parse(access, TypeAccess)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.UserID() != "u1" || claims.Tier != "pro" || len(claims.Roles) != 2 {
		t.Fatalf("unexpected access claims: %+v", claims)
	}

	if _, err := m.Parse(refresh, TypeAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("refresh token accepted as access: %v", err)
	}
	if _, err := m.Parse(access, TypeRefresh); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("access token accepted as refresh: %v", err)
	}
	if _, err := m.Parse(preAuth, TypeAccess); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("pre-auth token accepted as access: %v", err)
	}
	if c, err := m.Parse(preAuth, TypePreAuth); err != nil || c.Type != TypePreAuth {
		t.Fatalf("pre-auth parse failed: %v", err)
	}
	if c, err := m.Parse(refresh, ""); err != nil || c.Type != TypeRefresh {
		t.Fatalf("untyped parse failed: %v", err)
	}
}

func TestParseDistinguishesExpiredFromInvalid(t *testing.T) {
	m := newHSManager(t)
	issued := time.Now()
	m.now = func() time.Time { return issued }

	preAuth, err := m.CreatePreAuth("u1")
	if err != nil {
		t.Fatalf("create pre-auth: %v", err)
	}

	m.now = func() time.Time { return issued.Add(5*time.Minute + time.Second) }
	if _, err := m.Parse(preAuth, TypePreAuth); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if errors.Is(ErrTokenExpired, ErrTokenInvalid) {
		t.Fatal("expired and invalid must be distinct")
	}

	tampered := preAuth[:len(preAuth)-2] + "xx"
	m.now = func() time.Time { return issued }
	if _, err := m.Parse(tampered, TypePreAuth); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for tampered token, got %v", err)
	}
}

func TestParseRejectsUnknownType(t *testing.T) {
	m := newHSManager(t)
	claims := Claims{Type: "session", RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(m.config.PrivateKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Parse(signed, ""); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected unknown type to be rejected, got %v", err)
	}
}

func TestPeekTypeIgnoresExpiry(t *testing.T) {
	m := newHSManager(t)
	issued := time.Now().Add(-40 * 24 * time.Hour)
	m.now = func() time.Time { return issued }
	refresh, err := m.CreateRefresh("u1")
	if err != nil {
		t.Fatalf("create refresh: %v", err)
	}
	m.now = time.Now

	typ, ok := m.PeekType(refresh)
	if !ok || typ != TypeRefresh {
		t.Fatalf("expected refresh type, got %q ok=%v", typ, ok)
	}
	if _, ok := m.PeekType("garbage"); ok {
		t.Fatal("expected garbage to be rejected")
	}
}

func TestParseIssuerAudienceAndLeeway(t *testing.T) {
	pub, priv := newEdKeys(t)
	cfg := edConfig(pub, priv)
	cfg.Issuer = "authcore"
	cfg.Audience = "api"
	cfg.Leeway = 30 * time.Second
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	access, err := m.CreateAccess("u", "free", nil)
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	if _, err := m.Parse(access, TypeAccess); err != nil {
		t.Fatalf("expected valid token to parse: %v", err)
	}

	sign := func(issuer, audience string, exp, iat time.Time) string {
		c := Claims{Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "u",
			Issuer:    issuer,
			Audience:  gjwt.ClaimStrings{audience},
			ExpiresAt: gjwt.NewNumericDate(exp),
			IssuedAt:  gjwt.NewNumericDate(iat),
		}}
		s, _ := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, c).SignedString(priv)
		return s
	}

	now := time.Now()
	if _, err := m.Parse(sign("other", "api", now.Add(time.Minute), now), TypeAccess); err == nil {
		t.Fatal("expected wrong issuer to fail")
	}
	if _, err := m.Parse(sign("authcore", "other-api", now.Add(time.Minute), now), TypeAccess); err == nil {
		t.Fatal("expected wrong audience to fail")
	}
	if _, err := m.Parse(sign("authcore", "api", now.Add(-15*time.Second), now.Add(-time.Minute)), TypeAccess); err != nil {
		t.Fatalf("expected token within leeway to pass: %v", err)
	}
	if _, err := m.Parse(sign("authcore", "api", now.Add(-2*time.Minute), now.Add(-3*time.Minute)), TypeAccess); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expired token to fail with ErrTokenExpired, got %v", err)
	}
}

func TestParseUnknownKidFails(t *testing.T) {
	pub1, priv1 := newEdKeys(t)
	pub2, _ := newEdKeys(t)
	cfg := edConfig(pub1, priv1)
	cfg.KeyID = "k1"
	cfg.VerifyKeys = map[string][]byte{"k1": pub1}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := Claims{Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = "k2"
	token, err := tok.SignedString(priv1)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.Parse(token, TypeAccess); err == nil {
		t.Fatal("expected unknown kid failure")
	}

	tok2 := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	tok2.Header["kid"] = "k1"
	good, _ := tok2.SignedString(priv1)
	if _, err := m.Parse(good, TypeAccess); err != nil {
		t.Fatalf("expected known kid token to pass: %v", err)
	}

	cfg2 := edConfig(pub2, nil)
	cfg2.VerifyKeys = map[string][]byte{"k2": pub2}
	m2, _ := NewManager(cfg2)
	if _, err := m2.Parse(good, TypeAccess); err == nil {
		t.Fatal("expected parse failure with mismatched key set")
	}
}

func TestNewManagerRejectsBadTTLs(t *testing.T) {
	cases := []Config{
		{AccessTTL: 0, RefreshTTL: time.Hour, PreAuthTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("k")},
		{AccessTTL: time.Hour, RefreshTTL: time.Minute, PreAuthTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("k")},
		{AccessTTL: time.Minute, RefreshTTL: time.Hour, PreAuthTTL: 0, SigningMethod: MethodHS256, PrivateKey: []byte("k")},
		{AccessTTL: time.Minute, RefreshTTL: time.Hour, PreAuthTTL: time.Minute, SigningMethod: "rs256", PrivateKey: []byte("k")},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("case %d: expected config error", i)
		}
	}
}
