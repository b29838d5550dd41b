package authcore

import (
	"encoding/base32"
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func TestTOTPVerifyRFCVectors(t *testing.T) {
	cases := []struct {
		algorithm string
		secret    string
		vectors   map[int64]string
	}{
		{
			algorithm: "SHA1",
			secret:    "12345678901234567890",
			vectors: map[int64]string{
				59:          "94287082",
				1111111109:  "07081804",
				1111111111:  "14050471",
				1234567890:  "89005924",
				2000000000:  "69279037",
				20000000000: "65353130",
			},
		},
		{
			algorithm: "SHA256",
			secret:    "12345678901234567890123456789012",
			vectors: map[int64]string{
				59:         "46119246",
				1111111109: "68084774",
				1234567890: "91819424",
			},
		},
		{
			algorithm: "SHA512",
			secret:    "1234567890123456789012345678901234567890123456789012345678901234",
			vectors: map[int64]string{
				59:         "90693936",
				1111111109: "25091201",
				1234567890: "93441116",
			},
		},
	}

	for _, tc := range cases {
		m := newTOTPManager(TOTPConfig{Issuer: "modforge", Digits: 8, Period: 30, Algorithm: tc.algorithm})
		for ts, code := range tc.vectors {
			ok, _, err := m.verifyCode([]byte(tc.secret), code, time.Unix(ts, 0))
			if err != nil || !ok {
				t.Fatalf("%s vector failed at t=%d, ok=%v err=%v", tc.algorithm, ts, ok, err)
			}
		}
	}
}

func TestTOTPSkewWindow(t *testing.T) {
	secret := []byte("12345678901234567890")
	now := time.Unix(1234567890, 0)
	counter := now.Unix() / 30

	m := newTOTPManager(TOTPConfig{Issuer: "modforge", Digits: 6, Period: 30, Algorithm: "SHA1", Skew: 1})

	prev, err := hotpCode(secret, counter-1, 6, "SHA1")
	if err != nil {
		t.Fatalf("hotpCode failed: %v", err)
	}
	if ok, _, _ := m.verifyCode(secret, prev, now); !ok {
		t.Fatal("expected previous step accepted with skew 1")
	}

	old, err := hotpCode(secret, counter-2, 6, "SHA1")
	if err != nil {
		t.Fatalf("hotpCode failed: %v", err)
	}
	if ok, _, _ := m.verifyCode(secret, old, now); ok {
		t.Fatal("expected code two steps back rejected")
	}
}

func TestTOTPIsOTPValidUsesClock(t *testing.T) {
	raw := []byte("12345678901234567890")
	secret := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)
	now := time.Unix(1111111109, 0)

	m := newTOTPManager(TOTPConfig{Issuer: "modforge", Digits: 6, Period: 30, Algorithm: "SHA1", Skew: 1})
	m.now = func() time.Time { return now }

	code, err := hotpCode(raw, now.Unix()/30, 6, "SHA1")
	if err != nil {
		t.Fatalf("hotpCode failed: %v", err)
	}
	if !m.IsOTPValid(secret, code) {
		t.Fatal("expected current code valid")
	}
	if !m.IsOTPValid(strings.ToLower(secret), code) {
		t.Fatal("expected lowercase secret accepted")
	}

	other, otherCode := "", code
	for otherCode == code || m.IsOTPValid(secret, otherCode) {
		other, err = m.GenerateNewSecret()
		if err != nil {
			t.Fatalf("GenerateNewSecret failed: %v", err)
		}
		otherKey, err := decodeTOTPSecret(other)
		if err != nil {
			t.Fatalf("decode generated secret: %v", err)
		}
		otherCode, err = hotpCode(otherKey, now.Unix()/30, 6, "SHA1")
		if err != nil {
			t.Fatalf("hotpCode failed: %v", err)
		}
	}
	if !m.IsOTPValid(other, otherCode) {
		t.Fatal("expected code valid for its own secret")
	}
	if m.IsOTPValid(secret, otherCode) {
		t.Fatal("expected code from a different secret rejected")
	}

	now = now.Add(5 * time.Minute)
	if m.IsOTPValid(secret, code) {
		t.Fatal("expected stale code rejected")
	}
}

func TestTOTPRejectsMalformedInput(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Issuer: "modforge", Digits: 6, Period: 30, Algorithm: "SHA1", Skew: 1})
	secret, err := m.GenerateNewSecret()
	if err != nil {
		t.Fatalf("GenerateNewSecret failed: %v", err)
	}

	for _, code := range []string{"", "12345", "1234567", "12a456", "      "} {
		if m.IsOTPValid(secret, code) {
			t.Fatalf("expected %q rejected", code)
		}
	}
	if m.IsOTPValid("not base32!!", "123456") {
		t.Fatal("expected malformed secret rejected")
	}
}

func TestTOTPGenerateNewSecret(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Issuer: "modforge", Digits: 6, Period: 30})
	a, err := m.GenerateNewSecret()
	if err != nil {
		t.Fatalf("GenerateNewSecret failed: %v", err)
	}
	b, err := m.GenerateNewSecret()
	if err != nil {
		t.Fatalf("GenerateNewSecret failed: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct secrets")
	}
	if strings.Contains(a, "=") {
		t.Fatalf("expected unpadded secret, got %q", a)
	}
	raw, err := decodeTOTPSecret(a)
	if err != nil || len(raw) != totpSecretBytes {
		t.Fatalf("expected %d decoded bytes, got %d err=%v", totpSecretBytes, len(raw), err)
	}
}

func TestTOTPQRCodeDataURI(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Issuer: "modforge", Digits: 6, Period: 30, Algorithm: "SHA1", QRSize: 128})
	secret, err := m.GenerateNewSecret()
	if err != nil {
		t.Fatalf("GenerateNewSecret failed: %v", err)
	}

	uri, err := m.GenerateQRCodeImageURI(secret, "alice")
	if err != nil {
		t.Fatalf("GenerateQRCodeImageURI failed: %v", err)
	}
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(uri, prefix) {
		t.Fatalf("unexpected uri prefix: %.40s", uri)
	}
	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, prefix))
	if err != nil {
		t.Fatalf("payload is not base64: %v", err)
	}
	if len(png) < 8 || string(png[1:4]) != "PNG" {
		t.Fatal("payload is not a PNG image")
	}

	if _, err := m.GenerateQRCodeImageURI("", "alice"); err == nil {
		t.Fatal("expected empty secret rejected")
	}
}

func TestTOTPProvisionURI(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Issuer: "modforge", Digits: 6, Period: 30, Algorithm: "sha1"})
	uri := m.ProvisionURI("JBSWY3DPEHPK3PXP", "alice")

	if !strings.HasPrefix(uri, "otpauth://totp/modforge:alice?") {
		t.Fatalf("unexpected uri: %s", uri)
	}
	for _, want := range []string{"secret=JBSWY3DPEHPK3PXP", "issuer=modforge", "digits=6", "period=30", "algorithm=SHA1"} {
		if !strings.Contains(uri, want) {
			t.Fatalf("expected %q in %s", want, uri)
		}
	}
}
