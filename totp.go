package authcore

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

const totpSecretBytes = 20

var totpEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

type totpManager struct {
	config TOTPConfig
	now    func() time.Time
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	if cfg.QRSize <= 0 {
		cfg.QRSize = 256
	}
	return &totpManager{config: cfg, now: time.Now}
}

// GenerateNewSecret returns a fresh base32 secret without padding.
func (m *totpManager) GenerateNewSecret() (string, error) {
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return totpEncoding.EncodeToString(raw), nil
}

func (m *totpManager) ProvisionURI(secret, account string) string {
	issuer := m.config.Issuer
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(m.config.Period))
	v.Set("digits", strconv.Itoa(m.config.Digits))
	v.Set("algorithm", strings.ToUpper(m.config.Algorithm))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// GenerateQRCodeImageURI renders the provisioning URI as a PNG data URI.
func (m *totpManager) GenerateQRCodeImageURI(secret, account string) (string, error) {
	if _, err := decodeTOTPSecret(secret); err != nil {
		return "", err
	}
	png, err := qrcode.Encode(m.ProvisionURI(secret, account), qrcode.Medium, m.config.QRSize)
	if err != nil {
		return "", fmt.Errorf("render totp qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// IsOTPValid checks code against the current step and Skew steps either
// side. Malformed input is simply invalid.
func (m *totpManager) IsOTPValid(secret, code string) bool {
	key, err := decodeTOTPSecret(secret)
	if err != nil {
		return false
	}
	ok, _, err := m.verifyCode(key, code, m.now())
	return err == nil && ok
}

// verifyCode walks the window oldest step first and returns the counter
// that matched.
func (m *totpManager) verifyCode(secret []byte, code string, now time.Time) (bool, int64, error) {
	code = strings.TrimSpace(code)
	if !isNumericString(code) || len(code) != m.config.Digits {
		return false, 0, nil
	}
	if len(secret) == 0 {
		return false, 0, errors.New("empty totp secret")
	}

	current := now.Unix() / int64(m.config.Period)
	first := max(current-int64(m.config.Skew), 0)
	last := current + int64(m.config.Skew)

	for counter := first; counter <= last; counter++ {
		want, err := hotpCode(secret, counter, m.config.Digits, m.config.Algorithm)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return true, counter, nil
		}
	}
	return false, 0, nil
}

func decodeTOTPSecret(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	secret = strings.ToUpper(strings.TrimRight(secret, "="))
	if secret == "" {
		return nil, errors.New("empty totp secret")
	}
	return totpEncoding.DecodeString(secret)
}

var totpHashes = map[string]func() hash.Hash{
	"":       sha1.New,
	"SHA1":   sha1.New,
	"SHA256": sha256.New,
	"SHA512": sha512.New,
}

// hotpCode is the RFC 4226 value for counter, zero padded to digits.
func hotpCode(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	newHash, ok := totpHashes[strings.ToUpper(algorithm)]
	if !ok {
		return "", fmt.Errorf("unsupported totp algorithm %q", algorithm)
	}

	mac := hmac.New(newHash, secret)
	_ = binary.Write(mac, binary.BigEndian, uint64(counter))
	sum := mac.Sum(nil)

	off := int(sum[len(sum)-1] & 0x0f)
	value := binary.BigEndian.Uint32(sum[off:off+4]) & 0x7fffffff

	modulus := uint32(1)
	for range digits {
		modulus *= 10
	}
	return fmt.Sprintf("%0*d", digits, value%modulus), nil
}

func isNumericString(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
