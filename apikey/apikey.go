// Package apikey generates API key secrets and the salted digests stored in
// place of them.
//
// A key looks like mf_<prefix>_<secret>. The prefix is a public lookup index
// kept alongside the digest; the secret part is never persisted.
package apikey

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// Scheme is the fixed leading segment of every key.
	Scheme = "mf"

	prefixLength = 8
	secretBytes  = 32
	saltBytes    = 16
	hashVersion  = "v1"
)

const prefixAlphabet = "abcdefghijkmnopqrstuvwxyz23456789"

// ErrMalformedKey is returned for strings that cannot be an API key.
var ErrMalformedKey = errors.New("malformed api key")

// Generated is the result of Generate. Raw is shown to the caller once.
type Generated struct {
	Raw    string
	Prefix string
	Hash   string
}

// Generate creates a new random key and its stored digest.
func Generate() (*Generated, error) {
	prefix, err := randomPrefix()
	if err != nil {
		return nil, err
	}

	secret := make([]byte, secretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate api key secret: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(secret)

	hash, err := Hash(encoded)
	if err != nil {
		return nil, err
	}

	return &Generated{
		Raw:    Scheme + "_" + prefix + "_" + encoded,
		Prefix: prefix,
		Hash:   hash,
	}, nil
}

// Parse splits a raw key into its prefix and secret.
func Parse(raw string) (prefix, secret string, err error) {
	raw = strings.TrimSpace(raw)
	parts := strings.SplitN(raw, "_", 3)
	if len(parts) != 3 || parts[0] != Scheme {
		return "", "", ErrMalformedKey
	}
	prefix, secret = parts[1], parts[2]
	if len(prefix) != prefixLength || secret == "" {
		return "", "", ErrMalformedKey
	}
	for _, r := range prefix {
		if !strings.ContainsRune(prefixAlphabet, r) {
			return "", "", ErrMalformedKey
		}
	}
	if _, err := base64.RawURLEncoding.DecodeString(secret); err != nil {
		return "", "", ErrMalformedKey
	}
	return prefix, secret, nil
}

// Hash returns v1$<salt hex>$<hmac-sha256 hex> for secret under a fresh salt.
func Hash(secret string) (string, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate api key salt: %w", err)
	}
	return hashVersion + "$" + hex.EncodeToString(salt) + "$" + hex.EncodeToString(digest(salt, secret)), nil
}

// Verify checks secret against a stored digest in constant time.
func Verify(secret, stored string) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 3 || parts[0] != hashVersion {
		return false
	}
	salt, err := hex.DecodeString(parts[1])
	if err != nil || len(salt) == 0 {
		return false
	}
	want, err := hex.DecodeString(parts[2])
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(digest(salt, secret), want) == 1
}

func digest(salt []byte, secret string) []byte {
	mac := hmac.New(sha256.New, salt)
	mac.Write([]byte(secret))
	return mac.Sum(nil)
}

func randomPrefix() (string, error) {
	buf := make([]byte, prefixLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key prefix: %w", err)
	}
	out := make([]byte, prefixLength)
	for i, b := range buf {
		out[i] = prefixAlphabet[int(b)%len(prefixAlphabet)]
	}
	return string(out), nil
}
