package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

const (
	tokenIDSize     = 16
	tokenSecretSize = 32
	tokenRawSize    = tokenIDSize + tokenSecretSize
)

// TokenID is the lookup half of an opaque single-use token.
type TokenID [tokenIDSize]byte

func (id TokenID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// OpaqueToken is a freshly minted id/secret pair. Only Hash is persisted.
type OpaqueToken struct {
	ID     string
	Secret [tokenSecretSize]byte
	Hash   [32]byte
	Raw    string
}

// NewOpaqueToken returns base64url(id || secret) plus the parts needed to store it.
func NewOpaqueToken() (*OpaqueToken, error) {
	var raw [tokenRawSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return nil, err
	}

	var id TokenID
	copy(id[:], raw[:tokenIDSize])

	t := &OpaqueToken{ID: id.String(), Raw: base64.RawURLEncoding.EncodeToString(raw[:])}
	copy(t.Secret[:], raw[tokenIDSize:])
	t.Hash = sha256.Sum256(t.Secret[:])
	return t, nil
}

// DecodeOpaqueToken splits a raw token into its id and secret hash.
func DecodeOpaqueToken(token string) (string, [32]byte, error) {
	var hash [32]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", hash, err
	}
	if len(raw) != tokenRawSize {
		return "", hash, errors.New("invalid token size")
	}

	var id TokenID
	copy(id[:], raw[:tokenIDSize])
	hash = sha256.Sum256(raw[tokenIDSize:])

	return id.String(), hash, nil
}
