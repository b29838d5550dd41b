package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func secureConfig() Config {
	return Config{
		Memory:      65536,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func cheapConfig() Config {
	return Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func TestArgon2_HashAndVerify(t *testing.T) {
	a, err := NewArgon2(secureConfig())
	require.NoError(t, err)

	hash, err := a.Hash("correct-horse-battery")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=2$"), hash)

	ok, err := a.Verify("correct-horse-battery", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Verify("correct-horse-batterY", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	again, err := a.Hash("correct-horse-battery")
	require.NoError(t, err)
	assert.NotEqual(t, hash, again, "salt must differ per hash")
}

func TestNewArgon2_RejectsWeakConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"memory", func(c *Config) { c.Memory = 1024 }},
		{"time", func(c *Config) { c.Time = 0 }},
		{"parallelism", func(c *Config) { c.Parallelism = 0 }},
		{"salt", func(c *Config) { c.SaltLength = 8 }},
		{"key", func(c *Config) { c.KeyLength = 8 }},
		{"max bytes", func(c *Config) { c.MaxPasswordBytes = 4 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := cheapConfig()
			tt.mutate(&cfg)
			_, err := NewArgon2(cfg)
			assert.Error(t, err)
		})
	}
}

func TestArgon2_LengthPolicy(t *testing.T) {
	cfg := cheapConfig()
	cfg.MaxPasswordBytes = 64
	a, err := NewArgon2(cfg)
	require.NoError(t, err)

	_, err = a.Hash("")
	assert.ErrorIs(t, err, ErrPasswordTooShort)
	_, err = a.Hash("nine-byte")
	assert.ErrorIs(t, err, ErrPasswordTooShort)
	_, err = a.Hash(strings.Repeat("x", 65))
	assert.ErrorIs(t, err, ErrPasswordTooLong)

	exact := strings.Repeat("x", 64)
	hash, err := a.Hash(exact)
	require.NoError(t, err)
	ok, err := a.Verify(exact, hash)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = a.Verify(strings.Repeat("x", 65), hash)
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}

func TestArgon2_DefaultMaxPasswordBytes(t *testing.T) {
	a, err := NewArgon2(cheapConfig())
	require.NoError(t, err)

	_, err = a.Hash(strings.Repeat("y", DefaultMaxPasswordBytes+1))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
	_, err = a.Hash(strings.Repeat("y", DefaultMaxPasswordBytes))
	assert.NoError(t, err)
}

func TestArgon2_NeedsUpgrade(t *testing.T) {
	old, err := NewArgon2(cheapConfig())
	require.NoError(t, err)
	hash, err := old.Hash("upgrade-me-please")
	require.NoError(t, err)

	same, err := old.NeedsUpgrade(hash)
	require.NoError(t, err)
	assert.False(t, same)

	current, err := NewArgon2(secureConfig())
	require.NoError(t, err)
	upgrade, err := current.NeedsUpgrade(hash)
	require.NoError(t, err)
	assert.True(t, upgrade)

	_, err = current.NeedsUpgrade("garbage")
	assert.Error(t, err)
}

func TestArgon2_VerifyRejectsMalformed(t *testing.T) {
	a, err := NewArgon2(cheapConfig())
	require.NoError(t, err)
	good, err := a.Hash("malformed-cases")
	require.NoError(t, err)

	tests := map[string]string{
		"not phc":         "not-a-phc-hash",
		"wrong algorithm": strings.Replace(good, "$argon2id$", "$argon2i$", 1),
		"wrong version":   strings.Replace(good, "$v=19$", "$v=18$", 1),
		"weak memory":     strings.Replace(good, "m=8192", "m=64", 1),
		"unknown param":   strings.Replace(good, "p=1", "x=1", 1),
		"duplicate param": strings.Replace(good, "p=1", "t=1", 1),
		"bad salt":        strings.Replace(good, "$m=8192,t=1,p=1$", "$m=8192,t=1,p=1$!!$", 1),
	}
	for name, encoded := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := a.Verify("malformed-cases", encoded)
			assert.Error(t, err)
		})
	}
}
