package oauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		raw      string
		want     Profile
		wantErr  error
	}{
		{
			name:     "github",
			provider: "github",
			raw:      `{"id":583231,"login":"octocat","email":null,"avatar_url":"https://avatars/u/583231"}`,
			want: Profile{
				Provider:    "github",
				ExternalID:  "583231",
				Username:    "octocat",
				AvatarURL:   "https://avatars/u/583231",
				AccessToken: "tok",
			},
		},
		{
			name:     "github missing id",
			provider: "github",
			raw:      `{"login":"ghost"}`,
			wantErr:  ErrProfileIncomplete,
		},
		{
			name:     "discord verified",
			provider: "discord",
			raw:      `{"id":"80351110224678912","username":"nelly","email":"nelly@discord.com","verified":true,"avatar":"8342729096ea3675442027381ff50dfe"}`,
			want: Profile{
				Provider:      "discord",
				ExternalID:    "80351110224678912",
				Username:      "nelly",
				Email:         "nelly@discord.com",
				EmailVerified: true,
				AvatarURL:     "https://cdn.discordapp.com/avatars/80351110224678912/8342729096ea3675442027381ff50dfe.png",
				AccessToken:   "tok",
			},
		},
		{
			name:     "discord unverified",
			provider: "discord",
			raw:      `{"id":"1","username":"n","email":"n@example.com","verified":false}`,
			want: Profile{
				Provider:    "discord",
				ExternalID:  "1",
				Username:    "n",
				Email:       "n@example.com",
				AccessToken: "tok",
			},
		},
		{
			name:     "unknown provider",
			provider: "myspace",
			raw:      `{}`,
			wantErr:  ErrUnknownProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.provider, []byte(tt.raw), "tok")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeOIDC(t *testing.T) {
	p, err := normalizeOIDC("keycloak", oidcClaims{
		Subject:       "f:123",
		Nickname:      "kc-user",
		Email:         "kc@example.com",
		EmailVerified: true,
	}, "tok")
	require.NoError(t, err)
	assert.Equal(t, "keycloak", p.Provider)
	assert.Equal(t, "f:123", p.ExternalID)
	assert.Equal(t, "kc-user", p.Username)
	assert.True(t, p.EmailVerified)

	_, err = normalizeOIDC("keycloak", oidcClaims{}, "tok")
	assert.ErrorIs(t, err, ErrProfileIncomplete)
}
