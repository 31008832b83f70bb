package util

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT("alice", "admin", "milestonefund", "secret", time.Hour)
	require.NoError(t, err)

	claims, err := ParseJWT(token, "secret", "milestonefund")
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
}

func TestParseJWT_Rejects(t *testing.T) {
	valid, err := GenerateJWT("alice", "", "milestonefund", "secret", time.Hour)
	require.NoError(t, err)
	expired, err := GenerateJWT("alice", "", "milestonefund", "secret", -time.Minute)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(time.Hour).Unix()})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		secret string
		issuer string
	}{
		{"wrong secret", valid, "other", "milestonefund"},
		{"wrong issuer", valid, "secret", "someone-else"},
		{"expired", expired, "secret", "milestonefund"},
		{"alg none", unsigned, "secret", ""},
		{"garbage", "not-a-token", "secret", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJWT(tt.token, tt.secret, tt.issuer)
			assert.Error(t, err)
		})
	}
}

func TestGenerateJWT_EmptySubject(t *testing.T) {
	_, err := GenerateJWT("", "user", "", "secret", time.Hour)
	assert.Error(t, err)
}

func TestExtractToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc.def": "abc.def",
		"bearer abc":     "abc",
		"Basic abc":      "",
		"abc":            "",
		"":               "",
	}
	for header, want := range tests {
		r, _ := http.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		assert.Equal(t, want, ExtractToken(r), header)
	}
}
