package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenExpired(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{
			name:  "expired an hour ago",
			token: expiringJWT(t, now.Add(-time.Hour)),
			want:  true,
		},
		{
			name:  "inside the leeway window",
			token: expiringJWT(t, now.Add(expiryLeeway/2)),
			want:  true,
		},
		{
			name:  "valid for another hour",
			token: expiringJWT(t, now.Add(time.Hour)),
			want:  false,
		},
		{
			name:  "opaque credential",
			token: "not-a-jwt",
			want:  false,
		},
		{
			name:  "empty credential",
			token: "",
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tokenExpired(tt.token, now))
		})
	}
}

func TestTokenExpired_NoExpClaim(t *testing.T) {
	// A JWT without exp never expires as far as the proactive check is
	// concerned; the upstream remains the authority.
	const noExp = "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9." +
		"eyJzdWIiOiJ1c2VyLTEifQ." +
		"8LprkFQDGLPKuXrNGZVkVeC-lBMm0B8rbVsM4MdTBfY"

	assert.False(t, tokenExpired(noExp, time.Now()))
}
