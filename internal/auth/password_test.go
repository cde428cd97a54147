package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/book-expert/llm-gateway/internal/auth"
)

func TestCheckPasswordStrength(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		password string
		want     []string
	}{
		{name: "strong", password: "Str0ng!Pass", want: []string{}},
		{
			name:     "too short",
			password: "Ab1!",
			want:     []string{"Password must be at least 8 characters long"},
		},
		{
			name:     "missing classes",
			password: "alllowercase",
			want: []string{
				"Password must contain at least one uppercase letter",
				"Password must contain at least one number",
				"Password should contain at least one special character",
			},
		},
		{
			name:     "exactly 128 characters is allowed",
			password: "Aa1!" + strings.Repeat("x", 124),
			want:     []string{},
		},
		{
			name:     "129 characters",
			password: "Aa1!" + strings.Repeat("x", 125),
			want:     []string{"Password must be less than 128 characters"},
		},
		{
			name:     "non-ascii letters do not count",
			password: "ÄÖÜäöü1!",
			want: []string{
				"Password must contain at least one uppercase letter",
				"Password must contain at least one lowercase letter",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			check := auth.CheckPasswordStrength(tc.password)
			assert.Equal(t, tc.want, check.Errors)
			assert.Equal(t, len(tc.want) == 0, check.IsValid)
		})
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{header: "Bearer abc", token: "abc", ok: true},
		{header: "  bearer   abc  ", token: "abc", ok: true},
		{header: "BEARER abc", token: "abc", ok: true},
		{header: "Basic abc", token: "", ok: false},
		{header: "Bearer", token: "", ok: false},
		{header: "Bearer a b", token: "", ok: false},
		{header: "", token: "", ok: false},
	}

	for _, tc := range tests {
		token, ok := auth.BearerToken(tc.header)
		assert.Equal(t, tc.ok, ok, tc.header)
		assert.Equal(t, tc.token, token, tc.header)
	}
}
