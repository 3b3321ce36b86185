package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomain(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"maria.lopez@startup.io", "startup.io"},
		{"User@ACME.Com", "acme.com"},
		{"x@Sub.Example.ORG", "sub.example.org"},
	}
	for _, tt := range tests {
		got, err := Domain(tt.email)
		require.NoError(t, err, tt.email)
		assert.Equal(t, tt.want, got)
	}
}

func TestDomainInvalid(t *testing.T) {
	for _, email := range []string{"", "no-at-sign", "user@"} {
		_, err := Domain(email)
		assert.Error(t, err, email)
	}
}

func TestIsGenericDomain(t *testing.T) {
	assert.True(t, IsGenericDomain("gmail.com"))
	assert.True(t, IsGenericDomain("protonmail.com"))
	assert.False(t, IsGenericDomain("startup.io"))
	// Membership is exact, not suffix-based.
	assert.False(t, IsGenericDomain("not-gmail.com"))
}
