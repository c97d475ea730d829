package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidateToken(t *testing.T) {
	m, err := NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)

	token, exp, err := m.IssueToken()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, RoleOperator, claims.Role)
	assert.Equal(t, "benchd", claims.Issuer)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	m1, err := NewJWTManager("secret-one", time.Hour)
	require.NoError(t, err)
	m2, err := NewJWTManager("secret-two", time.Hour)
	require.NoError(t, err)

	token, _, err := m1.IssueToken()
	require.NoError(t, err)

	_, err = m2.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	m, err := NewJWTManager("test-secret", -time.Minute)
	require.NoError(t, err)

	token, _, err := m.IssueToken()
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	m, err := NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)

	_, err = m.ValidateToken("not-a-token")
	assert.Error(t, err)
}

func TestNewJWTManagerRequiresSecret(t *testing.T) {
	_, err := NewJWTManager("", time.Hour)
	assert.Error(t, err)
}

func TestHashAndVerifyAPIKey(t *testing.T) {
	hash, err := HashAPIKey("sk-bench-12345")
	require.NoError(t, err)

	ok, err := VerifyAPIKey("sk-bench-12345", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyAPIKey("sk-bench-wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashAPIKeyUniqueSalts(t *testing.T) {
	h1, err := HashAPIKey("same-key")
	require.NoError(t, err)
	h2, err := HashAPIKey("same-key")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestVerifyAPIKeyInvalidFormat(t *testing.T) {
	_, err := VerifyAPIKey("key", "malformed")
	assert.Error(t, err)
}
