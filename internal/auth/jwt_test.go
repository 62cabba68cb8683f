package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidateToken(t *testing.T) {
	validator := NewValidator("test-secret", time.Hour)

	token, err := validator.IssueToken("alice")
	require.NoError(t, err)

	username, err := validator.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	issuer := NewValidator("secret-a", time.Hour)
	validator := NewValidator("secret-b", time.Hour)

	token, err := issuer.IssueToken("alice")
	require.NoError(t, err)

	_, err = validator.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateExpiredToken(t *testing.T) {
	validator := NewValidator("test-secret", -time.Minute)

	token, err := validator.IssueToken("alice")
	require.NoError(t, err)

	_, err = validator.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateGarbageToken(t *testing.T) {
	validator := NewValidator("test-secret", time.Hour)
	_, err := validator.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
