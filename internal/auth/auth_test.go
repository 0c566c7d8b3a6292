// ABOUTME: Tests for JWT issue/verify and password hashing

package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	v := NewJWTVerifier([]byte("test-secret"))

	id := Identity{UserID: "agent-1", TenantID: "acme", Role: "agent"}
	token, err := v.Generate(id, time.Hour)
	require.NoError(t, err)

	got, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestVerify_Expired(t *testing.T) {
	v := NewJWTVerifier([]byte("test-secret"))
	token, err := v.Generate(Identity{UserID: "agent-1", TenantID: "acme", Role: "agent"}, -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerify_WrongSecret(t *testing.T) {
	token, err := NewJWTVerifier([]byte("secret-a")).
		Generate(Identity{UserID: "agent-1", TenantID: "acme", Role: "agent"}, time.Hour)
	require.NoError(t, err)

	_, err = NewJWTVerifier([]byte("secret-b")).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Garbage(t *testing.T) {
	_, err := NewJWTVerifier([]byte("secret")).Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)

	assert.NoError(t, CheckPassword(hash, "hunter2"))
	assert.ErrorIs(t, CheckPassword(hash, "wrong"), ErrWrongPassword)
}
