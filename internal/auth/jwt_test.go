package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestVerifyPasswordPlaintext(t *testing.T) {
	m := NewManager("secret", "hunter2")

	assert.True(t, m.VerifyPassword("hunter2"))
	assert.False(t, m.VerifyPassword("wrong"))
	assert.False(t, m.VerifyPassword(""))
}

func TestVerifyPasswordBcrypt(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	m := NewManager("secret", string(hash))

	assert.True(t, m.VerifyPassword("hunter2"))
	assert.False(t, m.VerifyPassword("wrong"))
	assert.False(t, m.VerifyPassword(string(hash)))
}

func TestVerifyPasswordEmptyConfigRejectsAll(t *testing.T) {
	m := NewManager("secret", "")

	assert.False(t, m.VerifyPassword(""))
	assert.False(t, m.VerifyPassword("anything"))
}

func TestTokenRoundTrip(t *testing.T) {
	m := NewManager("test-secret", "pw")

	token, err := m.GenerateToken()
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
	assert.Equal(t, "lorawan-analyzer", claims.Issuer)
	assert.True(t, claims.ExpiresAt.After(time.Now().Add(23*time.Hour)))
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	m := NewManager("secret-a", "pw")
	token, err := m.GenerateToken()
	require.NoError(t, err)

	other := NewManager("secret-b", "pw")
	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsUnsignedTokens(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "admin"})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	m := NewManager("secret", "pw")
	_, err = m.ValidateToken(signed)
	assert.Error(t, err)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	m := NewManager("secret", "pw")

	_, err := m.ValidateToken("not-a-token")
	assert.Error(t, err)
}

func TestDisabledManager(t *testing.T) {
	m := NewManager("", "pw")
	require.False(t, m.Enabled())

	_, err := m.GenerateToken()
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = m.ValidateToken("anything")
	assert.ErrorIs(t, err, ErrDisabled)
}
