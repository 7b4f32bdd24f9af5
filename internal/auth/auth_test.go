package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("s3cr3t-password")
	require.NoError(t, err)
	require.NoError(t, CheckPassword(hash, "s3cr3t-password"))
	require.Error(t, CheckPassword(hash, "wrong"))
}

func TestJWTManager_GenerateAndVerify(t *testing.T) {
	m := NewJWTManager("test-secret", 5*time.Minute)

	token, expiresAt, err := m.GenerateToken("user-1", "ana@uni.edu.pe")
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(5*time.Minute), expiresAt, 5*time.Second)

	claims, err := m.VerifyToken(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, "ana@uni.edu.pe", claims.Email)
	require.NotEmpty(t, claims.ID)
}

func TestJWTManager_Rejects(t *testing.T) {
	m := NewJWTManager("test-secret", 5*time.Minute)

	_, err := m.VerifyToken("not-a-token")
	require.True(t, errors.Is(err, ErrInvalidToken))

	other := NewJWTManager("other-secret", 5*time.Minute)
	token, _, err := other.GenerateToken("user-1", "ana@uni.edu.pe")
	require.NoError(t, err)
	_, err = m.VerifyToken(token)
	require.True(t, errors.Is(err, ErrInvalidToken))

	expired := NewJWTManager("test-secret", -time.Minute)
	token, _, err = expired.GenerateToken("user-1", "ana@uni.edu.pe")
	require.NoError(t, err)
	_, err = m.VerifyToken(token)
	require.True(t, errors.Is(err, ErrInvalidToken))
}

func TestJWTManager_Revoke(t *testing.T) {
	m := NewJWTManager("test-secret", 5*time.Minute)

	first, _, err := m.GenerateToken("user-1", "ana@uni.edu.pe")
	require.NoError(t, err)
	second, _, err := m.GenerateToken("user-1", "ana@uni.edu.pe")
	require.NoError(t, err)

	claims, err := m.VerifyToken(first)
	require.NoError(t, err)
	m.Revoke(claims)

	_, err = m.VerifyToken(first)
	require.True(t, errors.Is(err, ErrTokenRevoked))

	_, err = m.VerifyToken(second)
	require.NoError(t, err, "other sessions stay valid")
}

func TestDenylist_Expiry(t *testing.T) {
	d := NewDenylist()
	now := time.Now()
	d.now = func() time.Time { return now }

	d.Add("a", now.Add(time.Minute))
	d.Add("b", now.Add(time.Hour))
	require.True(t, d.Contains("a"))
	require.Equal(t, 2, d.Len())

	now = now.Add(2 * time.Minute)
	require.False(t, d.Contains("a"))
	require.True(t, d.Contains("b"))
	require.Equal(t, 1, d.Len())
}

func TestIdentityFromClaims(t *testing.T) {
	id, err := identityFromClaims("sub-1", map[string]interface{}{
		"email":          "ana@gmail.com",
		"email_verified": true,
		"name":           "Ana Quispe",
		"given_name":     "Ana",
		"family_name":    "Quispe",
		"picture":        "https://example.com/a.png",
	})
	require.NoError(t, err)
	require.Equal(t, "sub-1", id.Subject)
	require.Equal(t, "Ana Quispe", id.DisplayName)
	require.Equal(t, "https://example.com/a.png", id.PhotoURL)

	_, err = identityFromClaims("sub-1", map[string]interface{}{"email": "ana@gmail.com", "email_verified": false})
	require.True(t, errors.Is(err, ErrFederatedTokenInvalid))

	_, err = identityFromClaims("", map[string]interface{}{"email": "ana@gmail.com"})
	require.True(t, errors.Is(err, ErrFederatedTokenInvalid))
}
