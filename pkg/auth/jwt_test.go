package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-with-enough-entropy"

func TestGenerateAndValidate(t *testing.T) {
	userID := uuid.New()
	token, err := GenerateToken(userID, "user", "settlement_service", testSecret, time.Minute)
	require.NoError(t, err)

	claims, err := ValidateToken(token, testSecret, "settlement_service")
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.Equal(t, "user", claims.Role)
}

func TestValidateToken_Rejects(t *testing.T) {
	userID := uuid.New()
	valid, err := GenerateToken(userID, "", "settlement_service", testSecret, time.Minute)
	require.NoError(t, err)
	expired, err := GenerateToken(userID, "", "settlement_service", testSecret, -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		secret string
		issuer string
	}{
		{"wrong secret", valid, "other-secret", ""},
		{"wrong issuer", valid, testSecret, "someone_else"},
		{"expired", expired, testSecret, ""},
		{"garbage", "not.a.jwt", testSecret, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateToken(tt.token, tt.secret, tt.issuer)
			assert.Error(t, err)
		})
	}
}

func TestValidateToken_SubjectOnly(t *testing.T) {
	userID := uuid.New()
	raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	token, err := raw.SignedString([]byte(testSecret))
	require.NoError(t, err)

	claims, err := ValidateToken(token, testSecret, "")
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
}

func TestValidateToken_RejectsNoneAlgorithm(t *testing.T) {
	raw := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: uuid.NewString()})
	token, err := raw.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ValidateToken(token, testSecret, "")
	assert.Error(t, err)
}
