package auth

import (
	"testing"
	"time"

	"github.com/Dan9191/bankcards/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	user := &models.User{ID: uuid.New(), Role: models.RoleAdmin}
	token, err := Issue("secret", user, time.Hour, time.Now())
	require.NoError(t, err)

	caller, err := Parse("secret", token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, caller.ID)
	assert.True(t, caller.IsAdmin())
}

func TestParseRejects(t *testing.T) {
	user := &models.User{ID: uuid.New(), Role: models.RoleUser}
	expired, err := Issue("secret", user, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	noRole := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	noRoleToken, err := noRole.SignedString([]byte("secret"))
	require.NoError(t, err)

	badSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: models.RoleUser,
	})
	badSubjectToken, err := badSubject.SignedString([]byte("secret"))
	require.NoError(t, err)

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: user.ID.String()},
		Role:             models.RoleUser,
	})
	noExpiryToken, err := noExpiry.SignedString([]byte("secret"))
	require.NoError(t, err)

	valid, err := Issue("secret", user, time.Hour, time.Now())
	require.NoError(t, err)

	tests := []struct {
		name   string
		secret string
		token  string
	}{
		{"expired", "secret", expired},
		{"wrong secret", "other", valid},
		{"missing role", "secret", noRoleToken},
		{"non-uuid subject", "secret", badSubjectToken},
		{"no expiry", "secret", noExpiryToken},
		{"garbage", "secret", "a.b.c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.secret, tt.token)
			assert.Error(t, err)
		})
	}
}
