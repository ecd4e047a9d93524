package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/bankcards/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the JWT claims issued at login
type Claims struct {
	jwt.RegisteredClaims
	Role models.Role `json:"role"`
}

// Issue signs an HS256 token for the user
func Issue(secret string, user *models.User, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: user.Role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse validates a token and returns the principal it names
func Parse(secret, tokenString string) (models.Caller, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return models.Caller{}, fmt.Errorf("invalid token: %w", err)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return models.Caller{}, fmt.Errorf("invalid token subject: %w", err)
	}
	role, ok := models.ParseRole(string(claims.Role))
	if !ok || claims.Role == "" {
		return models.Caller{}, errors.New("invalid token role")
	}
	return models.Caller{ID: id, Role: role}, nil
}
