package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/Dan9191/bankcards/internal/auth"
	"github.com/Dan9191/bankcards/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// AuthService registers users and issues login tokens. Token validation lives
// in the HTTP middleware; the card core only ever sees models.Caller.
type AuthService struct {
	users     UserStore
	log       *logrus.Logger
	jwtSecret string
	tokenTTL  time.Duration
	now       func() time.Time
}

// NewAuthService initializes a new auth service
func NewAuthService(users UserStore, log *logrus.Logger, jwtSecret string, tokenTTL time.Duration) *AuthService {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &AuthService{users: users, log: log, jwtSecret: jwtSecret, tokenTTL: tokenTTL, now: time.Now}
}

const (
	minPasswordLen = 8
	// bcrypt only hashes the first 72 bytes.
	maxPasswordBytes = 72
)

// Register creates a new user with hashed password
func (s *AuthService) Register(ctx context.Context, username, email, password string, role models.Role) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("username is required: %w", models.ErrInvalidUser)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("email %q: %w", email, models.ErrInvalidUser)
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("password shorter than %d characters: %w", minPasswordLen, models.ErrInvalidUser)
	}
	if len(password) > maxPasswordBytes {
		return nil, fmt.Errorf("password longer than %d bytes: %w", maxPasswordBytes, models.ErrInvalidUser)
	}

	// Hash password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidUser, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hashedPassword),
		Role:         role,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.log.Infof("User registered: %s (%s)", user.Username, user.Role)
	return user, nil
}

// Login authenticates a user and returns a JWT token
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return "", models.ErrInvalidCredentials
		}
		return "", err
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.log.Warnf("Failed login for user %s", username)
		return "", models.ErrInvalidCredentials
	}

	token, err := auth.Issue(s.jwtSecret, user, s.tokenTTL, s.now())
	if err != nil {
		return "", err
	}

	s.log.Infof("User logged in: %s", user.Username)
	return token, nil
}
