// Package services contains the dispatch server's business logic: account
// handling and the case intake pipeline.
package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldline/casesync/internal/common"
	"github.com/fieldline/casesync/internal/server/auth"
	"github.com/fieldline/casesync/internal/server/config"
	"github.com/fieldline/casesync/internal/server/models"
	"github.com/fieldline/casesync/internal/server/repositories/users"
)

// UserService registers upload accounts and exchanges credentials for
// session tokens.
type UserService struct {
	users           users.Repository
	jwtSecret       []byte
	sessionValidity time.Duration
}

// NewUserService constructs a UserService using the repository and server config.
func NewUserService(repo users.Repository, cfg *config.Config) *UserService {
	return &UserService{
		users:           repo,
		jwtSecret:       []byte(cfg.SecretKey),
		sessionValidity: cfg.SessionValidityDuration,
	}
}

// passwordVerifier derives the stored verifier from salt and password.
func passwordVerifier(salt []byte, password string) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(password))
	return h.Sum(nil)
}

// Register creates a new upload account.
func (s *UserService) Register(ctx context.Context, username, password string) (*models.User, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("username and password must not be empty")
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	user := &models.User{
		ID:       uuid.New().String(),
		Username: username,
		Salt:     salt,
		Verifier: passwordVerifier(salt, password),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login verifies credentials and mints a session token. An unknown username
// and a wrong password are indistinguishable to the caller.
func (s *UserService) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return "", common.ErrInvalidCredentials
		}
		return "", fmt.Errorf("find user: %w", err)
	}

	verifier := passwordVerifier(user.Salt, password)
	if subtle.ConstantTimeCompare(verifier, user.Verifier) != 1 {
		return "", common.ErrInvalidCredentials
	}

	return auth.GenerateToken(username, s.jwtSecret, s.sessionValidity)
}

// VerifyToken resolves a session token back to its username.
func (s *UserService) VerifyToken(token string) (string, error) {
	return auth.GetUsernameFromToken(token, s.jwtSecret)
}
