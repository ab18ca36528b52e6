package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

var (
	ErrInvalidInput       = errors.New("email and password (min 6 chars) required")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrTokenRevoked       = errors.New("token revoked")
)

const minPasswordLen = 6

type Service struct {
	users   Users
	revoker Revoker
	secret  string
	ttl     time.Duration
}

func NewService(users Users, revoker Revoker, secret string, ttl time.Duration) *Service {
	if revoker == nil {
		revoker = NewMemoryRevoker()
	}
	return &Service{users: users, revoker: revoker, secret: secret, ttl: ttl}
}

// SignUp creates an account and signs it in.
func (s *Service) SignUp(ctx context.Context, email, password string) (*User, string, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil || len(password) < minPasswordLen {
		return nil, "", ErrInvalidInput
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}
	u := &User{Email: email, PasswordHash: hash}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, "", err
	}
	token, err := SignJWT(u.ID, s.secret, s.ttl)
	if err != nil {
		return nil, "", fmt.Errorf("sign token: %w", err)
	}
	return u, token, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (*User, string, error) {
	u, err := s.users.ByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if !CheckPassword(u.PasswordHash, password) {
		return nil, "", ErrInvalidCredentials
	}
	token, err := SignJWT(u.ID, s.secret, s.ttl)
	if err != nil {
		return nil, "", fmt.Errorf("sign token: %w", err)
	}
	return u, token, nil
}

// Authenticate parses token and rejects revoked ones.
func (s *Service) Authenticate(ctx context.Context, token string) (*Claims, error) {
	claims, err := ParseJWT(token, s.secret)
	if err != nil {
		return nil, err
	}
	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// Logout revokes the token until it would have expired anyway.
func (s *Service) Logout(ctx context.Context, claims *Claims) error {
	until := time.Now().Add(s.ttl)
	if claims.ExpiresAt != nil {
		until = claims.ExpiresAt.Time
	}
	return s.revoker.Revoke(ctx, claims.ID, until)
}

func (s *Service) Me(ctx context.Context, userID string) (*User, error) {
	return s.users.ByID(ctx, userID)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
