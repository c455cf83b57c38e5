package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service manages durable browser sessions bound to authenticated
// principals.
type Service struct {
	repo       Repository
	codec      *SessionCodec
	sessionTTL time.Duration
}

// NewService creates a session Service.
func NewService(repo Repository, codec *SessionCodec, sessionTTL time.Duration) *Service {
	if sessionTTL == 0 {
		sessionTTL = 7 * 24 * time.Hour
	}
	return &Service{
		repo:       repo,
		codec:      codec,
		sessionTTL: sessionTTL,
	}
}

// CreateSession issues a session for the principal and returns the opaque
// token handed to the browser. Session expiry follows the ID token's
// claim-derived expiry when present, otherwise the configured TTL.
func (s *Service) CreateSession(ctx context.Context, principal *Principal, userAgent, ipAddress string) (string, error) {
	principalID, err := s.codec.Serialize(principal)
	if err != nil {
		return "", err
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	token := base64.URLEncoding.EncodeToString(tokenBytes)

	now := time.Now()
	expiresAt := now.Add(s.sessionTTL)
	if !principal.ExpiresAt.IsZero() && principal.ExpiresAt.After(now) {
		expiresAt = principal.ExpiresAt
	}

	session := Session{
		ID:          uuid.New(),
		PrincipalID: principalID,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		UserAgent:   truncateString(userAgent, 512),
		IPAddress:   truncateString(ipAddress, 45),
	}

	if err := s.repo.CreateSession(ctx, session, hashToken(token)); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	return token, nil
}

// ValidateSession resolves a browser token to a user, or nil when the
// session is missing, expired or can no longer be deserialized.
func (s *Service) ValidateSession(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, nil
	}

	session, err := s.repo.FindSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	if time.Now().After(session.ExpiresAt) {
		_ = s.repo.DeleteSession(ctx, session.ID)
		return nil, nil
	}

	// Deserialize absorbs store failures; a nil user forces a clean logout.
	return s.codec.Deserialize(ctx, session.PrincipalID), nil
}

// DeleteSession removes the session associated with the given token.
func (s *Service) DeleteSession(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	session, err := s.repo.FindSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		return fmt.Errorf("find session: %w", err)
	}
	if session == nil {
		return nil
	}

	return s.repo.DeleteSession(ctx, session.ID)
}

// CleanupExpiredSessions removes all expired sessions.
func (s *Service) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredSessions(ctx)
}

// hashToken returns the SHA-256 hash of the token as a hex string.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// truncateString truncates a string to the given max length.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
