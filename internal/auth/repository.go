package auth

import (
	"context"

	"github.com/google/uuid"
)

// UserStore is the external user store consumed by the auth subsystem.
// Lookups return (nil, nil) when no record exists.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	// UpsertUser inserts or refreshes the user record and reports whether
	// it was newly created.
	UpsertUser(ctx context.Context, data UpsertUser) (*User, bool, error)
}

// Repository combines the user store with session persistence.
type Repository interface {
	UserStore

	CreateSession(ctx context.Context, session Session, tokenHash string) error
	FindSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
	DeleteExpiredSessions(ctx context.Context) (int64, error)
}
