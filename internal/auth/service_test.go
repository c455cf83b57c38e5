package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

// repoStub implements Repository with overridable behavior per test.
type repoStub struct {
	storeStub

	createSession         func(ctx context.Context, session Session, tokenHash string) error
	findSessionByHash     func(ctx context.Context, tokenHash string) (*Session, error)
	deleteSession         func(ctx context.Context, id uuid.UUID) error
	deleteExpiredSessions func(ctx context.Context) (int64, error)
}

func (r *repoStub) CreateSession(ctx context.Context, session Session, tokenHash string) error {
	if r.createSession != nil {
		return r.createSession(ctx, session, tokenHash)
	}
	return nil
}

func (r *repoStub) FindSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	if r.findSessionByHash != nil {
		return r.findSessionByHash(ctx, tokenHash)
	}
	return nil, nil
}

func (r *repoStub) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if r.deleteSession != nil {
		return r.deleteSession(ctx, id)
	}
	return nil
}

func (r *repoStub) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	if r.deleteExpiredSessions != nil {
		return r.deleteExpiredSessions(ctx)
	}
	return 0, nil
}

func newTestService(repo *repoStub, ttl time.Duration) *Service {
	codec := NewSessionCodec(&repo.storeStub, nil, nil)
	return NewService(repo, codec, ttl)
}

func TestCreateSessionStoresPrincipalID(t *testing.T) {
	var stored Session
	var storedHash string
	repo := &repoStub{
		createSession: func(ctx context.Context, session Session, tokenHash string) error {
			stored = session
			storedHash = tokenHash
			return nil
		},
	}
	svc := newTestService(repo, time.Hour)

	principal := &Principal{User: &User{ID: "sub-1"}, AccessToken: "at"}
	token, err := svc.CreateSession(context.Background(), principal, "agent", "10.0.0.1")
	if err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}
	if token == "" {
		t.Fatal("expected a session token")
	}
	if stored.PrincipalID != "sub-1" {
		t.Errorf("expected principal id stored, got %q", stored.PrincipalID)
	}
	if storedHash == token {
		t.Error("session token must be stored hashed, not in the clear")
	}
}

func TestCreateSessionUsesClaimDerivedExpiry(t *testing.T) {
	var stored Session
	repo := &repoStub{
		createSession: func(ctx context.Context, session Session, tokenHash string) error {
			stored = session
			return nil
		},
	}
	svc := newTestService(repo, 30*24*time.Hour)

	expiry := time.Now().Add(time.Hour)
	principal := &Principal{User: &User{ID: "sub-1"}, ExpiresAt: expiry}
	if _, err := svc.CreateSession(context.Background(), principal, "", ""); err != nil {
		t.Fatalf("CreateSession returned error: %v", err)
	}

	if !stored.ExpiresAt.Equal(expiry) {
		t.Errorf("expected claim-derived expiry %v, got %v", expiry, stored.ExpiresAt)
	}
}

func TestCreateSessionRejectsPrincipalWithoutID(t *testing.T) {
	svc := newTestService(&repoStub{}, time.Hour)

	if _, err := svc.CreateSession(context.Background(), &Principal{User: &User{}}, "", ""); !errors.Is(err, ErrNoPrincipalID) {
		t.Fatalf("expected ErrNoPrincipalID, got %v", err)
	}
}

func TestValidateSessionResolvesUser(t *testing.T) {
	want := &User{ID: "sub-1", Email: "u@example.com"}
	repo := &repoStub{
		storeStub: storeStub{
			getUser: func(ctx context.Context, id string) (*User, error) {
				if id != "sub-1" {
					t.Errorf("unexpected principal id %q", id)
				}
				return want, nil
			},
		},
		findSessionByHash: func(ctx context.Context, tokenHash string) (*Session, error) {
			return &Session{ID: uuid.New(), PrincipalID: "sub-1", ExpiresAt: time.Now().Add(time.Minute)}, nil
		},
	}
	svc := newTestService(repo, time.Hour)

	user, err := svc.ValidateSession(context.Background(), "token")
	if err != nil {
		t.Fatalf("ValidateSession returned error: %v", err)
	}
	if user == nil || user.ID != "sub-1" {
		t.Fatalf("expected user sub-1, got %v", user)
	}
}

func TestValidateSessionExpiredSessionIsDeleted(t *testing.T) {
	deleted := false
	sessionID := uuid.New()
	repo := &repoStub{
		findSessionByHash: func(ctx context.Context, tokenHash string) (*Session, error) {
			return &Session{ID: sessionID, PrincipalID: "sub-1", ExpiresAt: time.Now().Add(-time.Minute)}, nil
		},
		deleteSession: func(ctx context.Context, id uuid.UUID) error {
			if id == sessionID {
				deleted = true
			}
			return nil
		},
	}
	svc := newTestService(repo, time.Hour)

	user, err := svc.ValidateSession(context.Background(), "token")
	if err != nil {
		t.Fatalf("ValidateSession returned error: %v", err)
	}
	if user != nil {
		t.Fatalf("expected nil user for expired session, got %v", user)
	}
	if !deleted {
		t.Error("expected expired session to be deleted")
	}
}

func TestValidateSessionMissingUserForcesLogout(t *testing.T) {
	repo := &repoStub{
		findSessionByHash: func(ctx context.Context, tokenHash string) (*Session, error) {
			return &Session{ID: uuid.New(), PrincipalID: "gone-sub", ExpiresAt: time.Now().Add(time.Minute)}, nil
		},
	}
	svc := newTestService(repo, time.Hour)

	user, err := svc.ValidateSession(context.Background(), "token")
	if err != nil {
		t.Fatalf("ValidateSession returned error: %v", err)
	}
	if user != nil {
		t.Fatalf("expected nil user when principal vanished, got %v", user)
	}
}

func TestDeleteSessionUnknownTokenIsNoop(t *testing.T) {
	repo := &repoStub{
		deleteSession: func(ctx context.Context, id uuid.UUID) error {
			t.Error("delete should not run for unknown token")
			return nil
		},
	}
	svc := newTestService(repo, time.Hour)

	if err := svc.DeleteSession(context.Background(), "unknown"); err != nil {
		t.Fatalf("DeleteSession returned error: %v", err)
	}
}
