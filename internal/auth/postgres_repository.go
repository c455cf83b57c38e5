package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetUser looks up a user by the identity provider subject id.
func (r *PostgresRepository) GetUser(ctx context.Context, id string) (*User, error) {
	const query = `
		SELECT id, email, first_name, last_name, profile_image_url, created_at, updated_at, last_login_at
		FROM users
		WHERE id = $1
	`

	var row userRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return row.toUser(), nil
}

// GetUserByEmail looks up a user by email address.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	const query = `
		SELECT id, email, first_name, last_name, profile_image_url, created_at, updated_at, last_login_at
		FROM users
		WHERE email = $1
	`

	var row userRow
	if err := r.db.GetContext(ctx, &row, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return row.toUser(), nil
}

// UpsertUser inserts the user or refreshes its profile fields. The upsert is
// keyed by id, so retrying it is safe. The xmax = 0 check distinguishes a
// fresh insert from an update of an existing row.
func (r *PostgresRepository) UpsertUser(ctx context.Context, data UpsertUser) (*User, bool, error) {
	const query = `
		INSERT INTO users (id, email, first_name, last_name, profile_image_url, created_at, updated_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $6)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email,
		    first_name = EXCLUDED.first_name,
		    last_name = EXCLUDED.last_name,
		    profile_image_url = EXCLUDED.profile_image_url,
		    updated_at = EXCLUDED.updated_at,
		    last_login_at = EXCLUDED.last_login_at
		RETURNING id, email, first_name, last_name, profile_image_url, created_at, updated_at, last_login_at,
		          (xmax = 0) AS is_new
	`

	var row upsertRow
	if err := r.db.GetContext(ctx, &row, query,
		data.ID,
		data.Email,
		data.FirstName,
		data.LastName,
		data.ProfileImageURL,
		time.Now(),
	); err != nil {
		return nil, false, err
	}

	return row.toUser(), row.IsNew, nil
}

// CreateSession inserts a new session bound to a principal id.
func (r *PostgresRepository) CreateSession(ctx context.Context, session Session, tokenHash string) error {
	const query = `
		INSERT INTO user_sessions (id, principal_id, session_token_hash, expires_at, created_at, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.PrincipalID,
		tokenHash,
		session.ExpiresAt,
		session.CreatedAt,
		session.UserAgent,
		session.IPAddress,
	)
	return err
}

// FindSessionByTokenHash looks up a session by token hash.
func (r *PostgresRepository) FindSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	const query = `
		SELECT id, principal_id, expires_at, created_at, user_agent, ip_address
		FROM user_sessions
		WHERE session_token_hash = $1
	`

	var row sessionRow
	if err := r.db.GetContext(ctx, &row, query, tokenHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return row.toSession(), nil
}

// DeleteSession removes a session.
func (r *PostgresRepository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM user_sessions WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// DeleteExpiredSessions removes all expired sessions.
func (r *PostgresRepository) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	const query = `DELETE FROM user_sessions WHERE expires_at < $1`
	result, err := r.db.ExecContext(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// userRow is a database row representation of User.
type userRow struct {
	ID              string    `db:"id"`
	Email           string    `db:"email"`
	FirstName       string    `db:"first_name"`
	LastName        string    `db:"last_name"`
	ProfileImageURL string    `db:"profile_image_url"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
	LastLoginAt     time.Time `db:"last_login_at"`
}

func (r *userRow) toUser() *User {
	return &User{
		ID:              r.ID,
		Email:           r.Email,
		FirstName:       r.FirstName,
		LastName:        r.LastName,
		ProfileImageURL: r.ProfileImageURL,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		LastLoginAt:     r.LastLoginAt,
	}
}

type upsertRow struct {
	userRow
	IsNew bool `db:"is_new"`
}

type sessionRow struct {
	ID          uuid.UUID `db:"id"`
	PrincipalID string    `db:"principal_id"`
	ExpiresAt   time.Time `db:"expires_at"`
	CreatedAt   time.Time `db:"created_at"`
	UserAgent   string    `db:"user_agent"`
	IPAddress   string    `db:"ip_address"`
}

func (r *sessionRow) toSession() *Session {
	return &Session{
		ID:          r.ID,
		PrincipalID: r.PrincipalID,
		ExpiresAt:   r.ExpiresAt,
		CreatedAt:   r.CreatedAt,
		UserAgent:   r.UserAgent,
		IPAddress:   r.IPAddress,
	}
}
