package auth

import (
	"time"

	"github.com/google/uuid"
)

// User is a local user record keyed by the identity provider subject.
type User struct {
	ID              string
	Email           string
	FirstName       string
	LastName        string
	ProfileImageURL string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastLoginAt     time.Time
}

// UpsertUser carries the claim-derived fields written on every login.
// The upsert is idempotent, keyed by ID.
type UpsertUser struct {
	ID              string
	Email           string
	FirstName       string
	LastName        string
	ProfileImageURL string
}

// Session is a durable browser session bound to a principal id.
type Session struct {
	ID          uuid.UUID
	PrincipalID string
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UserAgent   string
	IPAddress   string
}

// Claims are the identity fields extracted from a verified ID token.
// The provider uses non-standard names for the profile claims.
type Claims struct {
	Sub             string `json:"sub"`
	Email           string `json:"email"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	ProfileImageURL string `json:"profile_image_url"`
}

// Principal is an authenticated user together with the token material and
// claim-derived expiry established during the login callback.
type Principal struct {
	User         *User
	IsNew        bool
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}
