package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"bazaar/internal/metrics"
)

// ErrNoPrincipalID is returned by Serialize when no user id can be found.
var ErrNoPrincipalID = errors.New("serialize session: principal has no user id")

// SessionCodec translates between an authenticated principal and the value
// stored in the durable session, and recovers principals on the way back.
type SessionCodec struct {
	store   UserStore
	metrics metrics.Recorder
	logger  *slog.Logger
}

// NewSessionCodec creates a SessionCodec over the (retry-wrapped) store.
func NewSessionCodec(store UserStore, rec metrics.Recorder, logger *slog.Logger) *SessionCodec {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &SessionCodec{store: store, metrics: rec, logger: logger}
}

// Serialize extracts the durable session id from a principal. Both the
// Principal wrapper and a bare User are accepted; both shapes have existed
// historically. A principal without an id is an error, never a silent
// default.
func (c *SessionCodec) Serialize(v any) (string, error) {
	id := principalID(v)
	if id == "" {
		c.metrics.RecordSerialization(metrics.OutcomeFailure)
		return "", ErrNoPrincipalID
	}

	c.metrics.RecordSerialization(metrics.OutcomeSuccess)
	return id, nil
}

func principalID(v any) string {
	switch p := v.(type) {
	case *Principal:
		if p != nil && p.User != nil {
			return p.User.ID
		}
	case Principal:
		if p.User != nil {
			return p.User.ID
		}
	case *User:
		if p != nil {
			return p.ID
		}
	case User:
		return p.ID
	}
	return ""
}

// Deserialize resolves a stored session id back to a user. Lookup order:
//
//  1. by id through the retry-wrapped store
//  2. by email, when the id is syntactically an email; legacy sessions
//     stored the email instead of the subject id
//  3. give up and report not-found (nil)
//
// Deserialize never returns an error and never panics: any failure mode of
// the underlying store collapses into the not-found result, which triggers
// a clean logout instead of taking down request handling.
func (c *SessionCodec) Deserialize(ctx context.Context, sessionID string) (user *User) {
	defer func() {
		if r := recover(); r != nil {
			if c.logger != nil {
				c.logger.Error("session deserialize panicked", "session_id", sessionID, "panic", r)
			}
			c.metrics.RecordDeserialization(metrics.OutcomeError)
			user = nil
		}
	}()

	if sessionID == "" {
		c.metrics.RecordDeserialization(metrics.OutcomeNotFound)
		return nil
	}

	found, err := c.store.GetUser(ctx, sessionID)
	if err != nil {
		if c.logger != nil {
			c.logger.Error("session deserialize: id lookup failed", "session_id", sessionID, "error", err)
		}
		c.metrics.RecordDeserialization(metrics.OutcomeError)
		return nil
	}
	if found != nil {
		c.metrics.RecordDeserialization(metrics.OutcomeSuccess)
		return found
	}

	// Legacy sessions stored an email address as the principal id.
	if strings.Contains(sessionID, "@") {
		found, err = c.store.GetUserByEmail(ctx, sessionID)
		if err != nil {
			if c.logger != nil {
				c.logger.Error("session deserialize: email lookup failed", "session_id", sessionID, "error", err)
			}
			c.metrics.RecordDeserialization(metrics.OutcomeError)
			return nil
		}
		if found != nil {
			if c.logger != nil {
				c.logger.Info("session deserialize: recovered legacy email session", "email", sessionID)
			}
			c.metrics.RecordDeserialization(metrics.OutcomeRecoveredByEmail)
			return found
		}
	}

	c.metrics.RecordDeserialization(metrics.OutcomeNotFound)
	return nil
}
