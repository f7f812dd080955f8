// Package sessionstore persists router state snapshots between requests.
//
// Supported backends:
// - Memory: single process, lost on restart (default)
// - Redis: shared across replicas, expiry handled by Redis
// - Database: postgres, mysql or sqlite through GORM
// - Mongo: one document per session
package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/agentrelay/router"
)

// Common errors
var (
	ErrNotFound         = errors.New("session not found")
	ErrStoreClosed      = errors.New("store is closed")
	ErrInvalidSessionID = errors.New("invalid session id")
)

// MaxSessionIDLength matches the router_sessions primary key size.
const MaxSessionIDLength = 128

// Store persists one router snapshot per session id.
type Store interface {
	// Load returns the snapshot of sessionID or ErrNotFound.
	Load(ctx context.Context, sessionID string) (router.Snapshot, error)

	// Save creates or replaces the snapshot of sessionID.
	Save(ctx context.Context, sessionID string, snap router.Snapshot) error

	// Delete removes sessionID. Deleting a missing session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// ValidateSessionID rejects ids the backends cannot key on.
func ValidateSessionID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%w: empty", ErrInvalidSessionID)
	case len(id) > MaxSessionIDLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidSessionID, MaxSessionIDLength)
	case strings.ContainsAny(id, " \t\r\n"):
		return fmt.Errorf("%w: contains whitespace", ErrInvalidSessionID)
	}
	return nil
}

// expiry returns the expiry instant for a record saved at now, or nil when
// ttl disables expiry.
func expiry(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := now.Add(ttl)
	return &t
}

func cloneSnapshot(s router.Snapshot) router.Snapshot {
	out := s
	out.Conversations = append([]router.Conversation{}, s.Conversations...)
	out.Stack = append([]string{}, s.Stack...)
	if s.Handback != nil {
		h := *s.Handback
		out.Handback = &h
	}
	return out
}
