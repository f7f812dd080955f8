package router

import (
	"errors"
	"fmt"
	"time"
)

// SnapshotVersion is the current export format.
const SnapshotVersion = 1

// ErrInvalidSnapshot is returned when an imported snapshot is inconsistent.
var ErrInvalidSnapshot = errors.New("invalid router snapshot")

// Snapshot is the persisted form of a State.
type Snapshot struct {
	Version       int            `json:"version"`
	ActiveAgentID string         `json:"active_agent_id"`
	Conversations []Conversation `json:"conversations"`
	Stack         []string       `json:"stack"`
	Handback      *Handback      `json:"handback,omitempty"`
	ExportedAt    time.Time      `json:"exported_at"`
}

// ExportState captures s for caller-managed persistence.
func ExportState(s State, at time.Time) Snapshot {
	c := s.Clone()
	return Snapshot{
		Version:       SnapshotVersion,
		ActiveAgentID: c.ActiveAgentID,
		Conversations: c.Conversations.Export(),
		Stack:         c.Stack,
		Handback:      c.Handback,
		ExportedAt:    at,
	}
}

// ImportState rebuilds a State from a snapshot.
func ImportState(snap Snapshot) (State, error) {
	if snap.Version > SnapshotVersion {
		return State{}, fmt.Errorf("%w: version %d is newer than %d", ErrInvalidSnapshot, snap.Version, SnapshotVersion)
	}
	if snap.ActiveAgentID == "" {
		return State{}, fmt.Errorf("%w: no active agent", ErrInvalidSnapshot)
	}
	for i, id := range snap.Stack {
		if id == "" {
			return State{}, fmt.Errorf("%w: empty stack entry at %d", ErrInvalidSnapshot, i)
		}
	}

	conversations, err := ImportRegistry(snap.Conversations)
	if err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	s := State{
		ActiveAgentID: snap.ActiveAgentID,
		Conversations: conversations,
		Stack:         append([]string{}, snap.Stack...),
	}
	if snap.Handback != nil {
		h := *snap.Handback
		s.Handback = &h
	}
	return s, nil
}
