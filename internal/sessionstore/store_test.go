package sessionstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/agentrelay/router"
)

func sampleSnapshot() router.Snapshot {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	return router.Snapshot{
		Version:       router.SnapshotVersion,
		ActiveAgentID: "RISK",
		Conversations: []router.Conversation{
			{AgentID: "MASTER_COO", ConversationID: "conv-1", MessageCount: 3, StartedAt: at},
			{AgentID: "RISK", ConversationID: "conv-2", MessageCount: 1, StartedAt: at.Add(time.Minute)},
		},
		Stack:      []string{"MASTER_COO", "RISK"},
		Handback:   &router.Handback{FromAgent: "LEGAL", RecordedAt: at.Add(2 * time.Minute)},
		ExportedAt: at.Add(3 * time.Minute),
	}
}

// exerciseStore runs the behaviour every backend shares.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	snap := sampleSnapshot()
	require.NoError(t, s.Save(ctx, "sess-1", snap))

	got, err := s.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	snap.ActiveAgentID = "MASTER_COO"
	snap.Stack = []string{"MASTER_COO"}
	snap.Handback = nil
	require.NoError(t, s.Save(ctx, "sess-1", snap))

	got, err = s.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "MASTER_COO", got.ActiveAgentID)
	assert.Equal(t, []string{"MASTER_COO"}, got.Stack)
	assert.Nil(t, got.Handback)

	assert.ErrorIs(t, s.Save(ctx, "", snap), ErrInvalidSessionID)

	require.NoError(t, s.Delete(ctx, "sess-1"))
	_, err = s.Load(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.Delete(ctx, "sess-1"))

	assert.NoError(t, s.Ping(ctx))
}

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"sess-1", true},
		{"8f14e45f-ceea-467f-a8f2-7d2b1c0e9a11", true},
		{"", false},
		{"   ", false},
		{"has space", false},
		{"tab\tbed", false},
		{strings.Repeat("a", MaxSessionIDLength), true},
		{strings.Repeat("a", MaxSessionIDLength+1), false},
	}
	for _, tt := range tests {
		err := ValidateSessionID(tt.id)
		if tt.valid {
			assert.NoError(t, err, "id %q", tt.id)
		} else {
			assert.ErrorIs(t, err, ErrInvalidSessionID, "id %q", tt.id)
		}
	}
}

func TestValidateSessionID_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := rapid.StringMatching(`[A-Za-z0-9_.:-]{1,128}`).Draw(t, "id")
		if err := ValidateSessionID(id); err != nil {
			t.Fatalf("ValidateSessionID(%q) = %v", id, err)
		}
	})
}

func TestExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Nil(t, expiry(now, 0))
	assert.Nil(t, expiry(now, -time.Second))
	got := expiry(now, time.Hour)
	require.NotNil(t, got)
	assert.Equal(t, now.Add(time.Hour), *got)
}

func TestCloneSnapshot(t *testing.T) {
	snap := sampleSnapshot()
	c := cloneSnapshot(snap)
	c.Stack[0] = "X"
	c.Conversations[0].MessageCount = 99
	c.Handback.FromAgent = "Y"

	assert.Equal(t, "MASTER_COO", snap.Stack[0])
	assert.Equal(t, 3, snap.Conversations[0].MessageCount)
	assert.Equal(t, "LEGAL", snap.Handback.FromAgent)
}
