package router

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_RoundTripThroughJSON(t *testing.T) {
	r := newTestRouter()
	s := r.NewState()
	s, err := s.RecordResponse("MASTER_COO", "c-root", fixedNow)
	require.NoError(t, err)
	s, _ = r.Apply(s, delegateEnv("IDEATION"))
	s, err = s.RecordResponse("IDEATION", "c-idea", fixedNow)
	require.NoError(t, err)

	raw, err := json.Marshal(ExportState(s, fixedNow))
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	restored, err := ImportState(snap)
	require.NoError(t, err)

	assert.Equal(t, s.ActiveAgentID, restored.ActiveAgentID)
	assert.Equal(t, s.Stack, restored.Stack)
	assert.Equal(t, s.Conversations, restored.Conversations)

	back, d := r.Return(restored, "")
	assert.True(t, d.ShouldSwitch)
	assert.Equal(t, "MASTER_COO", back.ActiveAgentID)
	assert.Equal(t, "c-root", back.Conversations.ConversationID("MASTER_COO"))
}

func TestImportState_Validation(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
	}{
		{"future version", Snapshot{Version: SnapshotVersion + 1, ActiveAgentID: "A"}},
		{"no active agent", Snapshot{Version: SnapshotVersion}},
		{"empty stack entry", Snapshot{Version: SnapshotVersion, ActiveAgentID: "A", Stack: []string{""}}},
		{"shared conversation", Snapshot{
			Version:       SnapshotVersion,
			ActiveAgentID: "A",
			Conversations: []Conversation{{AgentID: "A", ConversationID: "x"}, {AgentID: "B", ConversationID: "x"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ImportState(tt.snap)
			assert.True(t, errors.Is(err, ErrInvalidSnapshot), "got %v", err)
		})
	}
}

func TestExportState_Detached(t *testing.T) {
	s := NewState("MASTER_COO")
	s.Stack = append(s.Stack, "X")
	snap := ExportState(s, fixedNow)
	snap.Stack[0] = "Y"
	assert.Equal(t, "X", s.Stack[0])
}
