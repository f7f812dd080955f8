package router

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Set(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)

	var r Registry
	r, err := r.Set("A", "c-1", t0)
	require.NoError(t, err)

	c, ok := r.Get("A")
	require.True(t, ok)
	assert.Equal(t, Conversation{AgentID: "A", ConversationID: "c-1", MessageCount: 1, StartedAt: t0}, c)

	next, err := r.Set("A", "", t1)
	require.NoError(t, err)
	c, _ = next.Get("A")
	assert.Equal(t, 2, c.MessageCount)
	assert.Equal(t, "c-1", c.ConversationID)
	assert.Equal(t, t0, c.StartedAt)

	old, _ := r.Get("A")
	assert.Equal(t, 1, old.MessageCount, "receiver must not change")
}

func TestRegistry_ConflictAndEmptyAgent(t *testing.T) {
	r, err := Registry{}.Set("A", "shared", time.Now())
	require.NoError(t, err)

	_, err = r.Set("B", "shared", time.Now())
	assert.True(t, errors.Is(err, ErrConversationConflict))

	_, err = r.Set("", "x", time.Now())
	assert.True(t, errors.Is(err, ErrEmptyAgentID))

	_, err = r.Set("B", "", time.Now())
	assert.NoError(t, err, "empty ids are never shared")
}

func TestRegistry_ExportImport(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := Registry{}
	for _, id := range []string{"RISK", "IDEATION", "MASTER_COO"} {
		var err error
		r, err = r.Set(id, "conv-"+id, now)
		require.NoError(t, err)
	}

	exported := r.Export()
	require.Len(t, exported, 3)
	assert.Equal(t, "IDEATION", exported[0].AgentID)
	assert.Equal(t, "MASTER_COO", exported[1].AgentID)
	assert.Equal(t, "RISK", exported[2].AgentID)

	imported, err := ImportRegistry(exported)
	require.NoError(t, err)
	assert.Equal(t, r, imported)
}

func TestImportRegistry_Rejects(t *testing.T) {
	_, err := ImportRegistry([]Conversation{{AgentID: "A"}, {AgentID: "A"}})
	assert.Error(t, err)

	_, err = ImportRegistry([]Conversation{{AgentID: "A", ConversationID: "x"}, {AgentID: "B", ConversationID: "x"}})
	assert.True(t, errors.Is(err, ErrConversationConflict))

	_, err = ImportRegistry([]Conversation{{ConversationID: "x"}})
	assert.True(t, errors.Is(err, ErrEmptyAgentID))
}
