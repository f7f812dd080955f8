package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentrelay/envelope"
)

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestRouter(known ...string) *Router {
	cfg := Config{
		RootAgent: "MASTER_COO",
		Aliases: map[string]string{
			"AG_NPA_ORCHESTRATOR": "NPA_ORCHESTRATOR",
			"AG_NPA_RISK":         "RISK",
		},
		Domains: map[string]string{"NPA": "NPA_ORCHESTRATOR"},
		Now:     func() time.Time { return fixedNow },
	}
	if len(known) > 0 {
		set := make(map[string]bool, len(known))
		for _, k := range known {
			set[k] = true
		}
		cfg.Known = func(id string) bool { return set[id] }
	}
	return New(cfg, nil)
}

func delegateEnv(target string) envelope.Envelope {
	return envelope.Envelope{
		Action:  envelope.ActionDelegateAgent,
		AgentID: "MASTER_COO",
		Payload: map[string]any{"target_agent": target},
		Trace:   map[string]any{},
	}
}

func TestRouter_DelegateAndReturnRoundTrip(t *testing.T) {
	r := newTestRouter()
	s := r.NewState()

	s, err := s.RecordResponse("MASTER_COO", "conv-a", fixedNow)
	require.NoError(t, err)

	s, d := r.Apply(s, delegateEnv("IDEATION"))
	require.True(t, d.ShouldSwitch)
	assert.Equal(t, "IDEATION", d.TargetAgent)
	assert.Equal(t, "IDEATION", s.ActiveAgentID)
	assert.Equal(t, []string{"MASTER_COO"}, s.Stack)
	require.NotNil(t, d.Change)
	assert.Equal(t, Change{From: "MASTER_COO", To: "IDEATION", Reason: ReasonDelegate, Action: envelope.ActionDelegateAgent, At: fixedNow}, *d.Change)

	s, err = s.RecordResponse("IDEATION", "conv-b", fixedNow)
	require.NoError(t, err)

	s, d = r.Return(s, "")
	require.True(t, d.ShouldSwitch)
	assert.Equal(t, "MASTER_COO", s.ActiveAgentID)
	assert.Empty(t, s.Stack)
	assert.Equal(t, "conv-a", s.Conversations.ConversationID("MASTER_COO"))
	assert.Equal(t, "conv-b", s.Conversations.ConversationID("IDEATION"))
}

func TestRouter_ApplyDoesNotMutateInput(t *testing.T) {
	r := newTestRouter()
	before := r.NewState()
	before.Stack = append(before.Stack, "X")

	after, _ := r.Apply(before, delegateEnv("IDEATION"))
	assert.Equal(t, []string{"X"}, before.Stack)
	assert.Equal(t, "MASTER_COO", before.ActiveAgentID)
	assert.Equal(t, []string{"X", "MASTER_COO"}, after.Stack)
}

func TestRouter_RouteDomain(t *testing.T) {
	r := newTestRouter()

	t.Run("domain table", func(t *testing.T) {
		env := envelope.Envelope{
			Action:  envelope.ActionRouteDomain,
			Payload: map[string]any{"data": map[string]any{"domainId": "npa"}},
		}
		s, d := r.Apply(r.NewState(), env)
		assert.True(t, d.ShouldSwitch)
		assert.Equal(t, "NPA_ORCHESTRATOR", s.ActiveAgentID)
		assert.Equal(t, ReasonRouteDomain, d.Reason)
	})

	t.Run("explicit target wins", func(t *testing.T) {
		env := envelope.Envelope{
			Action:  envelope.ActionRouteDomain,
			Payload: map[string]any{"domainId": "NPA", "target_agent": "AG_NPA_RISK"},
		}
		s, d := r.Apply(r.NewState(), env)
		assert.True(t, d.ShouldSwitch)
		assert.Equal(t, "RISK", s.ActiveAgentID)
	})

	t.Run("unknown domain is a no-op", func(t *testing.T) {
		env := envelope.Envelope{Action: envelope.ActionRouteDomain, Payload: map[string]any{"domainId": "FX"}}
		s, d := r.Apply(r.NewState(), env)
		assert.False(t, d.ShouldSwitch)
		assert.Equal(t, ReasonUnresolvedRoute, d.Reason)
		assert.Equal(t, "MASTER_COO", s.ActiveAgentID)
	})
}

func TestRouter_AliasResolution(t *testing.T) {
	r := newTestRouter()
	assert.Equal(t, "NPA_ORCHESTRATOR", r.Resolve("AG_NPA_ORCHESTRATOR"))
	assert.Equal(t, "NPA_ORCHESTRATOR", r.Resolve(" ag_npa_orchestrator "))
	assert.Equal(t, "IDEATION", r.Resolve("IDEATION"))

	s, d := r.Apply(r.NewState(), delegateEnv("AG_NPA_ORCHESTRATOR"))
	assert.True(t, d.ShouldSwitch)
	assert.Equal(t, "NPA_ORCHESTRATOR", s.ActiveAgentID)
}

func TestRouter_NoopCases(t *testing.T) {
	r := newTestRouter("MASTER_COO", "IDEATION")
	s := r.NewState()

	tests := []struct {
		name   string
		env    envelope.Envelope
		reason string
	}{
		{"render only action", envelope.Envelope{Action: envelope.ActionShowRisk}, ReasonNoop},
		{"unknown action", envelope.Envelope{Action: "SOMETHING_NEW"}, ReasonNoop},
		{"missing target", delegateEnv(""), ReasonMissingTarget},
		{"unknown target", delegateEnv("GHOST"), ReasonUnknownTarget},
		{"self delegation", delegateEnv("MASTER_COO"), ReasonAlreadyActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, d := r.Apply(s, tt.env)
			assert.False(t, d.ShouldSwitch)
			assert.Nil(t, d.Change)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, s, next)
		})
	}
}

func TestRouter_FinalizeRecordsHandback(t *testing.T) {
	r := newTestRouter()
	s, _ := r.Apply(r.NewState(), delegateEnv("IDEATION"))

	env := envelope.Envelope{Action: envelope.ActionFinalizeDraft, Payload: map[string]any{}}
	s, d := r.Apply(s, env)
	assert.False(t, d.ShouldSwitch)
	assert.Equal(t, ReasonHandback, d.Reason)
	assert.Equal(t, "IDEATION", s.ActiveAgentID)
	require.NotNil(t, s.Handback)
	assert.Equal(t, "IDEATION", s.Handback.FromAgent)
	assert.Equal(t, "MASTER_COO", s.Handback.TargetAgent)

	s, d = r.Return(s, "finalize_draft")
	assert.True(t, d.ShouldSwitch)
	assert.Equal(t, "finalize_draft", d.Reason)
	assert.Equal(t, "MASTER_COO", s.ActiveAgentID)
	assert.Nil(t, s.Handback)
}

func TestRouter_ReturnOnEmptyStack(t *testing.T) {
	r := newTestRouter()

	s, d := r.Return(r.NewState(), "")
	assert.False(t, d.ShouldSwitch)
	assert.Equal(t, ReasonAtRoot, d.Reason)
	assert.Equal(t, "MASTER_COO", s.ActiveAgentID)

	orphan := State{ActiveAgentID: "RISK", Conversations: Registry{}, Stack: []string{}}
	s, d = r.Return(orphan, "")
	assert.True(t, d.ShouldSwitch)
	assert.Equal(t, "MASTER_COO", s.ActiveAgentID)
}

func TestRouter_ExplicitDelegateAndListeners(t *testing.T) {
	r := newTestRouter()
	var changes []Change
	r.OnChange(func(c Change) { changes = append(changes, c) })

	s, d := r.Delegate(r.NewState(), "RISK")
	assert.True(t, d.ShouldSwitch)
	assert.Equal(t, ReasonExplicitTarget, d.Reason)
	require.NotNil(t, d.Change)
	s, d2 := r.Apply(s, delegateEnv("GOVERNANCE"))
	_, d3 := r.Return(s, "")

	// 转换本身不通知监听者
	assert.Empty(t, changes)

	for _, dec := range []Decision{d, d2, d3} {
		r.Commit(*dec.Change)
	}
	require.Len(t, changes, 3)
	assert.Equal(t, "RISK", changes[0].To)
	assert.Equal(t, "GOVERNANCE", changes[1].To)
	assert.Equal(t, "RISK", changes[2].To)
	assert.Equal(t, fixedNow, changes[0].At)
}

func TestRouter_DiscardedTransitionIsSilent(t *testing.T) {
	r := newTestRouter()
	calls := 0
	r.OnChange(func(Change) { calls++ })

	before := r.NewState()
	_, d := r.Delegate(before, "IDEATION")
	require.True(t, d.ShouldSwitch)

	// 调用方丢弃了新状态，没有 Commit
	assert.Equal(t, 0, calls)
	assert.Equal(t, "MASTER_COO", before.ActiveAgentID)
}

func TestRouter_Defaults(t *testing.T) {
	r := New(Config{}, nil)
	assert.Equal(t, DefaultRootAgent, r.Root())
	assert.Equal(t, DefaultRootAgent, r.NewState().ActiveAgentID)
}
