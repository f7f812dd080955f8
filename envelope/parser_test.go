package envelope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_MarkerConvention(t *testing.T) {
	p := Parse("Hello world\n[NPA_ACTION]SHOW_RISK\n[NPA_AGENT]RISK\n[NPA_SESSION]abc123")

	assert.Equal(t, ConventionMarkers, p.Convention)
	assert.Equal(t, "Hello world", p.Answer)
	assert.Equal(t, ActionShowRisk, p.Envelope.Action)
	assert.Equal(t, "RISK", p.Envelope.AgentID)
	assert.Equal(t, "abc123", p.Envelope.Trace["session_id"])
	assert.Equal(t, "abc123", p.Envelope.SessionID())
	assert.Equal(t, DefaultUIRoute, p.Envelope.Payload["uiRoute"])
	assert.Equal(t, map[string]any{}, p.Envelope.Payload["data"])
	assert.True(t, p.KnownAction)
}

func TestParse_MarkerPayloadFields(t *testing.T) {
	text := "Draft ready.  \n\n" +
		"[NPA_ACTION]FINALIZE_DRAFT\n" +
		"  [NPA_PROJECT] PRJ-42\n" +
		"[NPA_INTENT]create_npa\n" +
		"[NPA_TARGET]NPA_ORCHESTRATOR\n" +
		`[NPA_DATA]{"score":7,"tags":["a"]}`

	p := Parse(text)
	require.Equal(t, ConventionMarkers, p.Convention)
	assert.Equal(t, "Draft ready.", p.Answer)
	assert.Equal(t, UnknownAgent, p.Envelope.AgentID)
	assert.Equal(t, "PRJ-42", p.Envelope.Payload["projectId"])
	assert.Equal(t, "create_npa", p.Envelope.Intent())
	assert.Equal(t, "NPA_ORCHESTRATOR", p.Envelope.TargetAgent())

	data, ok := p.Envelope.Payload["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, json.Number("7"), data["score"])
	assert.Equal(t, []any{"a"}, data["tags"])
}

func TestParse_MarkerDataNotJSON(t *testing.T) {
	p := Parse("x\n[NPA_ACTION]SHOW_KB_RESULTS\n[NPA_DATA]{oops")
	require.Equal(t, ConventionMarkers, p.Convention)
	assert.Equal(t, map[string]any{"raw_answer": "{oops"}, p.Envelope.Payload["data"])
}

func TestParse_MarkersAnywhereAfterFirst(t *testing.T) {
	p := Parse("intro\n[NPA_AGENT]RISK\nmiddle prose\n[NPA_ACTION]SHOW_RISK")
	require.Equal(t, ConventionMarkers, p.Convention)
	assert.Equal(t, "intro", p.Answer)
	assert.Equal(t, "RISK", p.Envelope.AgentID)
}

func TestParse_MarkersWithoutAction(t *testing.T) {
	text := "Answer\n[NPA_AGENT]RISK\n[NPA_SESSION]s1"
	p := Parse(text)
	assert.Equal(t, ConventionFallback, p.Convention)
	assert.Equal(t, text, p.Answer)
}

func TestParse_MetaConvention(t *testing.T) {
	p := Parse(`Routing now.@@NPA_META@@{"agent_action":"DELEGATE_AGENT","agent_id":"MASTER_COO","payload":{"target_agent":"IDEATION"}}`)

	assert.Equal(t, ConventionMeta, p.Convention)
	assert.Equal(t, "Routing now.", p.Answer)
	assert.Equal(t, ActionDelegateAgent, p.Envelope.Action)
	assert.Equal(t, "MASTER_COO", p.Envelope.AgentID)
	assert.Equal(t, "IDEATION", p.Envelope.Payload["target_agent"])
	assert.Equal(t, map[string]any{}, p.Envelope.Trace)
}

func TestParse_MetaLegacyTagAndTrailingSpace(t *testing.T) {
	p := Parse("Done.\n\n@@COO_META@@{\"agent_action\":\"ROUTE_DOMAIN\",\"payload\":{\"data\":{\"domainId\":\"NPA\"}},\"trace\":{\"run\":1}}\n  ")

	require.Equal(t, ConventionMeta, p.Convention)
	assert.Equal(t, "Done.", p.Answer)
	assert.Equal(t, UnknownAgent, p.Envelope.AgentID)
	assert.Equal(t, "NPA", p.Envelope.DomainID())
	assert.Equal(t, json.Number("1"), p.Envelope.Trace["run"])
}

func TestParse_MetaNonObjectPayloadWrapped(t *testing.T) {
	p := Parse(`ok@@NPA_META@@{"agent_action":"SHOW_RISK","payload":[1,2]}`)
	require.Equal(t, ConventionMeta, p.Convention)
	assert.Equal(t, []any{json.Number("1"), json.Number("2")}, p.Envelope.Payload["data"])
}

func TestParse_MetaMalformedFallsBack(t *testing.T) {
	tests := []string{
		`Partial answer @@NPA_META@@{"agent_action": "SHOW_RISK",}`,
		`Partial answer @@COO_META@@{"a":1} {"b":2}`,
	}
	for _, text := range tests {
		p := Parse(text)
		assert.Equal(t, ConventionFallback, p.Convention, text)
		assert.Equal(t, text, p.Answer)
		assert.Equal(t, ActionShowRawResponse, p.Envelope.Action)
		assert.Equal(t, UnknownAgent, p.Envelope.AgentID)
		assert.Equal(t, text, p.Envelope.Payload["raw_answer"])
		assert.Equal(t, MetaParseFailed, p.Envelope.Trace["error"])
		assert.NotEmpty(t, p.Envelope.Trace["detail"])
	}
}

func TestParse_MarkersWinOverMeta(t *testing.T) {
	p := Parse("text\n[NPA_ACTION]SHOW_RISK\n@@NPA_META@@{\"agent_action\":\"HARD_STOP\"}")
	assert.Equal(t, ConventionMarkers, p.Convention)
	assert.Equal(t, ActionShowRisk, p.Envelope.Action)
}

func TestParse_Fallback(t *testing.T) {
	for _, text := range []string{"", "just prose", "@@NPA_META@@ no json"} {
		p := Parse(text)
		assert.Equal(t, ConventionFallback, p.Convention)
		assert.Equal(t, text, p.Answer)
		assert.Equal(t, Fallback(text), p.Envelope)
	}
}

func TestParse_UnknownActionFlagged(t *testing.T) {
	p := Parse("x\n[NPA_ACTION]SHOW_SOMETHING_NEW")
	assert.Equal(t, Action("SHOW_SOMETHING_NEW"), p.Envelope.Action)
	assert.False(t, p.KnownAction)
}

type panicStrategy struct{}

func (panicStrategy) Name() Convention            { return "panic" }
func (panicStrategy) Parse(string) (Parsed, bool) { panic("boom") }

func TestParser_PanickingStrategyFallsBack(t *testing.T) {
	p := NewParser(panicStrategy{}).Parse("hello")
	assert.Equal(t, ConventionFallback, p.Convention)
	assert.Equal(t, "hello", p.Answer)
	assert.Contains(t, p.Envelope.Trace["detail"], "boom")
}

func TestEnvelope_ErrorAndClone(t *testing.T) {
	e := Error("", "TIMEOUT", "agent timed out", "ctx deadline")
	assert.Equal(t, ActionShowError, e.Action)
	assert.Equal(t, UnknownAgent, e.AgentID)
	assert.Equal(t, true, e.Payload["retry_allowed"])
	assert.Equal(t, "ctx deadline", e.Trace["error_detail"])

	orig := Parse(`a@@NPA_META@@{"agent_action":"SHOW_RISK","payload":{"nested":{"k":"v"}}}`).Envelope
	c := orig.Clone()
	c.Payload["nested"].(map[string]any)["k"] = "changed"
	assert.Equal(t, "v", orig.Payload["nested"].(map[string]any)["k"])
}

func TestKnownActions(t *testing.T) {
	actions := KnownActions()
	assert.Len(t, actions, 17)
	for _, a := range actions {
		assert.True(t, a.IsKnown())
	}
	actions[0] = "MUTATED"
	assert.Equal(t, ActionRouteDomain, KnownActions()[0])
}
