package envelope

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// Fixed values used by envelopes built locally.
const (
	UnknownAgent    = "UNKNOWN"
	DefaultUIRoute  = "/agents/npa"
	MetaParseFailed = "META_PARSE_FAILED"
	WorkflowFailure = "WORKFLOW_FAILURE"
	keyRawAnswer    = "raw_answer"
	keyTargetAgent  = "target_agent"
	keyDomainID     = "domainId"
	keyIntent       = "intent"
	keyData         = "data"
	keyTraceError   = "error"
	keyTraceDetail  = "detail"
	keyErrorDetail  = "error_detail"
	keySessionID    = "session_id"
	keyErrorType    = "error_type"
	keyErrorMessage = "message"
	keyRetryAllowed = "retry_allowed"
	keyProjectID    = "projectId"
	keyUIRoute      = "uiRoute"
)

// Envelope is a structured instruction recovered from agent output.
// Payload and Trace are never nil.
type Envelope struct {
	Action  Action         `json:"agent_action"`
	AgentID string         `json:"agent_id"`
	Payload map[string]any `json:"payload"`
	Trace   map[string]any `json:"trace"`
}

// Fallback returns the envelope used when no convention matched.
func Fallback(text string) Envelope {
	return Envelope{
		Action:  ActionShowRawResponse,
		AgentID: UnknownAgent,
		Payload: map[string]any{keyRawAnswer: text},
		Trace:   map[string]any{keyTraceError: MetaParseFailed},
	}
}

// Error returns a SHOW_ERROR envelope the caller may retry.
func Error(agentID, errorType, message, detail string) Envelope {
	if agentID == "" {
		agentID = UnknownAgent
	}
	return Envelope{
		Action:  ActionShowError,
		AgentID: agentID,
		Payload: map[string]any{
			keyErrorType:    errorType,
			keyErrorMessage: message,
			keyRetryAllowed: true,
		},
		Trace: map[string]any{keyErrorDetail: detail},
	}
}

// Known reports whether the envelope action is in the fixed enumeration.
func (e Envelope) Known() bool {
	return e.Action.IsKnown()
}

// TargetAgent returns payload.target_agent, falling back to payload.data.target_agent.
func (e Envelope) TargetAgent() string {
	return e.payloadString(keyTargetAgent)
}

// DomainID returns payload.domainId, falling back to payload.data.domainId.
func (e Envelope) DomainID() string {
	return e.payloadString(keyDomainID)
}

// Intent returns payload.intent, falling back to payload.data.intent.
func (e Envelope) Intent() string {
	return e.payloadString(keyIntent)
}

// SessionID returns trace.session_id.
func (e Envelope) SessionID() string {
	s, _ := e.Trace[keySessionID].(string)
	return s
}

func (e Envelope) payloadString(key string) string {
	if s, ok := e.Payload[key].(string); ok && s != "" {
		return s
	}
	if data, ok := e.Payload[keyData].(map[string]any); ok {
		if s, ok := data[key].(string); ok {
			return s
		}
	}
	return ""
}

// Clone returns a deep copy, so callers can annotate without aliasing.
func (e Envelope) Clone() Envelope {
	return Envelope{
		Action:  e.Action,
		AgentID: e.AgentID,
		Payload: cloneMap(e.Payload),
		Trace:   cloneMap(e.Trace),
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

// asObject 把任意 JSON 值规整为对象：nil 变为空对象，非对象包装进 data。
func asObject(v any) map[string]any {
	switch t := v.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return t
	default:
		return map[string]any{keyData: t}
	}
}

var errTrailingData = errors.New("invalid character after top-level value")

// decodeJSON decodes exactly one JSON value, keeping numbers verbatim.
func decodeJSON(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errTrailingData
	}
	return v, nil
}
