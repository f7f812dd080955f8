package relay

import (
	"time"

	"github.com/BaSui01/agentrelay/config"
	"github.com/BaSui01/agentrelay/envelope"
	"github.com/BaSui01/agentrelay/router"
	"github.com/BaSui01/agentrelay/stream"
	"github.com/BaSui01/agentrelay/types"
)

// Input is one user turn.
type Input struct {
	Query               string            `json:"query"`
	Inputs              map[string]string `json:"inputs,omitempty"`
	ExplicitTargetAgent string            `json:"target_agent,omitempty"`
	User                string            `json:"user,omitempty"`
}

// WorkflowInfo carries the run identifiers of a workflow turn.
type WorkflowInfo struct {
	RunID   string         `json:"workflow_run_id,omitempty"`
	TaskID  string         `json:"task_id,omitempty"`
	Status  string         `json:"status"`
	Outputs map[string]any `json:"outputs"`
}

// Result is the outcome of one relayed turn.
type Result struct {
	SessionID      string              `json:"session_id"`
	AgentID        string              `json:"agent_id"`
	Answer         string              `json:"answer"`
	ConversationID string              `json:"conversation_id,omitempty"`
	MessageID      string              `json:"message_id,omitempty"`
	Metadata       envelope.Envelope   `json:"metadata"`
	Convention     envelope.Convention `json:"convention"`
	KnownAction    bool                `json:"known_action"`
	Decision       router.Decision     `json:"decision"`
	StreamError    *stream.StreamError `json:"stream_error,omitempty"`
	Degraded       bool                `json:"degraded"`
	Sniffed        bool                `json:"sniffed,omitempty"`
	Workflow       *WorkflowInfo       `json:"workflow,omitempty"`
	ActiveAgentID  string              `json:"active_agent_id"`
	StackDepth     int                 `json:"stack_depth"`
	DurationMs     int64               `json:"duration_ms"`
	Forwarded      *Result             `json:"forwarded,omitempty"`
}

// EventType tags a streamed Event.
type EventType string

// Event types.
const (
	EventStream  EventType = "stream"
	EventHandoff EventType = "handoff"
	EventResult  EventType = "result"
	EventError   EventType = "error"
)

// Event is delivered to ChatStream observers.
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	AgentID   string         `json:"agent_id,omitempty"`
	Stream    *stream.Event  `json:"stream,omitempty"`
	Handoff   *router.Change `json:"handoff,omitempty"`
	Result    *Result        `json:"result,omitempty"`
	Error     *types.Error   `json:"error,omitempty"`
}

// Config tunes the optional relay behaviours.
type Config struct {
	SniffDelegation  bool
	ForwardContext   bool
	ReturnOnFinalize bool
	// Timeout bounds one upstream call including stream collection. 0 disables it.
	Timeout time.Duration
	// StoreTimeout bounds persistence once the upstream turn finished.
	StoreTimeout time.Duration
	// StoreBackend labels session store metrics.
	StoreBackend string
}

// ConfigFrom builds a relay Config from the routing section.
func ConfigFrom(cfg *config.Config) Config {
	backend := cfg.SessionStore.Type
	if backend == "" {
		backend = config.StoreMemory
	}
	return Config{
		SniffDelegation:  cfg.Routing.SniffDelegation,
		ForwardContext:   cfg.Routing.ForwardContext,
		ReturnOnFinalize: cfg.Routing.ReturnOnFinalize,
		Timeout:          cfg.Upstream.Timeout,
		StoreTimeout:     5 * time.Second,
		StoreBackend:     backend,
	}
}
