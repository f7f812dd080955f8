package router

import "time"

// Handback records a FINALIZE_DRAFT instruction. The caller decides when to
// act on it by invoking Return.
type Handback struct {
	FromAgent   string    `json:"from_agent"`
	TargetAgent string    `json:"target_agent,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// State is the delegation state of one session. It is a value: transitions
// take a State and return a new one without modifying their input.
type State struct {
	ActiveAgentID string    `json:"active_agent_id"`
	Conversations Registry  `json:"conversations"`
	Stack         []string  `json:"stack"`
	Handback      *Handback `json:"handback,omitempty"`
}

// NewState returns a state with root active and nothing delegated.
func NewState(root string) State {
	return State{
		ActiveAgentID: root,
		Conversations: Registry{},
		Stack:         []string{},
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := State{
		ActiveAgentID: s.ActiveAgentID,
		Conversations: s.Conversations.clone(),
		Stack:         append([]string{}, s.Stack...),
	}
	if s.Handback != nil {
		h := *s.Handback
		out.Handback = &h
	}
	return out
}

// Depth is the number of unreturned delegations.
func (s State) Depth() int {
	return len(s.Stack)
}

// Previous returns the agent a Return would go back to, if any.
func (s State) Previous() (string, bool) {
	if len(s.Stack) == 0 {
		return "", false
	}
	return s.Stack[len(s.Stack)-1], true
}

// RecordResponse registers a successful response of agentID.
func (s State) RecordResponse(agentID, conversationID string, at time.Time) (State, error) {
	conversations, err := s.Conversations.Set(agentID, conversationID, at)
	if err != nil {
		return s, err
	}
	next := s.Clone()
	next.Conversations = conversations
	return next, nil
}
