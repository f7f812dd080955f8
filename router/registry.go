package router

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Registry errors.
var (
	ErrConversationConflict = errors.New("conversation id already belongs to another agent")
	ErrEmptyAgentID         = errors.New("agent id is empty")
)

// Conversation tracks one agent's upstream conversation.
type Conversation struct {
	AgentID        string    `json:"agent_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	MessageCount   int       `json:"message_count"`
	StartedAt      time.Time `json:"started_at"`
}

// Registry maps agent ids to conversations. Methods never modify the
// receiver; Set returns an updated copy.
type Registry map[string]Conversation

// Get returns the conversation of agentID.
func (r Registry) Get(agentID string) (Conversation, bool) {
	c, ok := r[agentID]
	return c, ok
}

// ConversationID returns the stored conversation id of agentID, or "".
func (r Registry) ConversationID(agentID string) string {
	return r[agentID].ConversationID
}

// Set records a successful response from agentID. The conversation is created
// on first use and its message count incremented afterwards. An empty
// conversationID keeps the stored one.
func (r Registry) Set(agentID, conversationID string, at time.Time) (Registry, error) {
	if agentID == "" {
		return r, ErrEmptyAgentID
	}
	if owner := r.owner(conversationID); owner != "" && owner != agentID {
		return r, fmt.Errorf("%w: %s is used by %s", ErrConversationConflict, conversationID, owner)
	}

	next := r.clone()
	c, ok := next[agentID]
	if !ok {
		c = Conversation{AgentID: agentID, StartedAt: at}
	}
	if conversationID != "" {
		c.ConversationID = conversationID
	}
	c.MessageCount++
	next[agentID] = c
	return next, nil
}

// Export returns all conversations ordered by agent id.
func (r Registry) Export() []Conversation {
	out := make([]Conversation, 0, len(r))
	for _, c := range r {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// ImportRegistry rebuilds a registry, rejecting duplicate agents or shared
// conversation ids.
func ImportRegistry(conversations []Conversation) (Registry, error) {
	r := make(Registry, len(conversations))
	owners := make(map[string]string, len(conversations))
	for _, c := range conversations {
		if c.AgentID == "" {
			return nil, ErrEmptyAgentID
		}
		if _, dup := r[c.AgentID]; dup {
			return nil, fmt.Errorf("duplicate conversation for agent %s", c.AgentID)
		}
		if c.ConversationID != "" {
			if owner, taken := owners[c.ConversationID]; taken {
				return nil, fmt.Errorf("%w: %s is used by %s and %s", ErrConversationConflict, c.ConversationID, owner, c.AgentID)
			}
			owners[c.ConversationID] = c.AgentID
		}
		r[c.AgentID] = c
	}
	return r, nil
}

func (r Registry) owner(conversationID string) string {
	if conversationID == "" {
		return ""
	}
	for id, c := range r {
		if c.ConversationID == conversationID {
			return id
		}
	}
	return ""
}

func (r Registry) clone() Registry {
	next := make(Registry, len(r)+1)
	for k, v := range r {
		next[k] = v
	}
	return next
}
