package upstream

import (
	"sync"

	"github.com/BaSui01/agentrelay/config"
)

// Catalog is the live set of upstream agents. It is safe for concurrent use
// and can be swapped wholesale when the configuration is reloaded.
type Catalog struct {
	mu     sync.RWMutex
	agents map[string]config.AgentConfig
	order  []string
}

// NewCatalog builds a catalog from configured agents.
func NewCatalog(agents []config.AgentConfig) *Catalog {
	c := &Catalog{}
	c.Replace(agents)
	return c
}

// Get returns the agent with the given id.
func (c *Catalog) Get(id string) (config.AgentConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.agents[id]
	return a, ok
}

// Known reports whether id is in the catalog.
func (c *Catalog) Known(id string) bool {
	_, ok := c.Get(id)
	return ok
}

// All returns the agents in configuration order.
func (c *Catalog) All() []config.AgentConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]config.AgentConfig, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.agents[id])
	}
	return out
}

// Len returns the number of agents.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Replace swaps in a new agent list and returns the ids whose API key
// changed, including agents that were added or removed.
func (c *Catalog) Replace(agents []config.AgentConfig) []string {
	next := make(map[string]config.AgentConfig, len(agents))
	order := make([]string, 0, len(agents))
	for _, a := range agents {
		if _, dup := next[a.ID]; dup {
			continue
		}
		if a.ResultField == "" {
			a.ResultField = "result"
		}
		next[a.ID] = a
		order = append(order, a.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var rotated []string
	for _, id := range order {
		if prev, ok := c.agents[id]; !ok || prev.APIKey != next[id].APIKey {
			rotated = append(rotated, id)
		}
	}
	for _, id := range c.order {
		if _, ok := next[id]; !ok {
			rotated = append(rotated, id)
		}
	}

	c.agents = next
	c.order = order
	return rotated
}
