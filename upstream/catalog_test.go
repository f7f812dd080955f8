package upstream

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentrelay/config"
)

func TestCatalog_Basics(t *testing.T) {
	c := NewCatalog([]config.AgentConfig{
		{ID: "MASTER_COO", APIKey: "k1"},
		{ID: "RISK", APIKey: "k2", ResultField: "risk_assessment"},
		{ID: "MASTER_COO", APIKey: "dup"},
	})

	assert.Equal(t, 2, c.Len())
	a, ok := c.Get("MASTER_COO")
	require.True(t, ok)
	assert.Equal(t, "k1", a.APIKey)
	assert.Equal(t, "result", a.ResultField)

	r, _ := c.Get("RISK")
	assert.Equal(t, "risk_assessment", r.ResultField)

	assert.True(t, c.Known("RISK"))
	assert.False(t, c.Known("GHOST"))

	ids := make([]string, 0)
	for _, a := range c.All() {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"MASTER_COO", "RISK"}, ids)
}

func TestCatalog_Replace(t *testing.T) {
	c := NewCatalog([]config.AgentConfig{
		{ID: "A", APIKey: "a1"},
		{ID: "B", APIKey: "b1"},
		{ID: "C", APIKey: "c1"},
	})

	changed := c.Replace([]config.AgentConfig{
		{ID: "A", APIKey: "a1"},
		{ID: "B", APIKey: "b2"},
		{ID: "D"},
	})
	assert.Equal(t, []string{"B", "D", "C"}, changed)
	assert.False(t, c.Known("C"))
	assert.True(t, c.Known("D"))

	assert.Empty(t, c.Replace(c.All()))
}

func TestCatalog_ConcurrentAccess(t *testing.T) {
	c := NewCatalog(config.DefaultAgents())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = c.All()
				_, _ = c.Get("RISK")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				c.Replace(config.DefaultAgents())
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, len(config.DefaultAgents()), c.Len())
}
