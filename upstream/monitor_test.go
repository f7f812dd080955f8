package upstream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentrelay/config"
	"github.com/BaSui01/agentrelay/testutil"
	"github.com/BaSui01/agentrelay/testutil/mocks"
)

type pingResult struct {
	code  int
	err   error
	block bool
}

type fakePinger struct {
	mu      sync.Mutex
	results map[string][]pingResult
	calls   map[string]int
}

func newFakePinger() *fakePinger {
	return &fakePinger{results: make(map[string][]pingResult), calls: make(map[string]int)}
}

func (p *fakePinger) set(id string, rs ...pingResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[id] = append(p.results[id], rs...)
}

func (p *fakePinger) count(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

func (p *fakePinger) Ping(ctx context.Context, agent config.AgentConfig) (int, error) {
	p.mu.Lock()
	p.calls[agent.ID]++
	r := pingResult{code: http.StatusOK}
	if q := p.results[agent.ID]; len(q) > 0 {
		r = q[0]
		if len(q) > 1 {
			p.results[agent.ID] = q[1:]
		}
	}
	p.mu.Unlock()

	if r.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return r.code, r.err
}

func monitorAgents() []config.AgentConfig {
	return []config.AgentConfig{
		{ID: "MASTER_COO", Name: "Master COO", Kind: config.AgentKindChat, Tier: 1, APIKey: "k1"},
		{ID: "RISK", Name: "Risk", Kind: config.AgentKindWorkflow, Tier: 3, APIKey: "k2"},
		{ID: "NOTIFICATION", Name: "Notification", Kind: config.AgentKindWorkflow, Tier: 4},
	}
}

func newTestMonitor(p Pinger, mutate ...func(*config.HealthMonitorConfig)) *Monitor {
	cfg := config.DefaultHealthMonitorConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}
	return NewMonitor(NewCatalog(monitorAgents()), p, cfg, nil)
}

func TestClassify(t *testing.T) {
	live := context.Background()
	tests := []struct {
		name    string
		code    int
		err     error
		latency time.Duration
		want    Status
	}{
		{"ok", 200, nil, time.Second, StatusHealthy},
		{"slow", 200, nil, 6 * time.Second, StatusDegraded},
		{"not found", 404, nil, 0, StatusNotFound},
		{"unauthorized", 401, nil, 0, StatusAuthFailed},
		{"forbidden", 403, nil, 0, StatusAuthFailed},
		{"throttled", 429, nil, 0, StatusRateLimited},
		{"server error", 502, nil, 0, StatusError},
		{"bad request", 400, nil, 0, StatusError},
		{"refused", 0, errors.New("connection refused"), 0, StatusUnreachable},
		{"deadline error", 0, context.DeadlineExceeded, 0, StatusTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(live, tt.code, tt.err, tt.latency, 5*time.Second))
		})
	}

	expired, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-expired.Done()
	assert.Equal(t, StatusTimeout, classify(expired, 0, errors.New("eof"), 0, 5*time.Second))
}

func TestStatus_Unhealthy(t *testing.T) {
	for _, s := range []Status{StatusError, StatusTimeout, StatusUnreachable, StatusAuthFailed} {
		assert.True(t, s.Unhealthy(), s)
	}
	for _, s := range []Status{StatusHealthy, StatusDegraded, StatusNotFound, StatusRateLimited, StatusUnconfigured, StatusUnknown} {
		assert.False(t, s.Unhealthy(), s)
	}
}

func TestMonitor_InitialReport(t *testing.T) {
	m := newTestMonitor(newFakePinger())

	r := m.Report()
	require.Len(t, r.Agents, 3)
	assert.Equal(t, "MASTER_COO", r.Agents[0].AgentID)
	assert.Equal(t, StatusUnknown, r.Agents[0].Status)
	assert.Equal(t, 100, r.Agents[0].UptimePct)
	assert.Equal(t, StatusUnconfigured, r.Agents[2].Status)
	assert.Equal(t, Summary{Total: 3, Unknown: 2, Unconfigured: 1}, r.Summary)
}

func TestMonitor_CheckAll(t *testing.T) {
	p := newFakePinger()
	p.set("RISK", pingResult{code: 401})
	m := newTestMonitor(p)

	s := m.CheckAll(testutil.TestContext(t))
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Healthy)
	assert.Equal(t, 1, s.Unhealthy)
	assert.Equal(t, 1, s.Unconfigured)
	require.NotNil(t, s.LastCheck)

	assert.Equal(t, 1, p.count("MASTER_COO"))
	assert.Equal(t, 1, p.count("RISK"))
	assert.Zero(t, p.count("NOTIFICATION"))

	h, ok := m.Check(testutil.TestContext(t), "RISK")
	require.True(t, ok)
	assert.Equal(t, StatusAuthFailed, h.Status)
	assert.Equal(t, 2, h.FailureCount)
	assert.Equal(t, 2, h.ConsecutiveFailures)
	assert.NotNil(t, h.LastFailure)
	assert.Nil(t, h.LastSuccess)
	assert.Equal(t, 0, h.UptimePct)
}

func TestMonitor_UptimeAndRecovery(t *testing.T) {
	p := newFakePinger()
	p.set("MASTER_COO", pingResult{err: errors.New("connection refused")}, pingResult{code: 200})
	m := newTestMonitor(p)
	ctx := testutil.TestContext(t)

	h, _ := m.Check(ctx, "MASTER_COO")
	assert.Equal(t, StatusUnreachable, h.Status)
	assert.Equal(t, 1, h.ConsecutiveFailures)

	h, _ = m.Check(ctx, "MASTER_COO")
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Equal(t, 0, h.ConsecutiveFailures)
	assert.Equal(t, 1, h.FailureCount)
	assert.Equal(t, 2, h.CheckCount)
	assert.Equal(t, 1, h.SuccessCount)
	assert.Equal(t, 50, h.UptimePct)
	require.NotNil(t, h.LatencyMs)
}

func TestMonitor_Degraded(t *testing.T) {
	m := newTestMonitor(newFakePinger())
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var ticks atomic.Int64
	m.now = func() time.Time {
		return base.Add(time.Duration(ticks.Add(1)) * 6 * time.Second)
	}

	h, ok := m.Check(testutil.TestContext(t), "MASTER_COO")
	require.True(t, ok)
	assert.Equal(t, StatusDegraded, h.Status)
	assert.Equal(t, int64(6000), *h.LatencyMs)
	assert.Equal(t, 1, h.SuccessCount)
	assert.Equal(t, 1, m.Report().Summary.Degraded)
}

func TestMonitor_Timeout(t *testing.T) {
	p := newFakePinger()
	p.set("RISK", pingResult{block: true})
	m := newTestMonitor(p, func(c *config.HealthMonitorConfig) { c.Timeout = 20 * time.Millisecond })

	h, _ := m.Check(testutil.TestContext(t), "RISK")
	assert.Equal(t, StatusTimeout, h.Status)
}

func TestMonitor_CancelledProbeNotRecorded(t *testing.T) {
	p := newFakePinger()
	p.set("RISK", pingResult{block: true})
	m := newTestMonitor(p)

	h, ok := m.Check(testutil.CancelledContext(), "RISK")
	require.True(t, ok)
	assert.Equal(t, StatusUnknown, h.Status)
	assert.Zero(t, h.CheckCount)
}

func TestMonitor_CheckUnknownAndUnconfigured(t *testing.T) {
	p := newFakePinger()
	m := newTestMonitor(p)

	_, ok := m.Check(testutil.TestContext(t), "NOPE")
	assert.False(t, ok)

	h, ok := m.Check(testutil.TestContext(t), "NOTIFICATION")
	require.True(t, ok)
	assert.Equal(t, StatusUnconfigured, h.Status)
	assert.Zero(t, p.count("NOTIFICATION"))
}

func TestMonitor_ConfiguredAfterReload(t *testing.T) {
	m := newTestMonitor(newFakePinger())
	assert.Equal(t, StatusUnconfigured, m.Report().Agents[2].Status)

	agents := monitorAgents()
	agents[2].APIKey = "k3"
	m.catalog.Replace(agents)

	assert.Equal(t, StatusUnknown, m.Report().Agents[2].Status)
	h, _ := m.Check(testutil.TestContext(t), "NOTIFICATION")
	assert.Equal(t, StatusHealthy, h.Status)
}

func TestMonitor_OnResult(t *testing.T) {
	m := newTestMonitor(newFakePinger())
	var mu sync.Mutex
	var seen []string
	m.OnResult(func(h AgentHealth) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, h.AgentID)
	})

	m.CheckAll(testutil.TestContext(t))
	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"MASTER_COO", "RISK"}, seen)
}

func TestMonitor_ListenersSnapshotPerProbe(t *testing.T) {
	m := newTestMonitor(newFakePinger())
	ctx := testutil.TestContext(t)

	var first, late int
	registered := false
	m.OnResult(func(h AgentHealth) {
		first++
		if !registered {
			registered = true
			// 回调内注册新监听者不会死锁，也不影响本次通知
			m.OnResult(func(AgentHealth) { late++ })
		}
	})

	_, ok := m.Check(ctx, "MASTER_COO")
	require.True(t, ok)
	assert.Equal(t, 1, first)
	assert.Equal(t, 0, late)

	_, ok = m.Check(ctx, "MASTER_COO")
	require.True(t, ok)
	assert.Equal(t, 2, first)
	assert.Equal(t, 1, late)
}

func TestMonitor_Run(t *testing.T) {
	p := newFakePinger()
	m := newTestMonitor(p, func(c *config.HealthMonitorConfig) {
		c.InitialDelay = 0
		c.Interval = 10 * time.Millisecond
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	testutil.AssertEventuallyTrue(t, func() bool { return p.count("MASTER_COO") >= 3 }, 2*time.Second)
	cancel()
	_, ok := testutil.WaitForChannel[struct{}](done, time.Second)
	assert.True(t, ok)
}

func TestMonitor_WithClient(t *testing.T) {
	up := mocks.NewMockUpstream(t)
	up.Enqueue("k2", mocks.MockReply{Status: 404})
	c := newTestClient(up.URL())

	m := NewMonitor(NewCatalog(monitorAgents()), c, config.DefaultHealthMonitorConfig(), nil)
	s := m.CheckAll(testutil.TestContext(t))
	assert.Equal(t, 1, s.Healthy)

	h, _ := m.Check(testutil.TestContext(t), "RISK")
	// 404 队列已耗尽，默认回复成功
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Equal(t, 2, h.CheckCount)
	assert.Equal(t, 1, h.FailureCount)
}
