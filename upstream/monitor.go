package upstream

import (
	"context"
	"errors"
	"math"
	"net/http"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentrelay/config"
)

// Status is the health of one agent as seen by the last probe.
type Status string

// Agent health statuses.
const (
	StatusHealthy      Status = "HEALTHY"
	StatusDegraded     Status = "DEGRADED"
	StatusNotFound     Status = "NOT_FOUND"
	StatusAuthFailed   Status = "AUTH_FAILED"
	StatusRateLimited  Status = "RATE_LIMITED"
	StatusError        Status = "ERROR"
	StatusTimeout      Status = "TIMEOUT"
	StatusUnreachable  Status = "UNREACHABLE"
	StatusUnconfigured Status = "UNCONFIGURED"
	StatusUnknown      Status = "UNKNOWN"
)

// Unhealthy reports whether s counts against the unhealthy total.
func (s Status) Unhealthy() bool {
	switch s {
	case StatusError, StatusTimeout, StatusUnreachable, StatusAuthFailed:
		return true
	}
	return false
}

// AgentHealth is the probe history of one agent.
type AgentHealth struct {
	AgentID             string     `json:"agent_id"`
	Name                string     `json:"name"`
	Kind                string     `json:"kind"`
	Tier                int        `json:"tier"`
	Configured          bool       `json:"configured"`
	Status              Status     `json:"status"`
	LastCheck           *time.Time `json:"last_check"`
	LastSuccess         *time.Time `json:"last_success"`
	LastFailure         *time.Time `json:"last_failure"`
	LatencyMs           *int64     `json:"latency_ms"`
	FailureCount        int        `json:"failure_count"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	UptimePct           int        `json:"uptime_pct"`
	CheckCount          int        `json:"check_count"`
	SuccessCount        int        `json:"success_count"`
}

// Summary aggregates the status of all agents.
type Summary struct {
	Total        int        `json:"total"`
	Healthy      int        `json:"healthy"`
	Degraded     int        `json:"degraded"`
	Unhealthy    int        `json:"unhealthy"`
	Unconfigured int        `json:"unconfigured"`
	Unknown      int        `json:"unknown"`
	LastCheck    *time.Time `json:"last_check"`
}

// Report is the full health view.
type Report struct {
	Summary Summary       `json:"summary"`
	Agents  []AgentHealth `json:"agents"`
}

// Pinger probes one agent and returns the HTTP status of the probe.
type Pinger interface {
	Ping(ctx context.Context, agent config.AgentConfig) (int, error)
}

// Monitor periodically probes every configured agent.
type Monitor struct {
	catalog *Catalog
	pinger  Pinger
	cfg     config.HealthMonitorConfig
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	state     map[string]*AgentHealth
	listeners []func(AgentHealth)
}

// NewMonitor creates a health monitor.
func NewMonitor(catalog *Catalog, pinger Pinger, cfg config.HealthMonitorConfig, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.DegradedLatency <= 0 {
		cfg.DegradedLatency = 5 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Monitor{
		catalog: catalog,
		pinger:  pinger,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "health_monitor")),
		now:     time.Now,
		state:   make(map[string]*AgentHealth),
	}
}

// OnResult registers fn to be called after every probe.
func (m *Monitor) OnResult(fn func(AgentHealth)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Run probes on a ticker until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("health monitor started",
		zap.Duration("interval", m.cfg.Interval),
		zap.Duration("initial_delay", m.cfg.InitialDelay))

	select {
	case <-ctx.Done():
		return
	case <-time.After(m.cfg.InitialDelay):
	}
	m.CheckAll(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopped")
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll probes all configured agents in parallel and returns the summary.
func (m *Monitor) CheckAll(ctx context.Context) Summary {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, a := range m.catalog.All() {
		if !a.Configured() {
			continue
		}
		g.Go(func() error {
			m.probe(gctx, a)
			return nil
		})
	}
	_ = g.Wait()

	s := m.Report().Summary
	m.logger.Info("agent health check complete",
		zap.Int("healthy", s.Healthy),
		zap.Int("degraded", s.Degraded),
		zap.Int("unhealthy", s.Unhealthy),
		zap.Int("unconfigured", s.Unconfigured))
	return s
}

// Check probes a single agent.
func (m *Monitor) Check(ctx context.Context, agentID string) (AgentHealth, bool) {
	a, ok := m.catalog.Get(agentID)
	if !ok {
		return AgentHealth{}, false
	}
	if a.Configured() {
		m.probe(ctx, a)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entryLocked(a).snapshot(), true
}

// Report returns the current health of every catalog agent.
func (m *Monitor) Report() Report {
	agents := m.catalog.All()

	m.mu.Lock()
	defer m.mu.Unlock()

	r := Report{Agents: make([]AgentHealth, 0, len(agents))}
	for _, a := range agents {
		h := m.entryLocked(a).snapshot()
		r.Agents = append(r.Agents, h)

		r.Summary.Total++
		switch {
		case h.Status == StatusHealthy:
			r.Summary.Healthy++
		case h.Status == StatusDegraded:
			r.Summary.Degraded++
		case h.Status == StatusUnconfigured:
			r.Summary.Unconfigured++
		case h.Status == StatusUnknown:
			r.Summary.Unknown++
		case h.Status.Unhealthy():
			r.Summary.Unhealthy++
		}
		if h.LastCheck != nil && (r.Summary.LastCheck == nil || h.LastCheck.After(*r.Summary.LastCheck)) {
			r.Summary.LastCheck = h.LastCheck
		}
	}
	return r
}

func (m *Monitor) probe(ctx context.Context, a config.AgentConfig) {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	start := m.now()
	code, err := m.pinger.Ping(pctx, a)
	latency := m.now().Sub(start)
	if err != nil && ctx.Err() != nil {
		// 外部取消，不计入探测结果
		return
	}

	status := classify(pctx, code, err, latency, m.cfg.DegradedLatency)

	m.mu.Lock()
	h := m.entryLocked(a)
	h.record(status, start, latency)
	snap := h.snapshot()
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	if status != StatusHealthy {
		m.logger.Warn("agent probe not healthy",
			zap.String("agent", a.ID),
			zap.String("status", string(status)),
			zap.Int("http_status", code),
			zap.Duration("latency", latency),
			zap.Error(err))
	}
	for _, fn := range listeners {
		fn(snap)
	}
}

func classify(pctx context.Context, code int, err error, latency, degraded time.Duration) Status {
	if err != nil {
		if errors.Is(pctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
			return StatusTimeout
		}
		return StatusUnreachable
	}
	switch {
	case code >= 200 && code < 300:
		if latency > degraded {
			return StatusDegraded
		}
		return StatusHealthy
	case code == http.StatusNotFound:
		return StatusNotFound
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return StatusAuthFailed
	case code == http.StatusTooManyRequests:
		return StatusRateLimited
	default:
		return StatusError
	}
}

// entryLocked returns the state of a, creating it and refreshing the catalog
// metadata. The caller holds m.mu.
func (m *Monitor) entryLocked(a config.AgentConfig) *AgentHealth {
	h, ok := m.state[a.ID]
	if !ok {
		h = &AgentHealth{AgentID: a.ID, UptimePct: 100, Status: StatusUnknown}
		m.state[a.ID] = h
	}
	h.Name = a.Name
	h.Kind = a.Kind
	h.Tier = a.Tier
	h.Configured = a.Configured()
	switch {
	case !h.Configured:
		h.Status = StatusUnconfigured
	case h.Status == StatusUnconfigured:
		h.Status = StatusUnknown
	}
	return h
}

func (h *AgentHealth) record(status Status, at time.Time, latency time.Duration) {
	ms := latency.Milliseconds()
	h.Status = status
	h.LastCheck = &at
	h.LatencyMs = &ms
	h.CheckCount++

	if status == StatusHealthy || status == StatusDegraded {
		h.LastSuccess = &at
		h.ConsecutiveFailures = 0
		h.SuccessCount++
	} else {
		h.LastFailure = &at
		h.FailureCount++
		h.ConsecutiveFailures++
	}
	h.UptimePct = int(math.Round(float64(h.SuccessCount) / float64(h.CheckCount) * 100))
}

func (h *AgentHealth) snapshot() AgentHealth {
	out := *h
	out.LastCheck = copyTime(h.LastCheck)
	out.LastSuccess = copyTime(h.LastSuccess)
	out.LastFailure = copyTime(h.LastFailure)
	if h.LatencyMs != nil {
		v := *h.LatencyMs
		out.LatencyMs = &v
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
