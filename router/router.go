package router

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentrelay/envelope"
)

// DefaultRootAgent is the agent a Return falls back to when nothing is stacked.
const DefaultRootAgent = "MASTER_COO"

// Transition reasons.
const (
	ReasonDelegate        = "delegate_agent"
	ReasonRouteDomain     = "route_domain"
	ReasonExplicitTarget  = "explicit_target"
	ReasonReturn          = "return"
	ReasonHandback        = "handback_recorded"
	ReasonNoop            = "no_routing_action"
	ReasonMissingTarget   = "missing_target"
	ReasonUnknownTarget   = "unknown_target"
	ReasonAlreadyActive   = "already_active"
	ReasonUnresolvedRoute = "unresolved_domain"
	ReasonAtRoot          = "already_at_root"
)

// Change is emitted whenever the active agent switches.
type Change struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Reason string          `json:"reason"`
	Action envelope.Action `json:"action,omitempty"`
	At     time.Time       `json:"at"`
}

// Decision tells the caller what a transition did.
type Decision struct {
	ShouldSwitch bool            `json:"should_switch"`
	TargetAgent  string          `json:"target_agent,omitempty"`
	Action       envelope.Action `json:"action"`
	Reason       string          `json:"reason,omitempty"`
	Change       *Change         `json:"change,omitempty"`
}

// Config configures a Router.
type Config struct {
	// RootAgent is the fallback of Return on an empty stack.
	RootAgent string
	// Aliases maps upstream agent ids to logical ids.
	Aliases map[string]string
	// Domains maps domain ids to the agent that owns them.
	Domains map[string]string
	// Known, when set, rejects delegation to agents it returns false for.
	Known func(agentID string) bool
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Router applies envelopes to session states. It keeps no per-session state
// and may be shared across sessions.
type Router struct {
	root    string
	aliases map[string]string
	domains map[string]string
	known   func(string) bool
	now     func() time.Time
	logger  *zap.Logger

	mu        sync.RWMutex
	listeners []func(Change)
}

// New creates a Router.
func New(cfg Config, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RootAgent == "" {
		cfg.RootAgent = DefaultRootAgent
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	r := &Router{
		root:    cfg.RootAgent,
		aliases: make(map[string]string, len(cfg.Aliases)),
		domains: make(map[string]string, len(cfg.Domains)),
		known:   cfg.Known,
		now:     cfg.Now,
		logger:  logger.With(zap.String("component", "router")),
	}
	for k, v := range cfg.Aliases {
		r.aliases[strings.ToUpper(k)] = v
	}
	for k, v := range cfg.Domains {
		r.domains[strings.ToUpper(k)] = v
	}
	return r
}

// Root returns the root agent id.
func (r *Router) Root() string {
	return r.root
}

// NewState returns a fresh state rooted at the root agent.
func (r *Router) NewState() State {
	return NewState(r.root)
}

// OnChange registers fn to be called synchronously by Commit.
func (r *Router) OnChange(fn func(Change)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Resolve maps an upstream agent id to its logical id. Unmapped ids are
// returned trimmed but otherwise unchanged.
func (r *Router) Resolve(agentID string) string {
	agentID = strings.TrimSpace(agentID)
	if logical, ok := r.aliases[strings.ToUpper(agentID)]; ok {
		return logical
	}
	return agentID
}

// Apply resolves one envelope against s.
func (r *Router) Apply(s State, env envelope.Envelope) (State, Decision) {
	switch env.Action {
	case envelope.ActionDelegateAgent:
		return r.delegate(s, env.TargetAgent(), ReasonDelegate, env.Action)

	case envelope.ActionRouteDomain:
		if target := env.TargetAgent(); target != "" {
			return r.delegate(s, target, ReasonRouteDomain, env.Action)
		}
		domain := env.DomainID()
		target, ok := r.domains[strings.ToUpper(domain)]
		if !ok {
			r.logger.Warn("domain not routable", zap.String("domain", domain))
			return s, Decision{Action: env.Action, Reason: ReasonUnresolvedRoute}
		}
		return r.delegate(s, target, ReasonRouteDomain, env.Action)

	case envelope.ActionFinalizeDraft:
		next := s.Clone()
		next.Handback = &Handback{
			FromAgent:   s.ActiveAgentID,
			TargetAgent: r.Resolve(env.TargetAgent()),
			RecordedAt:  r.now(),
		}
		if next.Handback.TargetAgent == "" {
			next.Handback.TargetAgent, _ = s.Previous()
		}
		return next, Decision{Action: env.Action, Reason: ReasonHandback}

	default:
		return s, Decision{Action: env.Action, Reason: ReasonNoop}
	}
}

// Delegate switches to target on the caller's behalf, for example when the
// user picks an agent explicitly.
func (r *Router) Delegate(s State, target string) (State, Decision) {
	return r.delegate(s, target, ReasonExplicitTarget, envelope.ActionDelegateAgent)
}

func (r *Router) delegate(s State, target, reason string, action envelope.Action) (State, Decision) {
	target = r.Resolve(target)
	switch {
	case target == "":
		return s, Decision{Action: action, Reason: ReasonMissingTarget}
	case r.known != nil && !r.known(target):
		r.logger.Warn("delegation to unknown agent ignored", zap.String("target", target))
		return s, Decision{Action: action, TargetAgent: target, Reason: ReasonUnknownTarget}
	case target == s.ActiveAgentID:
		return s, Decision{Action: action, TargetAgent: target, Reason: ReasonAlreadyActive}
	}

	next := s.Clone()
	next.Stack = append(next.Stack, s.ActiveAgentID)
	next.ActiveAgentID = target
	next.Handback = nil

	change := r.change(Change{From: s.ActiveAgentID, To: target, Reason: reason, Action: action})
	return next, Decision{ShouldSwitch: true, TargetAgent: target, Action: action, Reason: reason, Change: change}
}

// Return pops the most recent delegation. With an empty stack it goes back to
// the root agent.
func (r *Router) Return(s State, reason string) (State, Decision) {
	if reason == "" {
		reason = ReasonReturn
	}

	next := s.Clone()
	next.Handback = nil
	target := r.root
	if n := len(next.Stack); n > 0 {
		target = next.Stack[n-1]
		next.Stack = next.Stack[:n-1]
	}

	if target == s.ActiveAgentID && len(s.Stack) == 0 {
		return next, Decision{TargetAgent: target, Reason: ReasonAtRoot}
	}
	next.ActiveAgentID = target

	change := r.change(Change{From: s.ActiveAgentID, To: target, Reason: reason})
	return next, Decision{ShouldSwitch: true, TargetAgent: target, Reason: reason, Change: change}
}

func (r *Router) change(c Change) *Change {
	c.At = r.now()
	return &c
}

// Commit announces a switch after the caller has persisted the new state.
// Transitions only describe the switch in their Decision.
func (r *Router) Commit(c Change) {
	r.logger.Info("active agent changed",
		zap.String("from", c.From),
		zap.String("to", c.To),
		zap.String("reason", c.Reason))

	r.mu.RLock()
	listeners := r.listeners
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(c)
	}
}
