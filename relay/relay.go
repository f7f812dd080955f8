package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentrelay/config"
	"github.com/BaSui01/agentrelay/envelope"
	"github.com/BaSui01/agentrelay/internal/metrics"
	"github.com/BaSui01/agentrelay/internal/sessionstore"
	"github.com/BaSui01/agentrelay/internal/telemetry"
	"github.com/BaSui01/agentrelay/router"
	"github.com/BaSui01/agentrelay/stream"
	"github.com/BaSui01/agentrelay/types"
	"github.com/BaSui01/agentrelay/upstream"
)

// ReasonFinalize is the transition reason of an automatic return after FINALIZE_DRAFT.
const ReasonFinalize = "finalize_draft"

// Upstream is the part of the agent platform client the relay drives.
type Upstream interface {
	StreamChat(ctx context.Context, agent config.AgentConfig, req upstream.ChatRequest) (io.ReadCloser, error)
	RunWorkflow(ctx context.Context, agent config.AgentConfig, req upstream.WorkflowRequest) (io.ReadCloser, error)
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the relay logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records turn, handoff and store metrics on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Relay) { r.metrics = c }
}

// WithParser replaces the default envelope parser.
func WithParser(p *envelope.Parser) Option {
	return func(r *Relay) {
		if p != nil {
			r.parser = p
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		if now != nil {
			r.now = now
		}
	}
}

// Relay runs turns for many sessions. At most one request per session is in
// flight; a second one is refused with SESSION_BUSY.
type Relay struct {
	router  *router.Router
	catalog *upstream.Catalog
	client  Upstream
	store   sessionstore.Store
	cfg     Config
	parser  *envelope.Parser
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// New creates a Relay.
func New(rt *router.Router, catalog *upstream.Catalog, client Upstream, store sessionstore.Store, cfg Config, opts ...Option) *Relay {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = config.StoreMemory
	}
	r := &Relay{
		router:   rt,
		catalog:  catalog,
		client:   client,
		store:    store,
		cfg:      cfg,
		parser:   envelope.NewParser(),
		logger:   zap.NewNop(),
		now:      time.Now,
		inflight: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "relay"))
	return r
}

// Chat runs one turn and returns its result.
func (r *Relay) Chat(ctx context.Context, sessionID string, in Input) (*Result, error) {
	return r.ChatStream(ctx, sessionID, in, nil)
}

// ChatStream runs one turn, delivering collector events to emit as they
// arrive. emit may be nil.
func (r *Relay) ChatStream(ctx context.Context, sessionID string, in Input, emit func(Event)) (*Result, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	if strings.TrimSpace(in.Query) == "" && len(in.Inputs) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "query is required").
			WithHTTPStatus(http.StatusBadRequest)
	}

	ctx, release, err := r.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	st, err := r.load(ctx, sessionID, true)
	if err != nil {
		return nil, err
	}

	var changes []*router.Change
	if in.ExplicitTargetAgent != "" {
		target := r.router.Resolve(in.ExplicitTargetAgent)
		if !r.catalog.Known(target) {
			return nil, types.NewError(types.ErrAgentNotFound, "unknown agent "+target).
				WithAgent(target).WithHTTPStatus(http.StatusNotFound)
		}
		var dec router.Decision
		st, dec = r.router.Delegate(st, target)
		if dec.Change != nil {
			changes = append(changes, dec.Change)
		}
	}

	res, st, err := r.turn(ctx, sessionID, st, in, emit)
	if err != nil {
		return nil, err
	}
	if res.Decision.Change != nil {
		changes = append(changes, res.Decision.Change)
	}

	if err := r.save(ctx, sessionID, st); err != nil {
		return nil, err
	}
	r.finish(res, st)
	r.announce(sessionID, changes, emit)
	emit(Event{Type: EventResult, SessionID: sessionID, AgentID: res.AgentID, Result: res})

	if r.shouldForward(res) {
		fwd, next, err := r.forward(ctx, sessionID, st, in, res, emit)
		if err != nil {
			r.logger.Warn("context forward failed",
				zap.String("session_id", sessionID),
				zap.String("agent", st.ActiveAgentID),
				zap.Error(err))
			return res, nil
		}
		res.Forwarded = fwd
		r.finish(res, next)
	}
	return res, nil
}

// turn runs one upstream call against the active agent of st and applies
// the returned envelope. On error st is returned unchanged.
func (r *Relay) turn(ctx context.Context, sessionID string, st router.State, in Input, emit func(Event)) (*Result, router.State, error) {
	agentID := st.ActiveAgentID
	agent, ok := r.catalog.Get(agentID)
	if !ok {
		return nil, st, types.NewError(types.ErrAgentNotFound, "active agent "+agentID+" is not in the catalog").
			WithAgent(agentID).WithHTTPStatus(http.StatusNotFound)
	}
	kind := agent.Kind
	if kind == "" {
		kind = config.AgentKindChat
	}

	ctx, span := telemetry.StartTurn(ctx, sessionID, agentID, kind)
	if r.metrics != nil {
		defer r.metrics.TurnStarted()()
	}
	start := r.now()

	res, err := r.call(ctx, sessionID, st, agent, in, emit)

	outcome := "ok"
	var code string
	switch {
	case err != nil:
		code = string(types.GetErrorCode(err))
		outcome = "error"
		if code == string(types.ErrCancelled) {
			outcome = "cancelled"
		}
	case res.Degraded:
		outcome = "degraded"
	}
	telemetry.End(span, err, code)
	elapsed := r.now().Sub(start)
	if r.metrics != nil {
		r.metrics.RecordTurn(agentID, kind, outcome, elapsed)
	}
	if err != nil {
		r.logger.Warn("turn failed",
			zap.String("session_id", sessionID),
			zap.String("agent", agentID),
			zap.String("code", code),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, st, err
	}
	res.DurationMs = elapsed.Milliseconds()

	next, recErr := st.RecordResponse(agentID, res.ConversationID, r.now())
	if recErr != nil {
		r.logger.Warn("conversation not recorded",
			zap.String("session_id", sessionID),
			zap.String("agent", agentID),
			zap.Error(recErr))
		next = st
	}

	next, res.Decision = r.route(sessionID, next, res)
	return res, next, nil
}

// call performs the upstream request and collects the stream.
func (r *Relay) call(ctx context.Context, sessionID string, st router.State, agent config.AgentConfig, in Input, emit func(Event)) (*Result, error) {
	callCtx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	observe := stream.WithObserver(func(ev stream.Event) {
		emit(Event{Type: EventStream, SessionID: sessionID, AgentID: agent.ID, Stream: &ev})
	})
	opts := []stream.Option{observe, stream.WithLogger(r.logger)}

	var (
		res *Result
		err error
	)
	if agent.IsWorkflow() {
		res, err = r.callWorkflow(callCtx, agent, in, opts)
	} else {
		res, err = r.callChat(callCtx, agent, st.Conversations.ConversationID(agent.ID), in, opts)
	}
	if err != nil {
		return nil, r.callError(ctx, callCtx, agent.ID, err)
	}

	res.SessionID = sessionID
	res.Degraded = res.StreamError != nil
	if res.StreamError != nil && r.metrics != nil {
		r.metrics.RecordStreamError(agent.ID, res.StreamError.Code)
	}
	return res, nil
}

func (r *Relay) callChat(ctx context.Context, agent config.AgentConfig, conversationID string, in Input, opts []stream.Option) (*Result, error) {
	body, err := r.client.StreamChat(ctx, agent, upstream.ChatRequest{
		Query:          in.Query,
		Inputs:         toAny(in.Inputs),
		User:           in.User,
		ConversationID: conversationID,
	})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	cr, err := stream.NewChatCollector(opts...).Collect(ctx, body)
	if err != nil {
		return nil, err
	}

	parsed := r.parser.Parse(cr.Answer)
	if cr.Answer == "" && cr.Error != nil {
		parsed = envelope.Parsed{
			Envelope:    envelope.Error(agent.ID, cr.Error.Code, cr.Error.Message, ""),
			Convention:  envelope.ConventionError,
			KnownAction: true,
		}
	}
	return &Result{
		AgentID:        agent.ID,
		Answer:         parsed.Answer,
		ConversationID: cr.ConversationID,
		MessageID:      cr.MessageID,
		Metadata:       parsed.Envelope,
		Convention:     parsed.Convention,
		KnownAction:    parsed.KnownAction,
		StreamError:    cr.Error,
	}, nil
}

func (r *Relay) callWorkflow(ctx context.Context, agent config.AgentConfig, in Input, opts []stream.Option) (*Result, error) {
	inputs := toAny(in.Inputs)
	if in.Query != "" {
		if _, ok := inputs["query"]; !ok {
			inputs["query"] = in.Query
		}
	}
	body, err := r.client.RunWorkflow(ctx, agent, upstream.WorkflowRequest{Inputs: inputs, User: in.User})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	opts = append(opts, stream.WithResultFields(agent.ResultField, ""))
	wr, err := stream.NewWorkflowCollector(opts...).Collect(ctx, body)
	if err != nil {
		return nil, err
	}

	var parsed envelope.Parsed
	if wr.Status == stream.StatusFailed {
		msg, detail := "Workflow execution failed", ""
		if wr.Error != nil {
			msg, detail = wr.Error.Message, wr.Error.Message
		}
		parsed = envelope.Parsed{
			Envelope:    envelope.Error(agent.ID, envelope.WorkflowFailure, msg, detail),
			Convention:  envelope.ConventionError,
			KnownAction: true,
		}
	} else {
		parsed = envelope.FromWorkflow(wr.Outputs, agent.ID, agent.ResultField)
	}

	res := &Result{
		AgentID:     agent.ID,
		Answer:      parsed.Answer,
		Metadata:    parsed.Envelope,
		Convention:  parsed.Convention,
		KnownAction: parsed.KnownAction,
		StreamError: wr.Error,
		Workflow: &WorkflowInfo{
			RunID:   wr.RunID,
			TaskID:  wr.TaskID,
			Status:  wr.Status,
			Outputs: wr.Outputs,
		},
	}
	if res.StreamError == nil && wr.Status == stream.StatusFailed {
		res.StreamError = &stream.StreamError{Code: envelope.WorkflowFailure, Message: "Workflow execution failed", Status: http.StatusInternalServerError}
	}
	return res, nil
}

// route applies the envelope of res to st.
func (r *Relay) route(sessionID string, st router.State, res *Result) (router.State, router.Decision) {
	env := res.Metadata
	if r.metrics != nil {
		r.metrics.RecordEnvelope(string(env.Action), string(res.Convention), res.KnownAction)
	}
	if !res.KnownAction {
		r.logger.Warn("unknown envelope action",
			zap.String("session_id", sessionID),
			zap.String("agent", res.AgentID),
			zap.String("action", string(env.Action)))
	}

	if r.cfg.SniffDelegation && res.Convention == envelope.ConventionFallback {
		if target, ok := envelope.SniffDelegation(res.Answer, r.candidates()); ok && target != st.ActiveAgentID {
			r.logger.Info("delegation sniffed from answer",
				zap.String("session_id", sessionID),
				zap.String("agent", res.AgentID),
				zap.String("target", target))
			res.Sniffed = true
			env = envelope.Envelope{
				Action:  envelope.ActionDelegateAgent,
				AgentID: res.AgentID,
				Payload: map[string]any{"target_agent": target},
				Trace:   map[string]any{"sniffed": true},
			}
		}
	}

	next, dec := r.router.Apply(st, env)
	if env.Action == envelope.ActionFinalizeDraft && r.cfg.ReturnOnFinalize && env.TargetAgent() != "" {
		var ret router.Decision
		next, ret = r.router.Return(next, ReasonFinalize)
		ret.Action = env.Action
		dec = ret
	}
	return next, dec
}

// candidates maps agent ids to their display names for delegation sniffing.
func (r *Relay) candidates() map[string][]string {
	agents := r.catalog.All()
	out := make(map[string][]string, len(agents))
	for _, a := range agents {
		var names []string
		if a.Name != "" {
			names = append(names, a.Name)
		}
		out[a.ID] = names
	}
	return out
}

func (r *Relay) finish(res *Result, st router.State) {
	res.ActiveAgentID = st.ActiveAgentID
	res.StackDepth = st.Depth()
}

func (r *Relay) announce(sessionID string, changes []*router.Change, emit func(Event)) {
	for _, c := range changes {
		r.router.Commit(*c)
		if r.metrics != nil {
			r.metrics.RecordHandoff(c.From, c.To, c.Reason)
		}
		emit(Event{Type: EventHandoff, SessionID: sessionID, AgentID: c.To, Handoff: c})
	}
}

// callError maps a failed call to a typed error. A per-call deadline that
// fired while the caller is still waiting is an upstream timeout.
func (r *Relay) callError(ctx, callCtx context.Context, agentID string, err error) error {
	if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return types.NewError(types.ErrUpstreamTimeout, "agent turn timed out").
			WithCause(err).WithAgent(agentID).WithHTTPStatus(http.StatusGatewayTimeout).WithRetryable(true)
	}
	if e, ok := types.AsError(err); ok {
		if e.Agent == "" {
			e.Agent = agentID
		}
		return e
	}
	return types.NewError(types.ErrUpstreamError, "agent call failed").
		WithCause(err).WithAgent(agentID).WithHTTPStatus(http.StatusBadGateway).WithRetryable(true)
}

func toAny(in map[string]string) map[string]any {
	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
