package relay

import (
	"context"
	"strings"

	"github.com/BaSui01/agentrelay/envelope"
	"github.com/BaSui01/agentrelay/router"
)

// 转发给新 Agent 的上下文长度上限（按字符）
const (
	maxForwardQuery   = 2000
	maxForwardSummary = 3000
	maxForwardInput   = 4000
)

const forwardHeader = "[CONTEXT FROM ORCHESTRATOR]\n" +
	"The following product details were gathered during the routing phase. " +
	"Please use this context to begin the structured interview; do not re-ask questions already answered."

func (r *Relay) shouldForward(res *Result) bool {
	if !r.cfg.ForwardContext || !res.Decision.ShouldSwitch {
		return false
	}
	switch res.Decision.Action {
	case envelope.ActionDelegateAgent, envelope.ActionRouteDomain:
		return true
	}
	return false
}

// forward runs one follow-up turn so the new agent starts with what the
// previous one gathered. It never forwards again.
func (r *Relay) forward(ctx context.Context, sessionID string, st router.State, in Input, prev *Result, emit func(Event)) (*Result, router.State, error) {
	inputs := make(map[string]string, len(in.Inputs)+1)
	for k, v := range in.Inputs {
		inputs[k] = v
	}
	inputs["orchestrator_message"] = truncateRunes(prev.Answer, maxForwardInput)

	fin := Input{
		Query:  forwardQuery(in.Query, prev.Answer),
		Inputs: inputs,
		User:   in.User,
	}
	res, next, err := r.turn(ctx, sessionID, st, fin, emit)
	if err != nil {
		return nil, st, err
	}
	if err := r.save(ctx, sessionID, next); err != nil {
		return nil, st, err
	}
	r.finish(res, next)
	if res.Decision.Change != nil {
		r.announce(sessionID, []*router.Change{res.Decision.Change}, emit)
	}
	emit(Event{Type: EventResult, SessionID: sessionID, AgentID: res.AgentID, Result: res})
	return res, next, nil
}

func forwardQuery(query, summary string) string {
	var b strings.Builder
	b.WriteString(forwardHeader)
	b.WriteString("\n\nUser's original request:\n")
	b.WriteString(truncateRunes(query, maxForwardQuery))
	b.WriteString("\n\nOrchestrator summary:\n")
	b.WriteString(truncateRunes(summary, maxForwardSummary))
	return b.String()
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
