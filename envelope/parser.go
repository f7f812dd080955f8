package envelope

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Convention names the embedding an envelope was recovered from.
type Convention string

const (
	ConventionMarkers  Convention = "markers"
	ConventionMeta     Convention = "meta"
	ConventionOutputs  Convention = "workflow_outputs"
	ConventionError    Convention = "error"
	ConventionFallback Convention = "fallback"
)

// Parsed is the result of parsing completed answer text.
type Parsed struct {
	Answer      string     `json:"answer"`
	Envelope    Envelope   `json:"metadata"`
	Convention  Convention `json:"convention"`
	KnownAction bool       `json:"known_action"`
}

// Strategy recovers an envelope using one textual convention.
// ok=false means the convention does not apply and the next one is tried.
type Strategy interface {
	Name() Convention
	Parse(text string) (Parsed, bool)
}

// Parser tries its strategies in order and falls back deterministically.
// Parse never fails and never returns a partially filled envelope.
type Parser struct {
	strategies []Strategy
}

// NewParser builds a parser over the given strategies. With none, the
// bracket-marker convention is tried before the inline meta tag.
func NewParser(strategies ...Strategy) *Parser {
	if len(strategies) == 0 {
		strategies = []Strategy{MarkerStrategy{}, MetaStrategy{}}
	}
	return &Parser{strategies: strategies}
}

var defaultParser = NewParser()

// Parse parses text with the default strategy chain.
func Parse(text string) Parsed {
	return defaultParser.Parse(text)
}

// Parse resolves text to an envelope plus the answer with the instruction stripped.
func (p *Parser) Parse(text string) (out Parsed) {
	defer func() {
		if r := recover(); r != nil {
			out = fallbackParsed(text, fmt.Sprintf("parser panic: %v", r))
		}
	}()

	for _, s := range p.strategies {
		if res, ok := s.Parse(text); ok {
			return normalize(res)
		}
	}
	return fallbackParsed(text, "")
}

func normalize(p Parsed) Parsed {
	if p.Envelope.Action == "" {
		p.Envelope.Action = ActionShowRawResponse
	}
	if p.Envelope.AgentID == "" {
		p.Envelope.AgentID = UnknownAgent
	}
	if p.Envelope.Payload == nil {
		p.Envelope.Payload = map[string]any{}
	}
	if p.Envelope.Trace == nil {
		p.Envelope.Trace = map[string]any{}
	}
	p.KnownAction = p.Envelope.Action.IsKnown()
	return p
}

func fallbackParsed(text, detail string) Parsed {
	env := Fallback(text)
	if detail != "" {
		env.Trace[keyTraceDetail] = detail
	}
	return Parsed{Answer: text, Envelope: env, Convention: ConventionFallback, KnownAction: true}
}

// =============================================================================
// 🏷️ Convention A: [NPA_KEY]value 行标记
// =============================================================================

const (
	markerPrefix  = "[NPA_"
	markerAction  = "NPA_ACTION"
	markerAgent   = "NPA_AGENT"
	markerData    = "NPA_DATA"
	markerProject = "NPA_PROJECT"
	markerIntent  = "NPA_INTENT"
	markerTarget  = "NPA_TARGET"
	markerSession = "NPA_SESSION"
)

// MarkerStrategy recognises `[NPA_KEY]value` lines. [NPA_ACTION] is required.
// The answer is everything before the first marker line.
type MarkerStrategy struct{}

// Name implements Strategy.
func (MarkerStrategy) Name() Convention { return ConventionMarkers }

// Parse implements Strategy.
func (MarkerStrategy) Parse(text string) (Parsed, bool) {
	lines := strings.Split(text, "\n")
	markers := make(map[string]string)
	first := -1

	for i, line := range lines {
		stripped := strings.TrimSpace(line)
		if !strings.HasPrefix(stripped, markerPrefix) {
			continue
		}
		if first < 0 {
			first = i
		}
		if end := strings.IndexByte(stripped, ']'); end > 0 {
			markers[stripped[1:end]] = strings.TrimSpace(stripped[end+1:])
		}
	}

	action := markers[markerAction]
	if first < 0 || action == "" {
		return Parsed{}, false
	}

	var data any = map[string]any{}
	if raw := markers[markerData]; raw != "" {
		if v, err := decodeJSON(raw); err == nil {
			data = v
		} else {
			data = map[string]any{keyRawAnswer: raw}
		}
	}

	agentID := markers[markerAgent]
	if agentID == "" {
		agentID = UnknownAgent
	}

	return Parsed{
		Answer: strings.TrimRightFunc(strings.Join(lines[:first], "\n"), unicode.IsSpace),
		Envelope: Envelope{
			Action:  Action(action),
			AgentID: agentID,
			Payload: map[string]any{
				keyProjectID:   markers[markerProject],
				keyIntent:      markers[markerIntent],
				keyTargetAgent: markers[markerTarget],
				keyUIRoute:     DefaultUIRoute,
				keyData:        data,
			},
			Trace: map[string]any{keySessionID: markers[markerSession]},
		},
		Convention: ConventionMarkers,
	}, true
}

// =============================================================================
// 🔖 Convention B: @@NPA_META@@{json} / @@COO_META@@{json}
// =============================================================================

// metaPattern 兼容两种历史拼写，JSON 对象必须延伸到文本末尾。
var metaPattern = regexp.MustCompile(`(?s)@@(?:NPA|COO)_META@@(\{.*\})\s*$`)

// MetaStrategy recognises an inline tag followed by a JSON object that runs
// to the end of the text. Malformed JSON resolves to the fallback envelope
// with the full text kept as the answer.
type MetaStrategy struct{}

// Name implements Strategy.
func (MetaStrategy) Name() Convention { return ConventionMeta }

// Parse implements Strategy.
func (MetaStrategy) Parse(text string) (Parsed, bool) {
	loc := metaPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return Parsed{}, false
	}

	v, err := decodeJSON(text[loc[2]:loc[3]])
	if err != nil {
		return fallbackParsed(text, err.Error()), true
	}
	meta, ok := v.(map[string]any)
	if !ok {
		return fallbackParsed(text, "meta is not an object"), true
	}

	action, _ := meta["agent_action"].(string)
	agentID, _ := meta["agent_id"].(string)
	return Parsed{
		Answer: strings.TrimRightFunc(text[:loc[0]], unicode.IsSpace),
		Envelope: Envelope{
			Action:  Action(action),
			AgentID: agentID,
			Payload: asObject(meta["payload"]),
			Trace:   asObject(meta["trace"]),
		},
		Convention: ConventionMeta,
	}, true
}
