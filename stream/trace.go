package stream

import (
	"encoding/json"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Keys written by ExtractTrace next to the salvaged data.
const (
	TraceKeyFromTrace        = "_fromTrace"
	TraceKeyItems            = "_traceItems"
	TraceKeyToolObservations = "_toolObservations"
	TraceKeyAgentThought     = "_agentThought"
	TraceKeyLastAction       = "_lastAction"
)

const (
	toolResponseMarker = "tool response:"
	maxThoughtRunes    = 1000
)

// ExtractTrace salvages structured data from a reasoning trace whose agent
// ran out of iterations before answering. It returns nil when nothing beyond
// bookkeeping could be recovered. Entries that fail to parse are skipped.
func ExtractTrace(entries []any) map[string]any {
	if len(entries) == 0 {
		return nil
	}

	merged := map[string]any{}
	observations := 0
	thought := ""
	lastAction := ""

	for _, entry := range entries {
		item, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if inner, ok := item["data"].(map[string]any); ok {
			item = inner
		}

		switch obs := observationOf(item).(type) {
		case string:
			observations += mergeToolResponses(merged, obs)
			if v, ok := decodeObservation(obs); ok {
				mergeObject(merged, v)
			}
		case map[string]any:
			mergeObject(merged, obs)
		}

		if t, ok := item["thought"].(string); ok && utf8.RuneCountInString(t) > utf8.RuneCountInString(thought) {
			thought = t
		}
		for _, key := range []string{"action_name", "action", "tool"} {
			if name, ok := item[key].(string); ok && name != "" {
				lastAction = name
				break
			}
		}
	}

	if len(merged) == 0 && thought == "" && lastAction == "" {
		return nil
	}

	merged[TraceKeyFromTrace] = true
	merged[TraceKeyItems] = len(entries)
	merged[TraceKeyToolObservations] = observations
	if thought != "" {
		merged[TraceKeyAgentThought] = truncateRunes(thought, maxThoughtRunes)
	}
	if lastAction != "" {
		merged[TraceKeyLastAction] = lastAction
	}
	return merged
}

func observationOf(item map[string]any) any {
	for _, key := range []string{"observation", "tool_output"} {
		switch v := item[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			return v
		}
	}
	return nil
}

// mergeToolResponses 扫描 "tool response:" 标记后紧跟的 JSON 对象，返回成功解析的个数。
func mergeToolResponses(dst map[string]any, text string) int {
	count := 0
	rest := text
	for {
		i := strings.Index(rest, toolResponseMarker)
		if i < 0 {
			return count
		}
		rest = strings.TrimLeftFunc(rest[i+len(toolResponseMarker):], unicode.IsSpace)
		if !strings.HasPrefix(rest, "{") {
			continue
		}

		var v map[string]any
		dec := json.NewDecoder(strings.NewReader(rest))
		if err := dec.Decode(&v); err != nil {
			continue
		}
		mergeObject(dst, v)
		count++
		rest = rest[dec.InputOffset():]
	}
}

// decodeObservation parses an observation that is itself a JSON document,
// unwrapping one level of JSON string encoding.
func decodeObservation(text string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, false
	}
	if s, ok := v.(string); ok {
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, false
		}
	}
	return v, true
}

// mergeObject copies the object's data sub-object, or the object itself.
func mergeObject(dst map[string]any, v any) {
	obj, ok := v.(map[string]any)
	if !ok {
		return
	}
	if data, ok := obj["data"].(map[string]any); ok {
		obj = data
	}
	for k, val := range obj {
		dst[k] = val
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
