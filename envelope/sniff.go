package envelope

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// delegationPhrase 匹配 "routing to X"、"handing you over to X" 等自然语言移交表述。
var delegationPhrase = regexp.MustCompile(
	`(?i)\b(?:routing|delegating|transferring|redirecting|handing(?:\s+you)?\s+(?:over|off)|connecting|forwarding)` +
		`(?:\s+(?:you|your\s+request|this))?\s+to\s+(?:the\s+)?([^.!?\n]{1,80})`)

// SniffDelegation is a best-effort heuristic for answers that announce a
// hand-off in prose without an envelope. candidates maps agent ids to extra
// names (display names, upstream ids). The longest matching name wins; the
// agent id itself always counts as a name.
//
// It guesses. Callers must opt in and treat a hit as a suggestion.
func SniffDelegation(text string, candidates map[string][]string) (string, bool) {
	if text == "" || len(candidates) == 0 {
		return "", false
	}

	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, m := range delegationPhrase.FindAllStringSubmatch(text, -1) {
		tail := normalizeName(m[1])
		best, bestLen := "", 0
		for _, id := range ids {
			for _, name := range append([]string{id}, candidates[id]...) {
				n := normalizeName(name)
				if n == "" || len(n) <= bestLen {
					continue
				}
				if tail == n || strings.HasPrefix(tail, n+"_") {
					best, bestLen = id, len(n)
				}
			}
		}
		if best != "" {
			return best, true
		}
	}
	return "", false
}

// normalizeName 转大写并把非字母数字字符折叠成单个下划线。
func normalizeName(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(unicode.ToUpper(r))
			continue
		}
		pending = true
	}
	return b.String()
}
