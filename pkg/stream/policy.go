package stream

import (
	"regexp"
	"strings"
)

// Policy rewrites a complete sentence group before emission. Implementations
// must be pure with respect to the segment: no buffering, no I/O.
type Policy interface {
	Rewrite(segment string) string
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc func(string) string

func (f PolicyFunc) Rewrite(segment string) string { return f(segment) }

// ChainPolicies applies policies in order.
func ChainPolicies(policies ...Policy) Policy {
	return PolicyFunc(func(segment string) string {
		for _, p := range policies {
			segment = p.Rewrite(segment)
			if segment == "" {
				return ""
			}
		}
		return segment
	})
}

// sycophanticOpeners are filler phrases stripped from the start of a
// sentence. The match is case-insensitive and consumes a trailing comma or
// space run.
var sycophanticOpeners = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(?:great|excellent|fantastic|awesome) question[,!.]?\s*`),
	regexp.MustCompile(`(?i)^(?:absolutely|certainly|of course)[,!.]?\s+`),
	regexp.MustCompile(`(?i)^you(?:'re| are) (?:absolutely |completely )?right[,!.]?\s*`),
	regexp.MustCompile(`(?i)^i(?:'d| would) be (?:happy|glad|delighted) to\s+`),
}

var fillerPhrases = map[string]string{
	"it's worth noting that ":   "",
	"it is worth noting that ":  "",
	"as an ai language model, ": "",
	"needless to say, ":         "",
}

// TonePolicy trims sycophantic openers and filler phrasing from each
// sentence group. It only removes text, so emissions shrink but never gain
// content the model did not produce.
type TonePolicy struct{}

func NewTonePolicy() *TonePolicy { return &TonePolicy{} }

func (p *TonePolicy) Rewrite(segment string) string {
	lead, body, trail := splitPadding(segment)

	for _, re := range sycophanticOpeners {
		if loc := re.FindStringIndex(body); loc != nil && loc[0] == 0 {
			body = body[loc[1]:]
			body = upperFirst(body)
			break
		}
	}
	lower := strings.ToLower(body)
	for phrase, repl := range fillerPhrases {
		if idx := strings.Index(lower, phrase); idx >= 0 {
			body = body[:idx] + repl + body[idx+len(phrase):]
			if idx == 0 {
				body = upperFirst(body)
			}
			lower = strings.ToLower(body)
		}
	}

	if strings.TrimSpace(body) == "" {
		return ""
	}
	return lead + body + trail
}

// ToneMetrics scores a full response for tone skew. Ratios are occurrences
// per 100 words, useful for logging and threshold alerts.
type ToneMetrics struct {
	Words           int
	SycophancyRatio float64
	HedgingRatio    float64
}

var hedgingPhrases = []string{
	"i think", "perhaps", "it might", "it may", "possibly", "arguably",
}

func MeasureTone(text string) ToneMetrics {
	words := len(strings.Fields(text))
	m := ToneMetrics{Words: words}
	if words == 0 {
		return m
	}
	lower := strings.ToLower(text)

	syc := 0
	for _, re := range sycophanticOpeners {
		syc += len(re.FindAllString(text, -1))
	}
	for phrase := range fillerPhrases {
		syc += strings.Count(lower, strings.TrimSpace(phrase))
	}
	hedge := 0
	for _, phrase := range hedgingPhrases {
		hedge += strings.Count(lower, phrase)
	}

	per100 := 100.0 / float64(words)
	m.SycophancyRatio = float64(syc) * per100
	m.HedgingRatio = float64(hedge) * per100
	return m
}

func splitPadding(s string) (lead, body, trail string) {
	start := 0
	for start < len(s) && isSpaceByte(s[start]) {
		start++
	}
	end := len(s)
	for end > start && isSpaceByte(s[end-1]) {
		end--
	}
	return s[:start], s[start:end], s[end:]
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	if c := s[0]; c >= 'a' && c <= 'z' {
		return string(c-'a'+'A') + s[1:]
	}
	return s
}
