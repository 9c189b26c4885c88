package memory

import (
	"regexp"
	"strings"
	"time"

	"github.com/dotsetgreg/chatpipe/pkg/chat"
)

var (
	prefPattern     = regexp.MustCompile(`(?i)\b(i (?:really )?(?:like|love|prefer|hate|dislike)\b[^.!?\n]*)`)
	identityPattern = regexp.MustCompile(`(?i)\b(?:my name is|call me)\s+([A-Za-z0-9 _\-]{2,50})`)
	locationPattern = regexp.MustCompile(`(?i)\b(?:my timezone is|time ?zone is|i live in|i'm based in|i am based in)\s+([A-Za-z0-9_\-/:+ ]{2,80})`)
	factPattern     = regexp.MustCompile(`(?i)\b(i (?:am|have|use|work on|work with|build|built|maintain|live in|need|want|own|run|study)\b[^.!?\n]{4,180})`)
	howToPattern    = regexp.MustCompile(`(?i)\b(?:to|you can|you should)\s+([a-z][^.!?\n]{10,160})`)

	questionLeadPattern   = regexp.MustCompile(`(?i)^\s*(?:what|why|how|when|where|who|can|could|would|do|does|did|is|are|am|if|whether)\b`)
	persistenceCuePattern = regexp.MustCompile(`(?i)\b(?:remember|note|save|store|track|my name is|call me)\b`)
	sentenceSplitPattern  = regexp.MustCompile(`[.!?\n;]+`)
	hedgedLeadPattern     = regexp.MustCompile(`(?i)^i (?:think|guess|wonder|hope|suppose|feel)\b`)
)

const maxRecordsPerExchange = 8

// Extractor derives candidate memory records from one completed exchange. The
// heuristics are regex-based and deliberately conservative: questions without
// a persistence cue yield nothing, and hedged statements are skipped.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract inspects the last user turns and the assistant reply and returns
// records worth persisting. The slice may be empty.
func (x *Extractor) Extract(recentUser []chat.Message, assistantReply string) []Record {
	now := time.Now()
	records := []Record{}
	seen := map[string]struct{}{}
	add := func(rec Record) {
		key := string(rec.Type) + "|" + strings.ToLower(rec.Content)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		records = append(records, rec)
	}

	for _, msg := range recentUser {
		if msg.Role != chat.RoleUser {
			continue
		}
		for _, rec := range extractFromUserTurn(msg.Content, now) {
			add(rec)
		}
	}
	for _, rec := range extractFromReply(assistantReply, now) {
		add(rec)
	}

	if len(records) > maxRecordsPerExchange {
		records = records[:maxRecordsPerExchange]
	}
	return records
}

func extractFromUserTurn(content string, now time.Time) []Record {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	// Questions are recall, not facts, unless the user explicitly asked us
	// to remember something.
	if isLikelyQuestion(content) && !persistenceCuePattern.MatchString(content) {
		return nil
	}

	out := []Record{}
	for _, m := range identityPattern.FindAllStringSubmatch(content, -1) {
		if name := normalizePhrase(m[1]); name != "" {
			out = append(out, Record{
				Content:    "User identity: " + name,
				Type:       RecordSemantic,
				Source:     SourceUser,
				Importance: 0.9,
				Tags:       []string{"identity"},
				Timestamp:  now,
			})
		}
	}
	for _, m := range locationPattern.FindAllStringSubmatch(content, -1) {
		if loc := normalizePhrase(m[1]); loc != "" {
			out = append(out, Record{
				Content:    "User location/timezone: " + loc,
				Type:       RecordSemantic,
				Source:     SourceUser,
				Importance: 0.7,
				Tags:       []string{"profile"},
				Timestamp:  now,
			})
		}
	}
	for _, m := range prefPattern.FindAllStringSubmatch(content, -1) {
		if pref := normalizePhrase(m[1]); pref != "" {
			out = append(out, Record{
				Content:    pref,
				Type:       RecordSemantic,
				Source:     SourceUser,
				Importance: 0.8,
				Tags:       []string{"preference"},
				Timestamp:  now,
			})
		}
	}
	for _, phrase := range firstPersonFacts(content) {
		out = append(out, Record{
			Content:    phrase,
			Type:       RecordEpisodic,
			Source:     SourceUser,
			Importance: 0.6,
			Tags:       []string{"fact"},
			Timestamp:  now,
		})
	}
	return out
}

// extractFromReply captures procedural knowledge the assistant explained, but
// only when the reply reads like an instruction.
func extractFromReply(reply string, now time.Time) []Record {
	reply = strings.TrimSpace(reply)
	if reply == "" || !strings.Contains(strings.ToLower(reply), "step") &&
		!strings.Contains(strings.ToLower(reply), "you can") &&
		!strings.Contains(strings.ToLower(reply), "you should") {
		return nil
	}

	out := []Record{}
	for _, m := range howToPattern.FindAllStringSubmatch(reply, 2) {
		if phrase := normalizePhrase(m[1]); phrase != "" {
			out = append(out, Record{
				Content:    "How-to: " + phrase,
				Type:       RecordProcedural,
				Source:     SourceAssistant,
				Importance: 0.5,
				Tags:       []string{"howto"},
				Timestamp:  now,
			})
		}
	}
	return out
}

func firstPersonFacts(content string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	add := func(v string) {
		v = normalizePhrase(v)
		if v == "" {
			return
		}
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			return
		}
		if hedgedLeadPattern.MatchString(key) {
			return
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}

	for _, m := range factPattern.FindAllStringSubmatch(content, -1) {
		add(m[1])
	}
	for _, part := range sentenceSplitPattern.Split(content, -1) {
		part = strings.TrimSpace(part)
		lower := strings.ToLower(part)
		if len(lower) < 8 || !strings.HasPrefix(lower, "my ") {
			continue
		}
		add(part)
	}
	if len(out) > 6 {
		out = out[:6]
	}
	return out
}

func normalizePhrase(in string) string {
	in = strings.Trim(strings.TrimSpace(in), " .,!?:;\"'")
	if len(in) < 2 {
		return ""
	}
	if len(in) > 180 {
		in = strings.TrimSpace(in[:180])
	}
	return in
}

func isLikelyQuestion(content string) bool {
	return strings.Contains(content, "?") || questionLeadPattern.MatchString(content)
}
