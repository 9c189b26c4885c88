package compact

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dotsetgreg/chatpipe/pkg/chat"
	"github.com/dotsetgreg/chatpipe/pkg/tokens"
)

// topicVocabulary is the fixed set of domain terms the summarizer scans for.
// Matching is whole-word, case-insensitive.
var topicVocabulary = []string{
	"deploy", "bug", "error", "config", "database", "schedule", "reminder",
	"search", "code", "test", "file", "memory", "api", "email", "meeting",
	"travel", "weather", "price", "install", "upgrade", "password", "backup",
}

const (
	maxQuestionFragments = 3
	questionFragmentLen  = 120
	backReferenceLen     = 100
)

// Summarizer reduces a chunk of messages into a Summary. Generation is
// template-based and deterministic for a given chunk; there is no model call
// and no error path.
type Summarizer struct {
	counter tokens.Counter
	scorer  Scorer
}

func NewSummarizer(counter tokens.Counter, scorer Scorer) *Summarizer {
	if counter == nil {
		counter = tokens.NewCounter(0)
	}
	if scorer == nil {
		scorer = NewHeuristicScorer()
	}
	return &Summarizer{counter: counter, scorer: scorer}
}

// Summarize digests chunk into a Summary. previousSummary, when non-empty, is
// back-referenced (first 100 chars) so sequential chunk summaries read as a
// continuous narrative.
func (s *Summarizer) Summarize(chunk []chat.Message, previousSummary string) Summary {
	userTurns := 0
	assistantTurns := 0
	topics := []string{}
	topicSeen := map[string]struct{}{}
	questions := []string{}
	ids := make([]string, 0, len(chunk))
	importance := 0.0

	for i, msg := range chunk {
		ids = append(ids, msg.ID)
		importance += s.scorer.Score(msg, i, len(chunk))

		switch msg.Role {
		case chat.RoleUser:
			userTurns++
		case chat.RoleAssistant:
			assistantTurns++
		}

		lower := strings.ToLower(msg.Content)
		for _, term := range topicVocabulary {
			if _, ok := topicSeen[term]; ok {
				continue
			}
			if containsWord(lower, term) {
				topicSeen[term] = struct{}{}
				topics = append(topics, term)
			}
		}

		if msg.Role == chat.RoleUser && len(questions) < maxQuestionFragments {
			if q := firstQuestionFragment(msg.Content); q != "" {
				questions = append(questions, q)
			}
		}
	}
	if len(chunk) > 0 {
		importance /= float64(len(chunk))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Conversation segment: %d user and %d assistant turns.", userTurns, assistantTurns)
	if len(topics) > 0 {
		b.WriteString(" Topics: ")
		b.WriteString(strings.Join(topics, ", "))
		b.WriteString(".")
	}
	for _, q := range questions {
		b.WriteString("\n- Asked: ")
		b.WriteString(q)
	}
	if prev := strings.TrimSpace(previousSummary); prev != "" {
		if len(prev) > backReferenceLen {
			prev = prev[:backReferenceLen]
		}
		b.WriteString("\nFollows: ")
		b.WriteString(prev)
	}
	text := b.String()

	ts := time.Now()
	if len(chunk) > 0 {
		ts = chunk[len(chunk)-1].Timestamp
	}
	return Summary{
		ID:           "sum-" + uuid.NewString(),
		MessageIDs:   ids,
		Text:         text,
		TokenCount:   s.counter.Count(text),
		Importance:   importance,
		Timestamp:    ts,
		MessageCount: len(chunk),
	}
}

func containsWord(haystack, word string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		leftOK := start == 0 || !isWordByte(haystack[start-1])
		rightOK := end >= len(haystack) || !isWordByte(haystack[end])
		if leftOK && rightOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// firstQuestionFragment extracts the first sentence ending in '?', truncated
// for the digest.
func firstQuestionFragment(content string) string {
	qIdx := strings.Index(content, "?")
	if qIdx < 0 {
		return ""
	}
	start := qIdx
	for start > 0 {
		c := content[start-1]
		if c == '.' || c == '!' || c == '?' || c == '\n' {
			break
		}
		start--
	}
	frag := strings.TrimSpace(content[start : qIdx+1])
	if len(frag) > questionFragmentLen {
		frag = frag[len(frag)-questionFragmentLen:]
	}
	return frag
}
