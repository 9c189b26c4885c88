package compact

import (
	"sort"

	"github.com/dotsetgreg/chatpipe/pkg/chat"
	"github.com/dotsetgreg/chatpipe/pkg/logger"
	"github.com/dotsetgreg/chatpipe/pkg/tokens"
)

// Config holds the compaction tunables. Zero values select the defaults.
type Config struct {
	MaxContextTokens    int
	CompactionThreshold float64
	MaxRecentMessages   int
	SummaryChunkSize    int
	MaxSummaries        int
}

const (
	DefaultMaxContextTokens    = 8192
	DefaultCompactionThreshold = 0.8
	DefaultMaxRecentMessages   = 10
	DefaultSummaryChunkSize    = 20
	DefaultMaxSummaries        = 5

	// aggressiveRetention is the floor the compactor degrades to when even a
	// summarized window exceeds the budget.
	aggressiveRetention = 5
)

func (c Config) withDefaults() Config {
	if c.MaxContextTokens <= 0 {
		c.MaxContextTokens = DefaultMaxContextTokens
	}
	if c.CompactionThreshold <= 0 || c.CompactionThreshold > 1 {
		c.CompactionThreshold = DefaultCompactionThreshold
	}
	if c.MaxRecentMessages <= 0 {
		c.MaxRecentMessages = DefaultMaxRecentMessages
	}
	if c.SummaryChunkSize <= 0 {
		c.SummaryChunkSize = DefaultSummaryChunkSize
	}
	if c.MaxSummaries <= 0 {
		c.MaxSummaries = DefaultMaxSummaries
	}
	return c
}

// Compactor reduces older history to summaries once the window approaches the
// token budget. It holds no per-conversation state; every call is computed
// from its inputs, so a single Compactor is safe to share across requests.
type Compactor struct {
	cfg        Config
	counter    tokens.Counter
	summarizer *Summarizer
}

func NewCompactor(cfg Config, counter tokens.Counter, summarizer *Summarizer) *Compactor {
	cfg = cfg.withDefaults()
	if counter == nil {
		counter = tokens.NewCounter(0)
	}
	if summarizer == nil {
		summarizer = NewSummarizer(counter, nil)
	}
	return &Compactor{cfg: cfg, counter: counter, summarizer: summarizer}
}

// totalTokens sums the message window (reserved headroom included by the
// counter) and the retained summaries.
func (c *Compactor) totalTokens(messages []chat.Message, summaries []Summary) int {
	total := c.counter.CountMessages(messages)
	for _, s := range summaries {
		total += s.TokenCount
	}
	return total
}

// NeedsCompaction reports whether the window has crossed the trigger
// threshold.
func (c *Compactor) NeedsCompaction(messages []chat.Message, summaries []Summary) bool {
	trigger := int(float64(c.cfg.MaxContextTokens) * c.cfg.CompactionThreshold)
	return c.totalTokens(messages, summaries) >= trigger
}

// Compact performs one compaction pass. Below the trigger threshold the input
// is returned unchanged with WasCompacted=false. Compaction never returns an
// error: token estimation falls back internally and the worst case degrades
// to aggressive retention of the last few messages.
func (c *Compactor) Compact(messages []chat.Message, summaries []Summary) Result {
	if !c.NeedsCompaction(messages, summaries) {
		return Result{
			Messages:    messages,
			Summaries:   summaries,
			TotalTokens: c.totalTokens(messages, summaries),
		}
	}

	sorted := make([]chat.Message, len(messages))
	copy(sorted, messages)
	chat.SortMessages(sorted)

	keep := c.cfg.MaxRecentMessages
	if keep > len(sorted) {
		keep = len(sorted)
	}
	recent := sorted[len(sorted)-keep:]
	older := sorted[:len(sorted)-keep]

	newSummaries := make([]Summary, 0, len(older)/c.cfg.SummaryChunkSize+1)
	prevText := ""
	if n := len(summaries); n > 0 {
		prevText = summaries[n-1].Text
	}
	for start := 0; start < len(older); start += c.cfg.SummaryChunkSize {
		end := start + c.cfg.SummaryChunkSize
		if end > len(older) {
			end = len(older)
		}
		sum := c.summarizer.Summarize(older[start:end], prevText)
		prevText = sum.Text
		newSummaries = append(newSummaries, sum)
	}

	retained := mergeSummaries(summaries, newSummaries, c.cfg.MaxSummaries)
	window := recent
	total := c.totalTokens(window, retained)

	// Degrade rather than fail: if the summarized window still exceeds the
	// budget, shrink the retained window and shed low-importance summaries.
	if total > c.cfg.MaxContextTokens {
		if len(window) > aggressiveRetention {
			window = window[len(window)-aggressiveRetention:]
		}
		total = c.totalTokens(window, retained)
		for total > c.cfg.MaxContextTokens && len(retained) > 0 {
			retained = retained[:len(retained)-1]
			total = c.totalTokens(window, retained)
		}
		logger.WarnCF("compact", "degraded to aggressive retention",
			map[string]interface{}{
				"kept_messages": len(window),
				"summaries":     len(retained),
				"total_tokens":  total,
			})
	}

	logger.InfoCF("compact", "window compacted", map[string]interface{}{
		"input_messages": len(messages),
		"kept_messages":  len(window),
		"summaries":      len(retained),
		"total_tokens":   total,
	})

	return Result{
		Messages:        window,
		Summaries:       retained,
		TotalTokens:     total,
		WasCompacted:    true,
		RemovedMessages: len(messages) - len(window),
	}
}

// mergeSummaries unions old and new summaries and keeps the top maxKeep by
// importance. The sort is stable so ties keep their original order.
func mergeSummaries(old, fresh []Summary, maxKeep int) []Summary {
	merged := make([]Summary, 0, len(old)+len(fresh))
	merged = append(merged, old...)
	merged = append(merged, fresh...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Importance > merged[j].Importance
	})
	if len(merged) > maxKeep {
		merged = merged[:maxKeep]
	}
	return merged
}

// Snapshot computes the current window occupancy. Derived on demand; nothing
// is cached or persisted.
func (c *Compactor) Snapshot(messages []chat.Message, summaries []Summary) Window {
	total := c.totalTokens(messages, summaries)
	return Window{
		Messages:           messages,
		Summaries:          summaries,
		CurrentTokens:      total,
		MaxTokens:          c.cfg.MaxContextTokens,
		UtilizationPercent: float64(total) / float64(c.cfg.MaxContextTokens) * 100,
	}
}

// GetStrategy classifies current utilization so callers can warn before the
// hard trigger fires. It does not mutate anything.
func (c *Compactor) GetStrategy(messages []chat.Message, summaries []Summary) Strategy {
	w := c.Snapshot(messages, summaries)

	level := StrategyNone
	switch {
	case w.UtilizationPercent >= 95:
		level = StrategyAggressive
	case w.UtilizationPercent >= 80:
		level = StrategyModerate
	case w.UtilizationPercent >= 60:
		level = StrategyLight
	}

	reduction := 0
	if level != StrategyNone && len(messages) > c.cfg.MaxRecentMessages {
		older := messages[:len(messages)-c.cfg.MaxRecentMessages]
		olderTokens := c.counter.CountMessages(older)
		// A summary reclaims roughly nine tenths of the text it replaces.
		reduction = olderTokens * 9 / 10
	}

	return Strategy{
		Level:              level,
		UtilizationPercent: w.UtilizationPercent,
		EstimatedReduction: reduction,
	}
}

// FormatContext renders the compacted state for model consumption: a single
// synthetic system message carrying the summaries, then the verbatim recent
// messages. The model never sees raw older messages once compacted.
func FormatContext(messages []chat.Message, summaries []Summary) []chat.Message {
	out := make([]chat.Message, 0, len(messages)+1)
	if len(summaries) > 0 {
		out = append(out, chat.Message{
			Role:    chat.RoleSystem,
			Content: JoinSummaries(summaries),
		})
	}
	out = append(out, messages...)
	return out
}

// JoinSummaries concatenates summary texts with separators for prompt
// injection.
func JoinSummaries(summaries []Summary) string {
	if len(summaries) == 0 {
		return ""
	}
	text := "## Earlier Conversation (compacted)\n\n"
	for i, s := range summaries {
		if i > 0 {
			text += "\n\n---\n\n"
		}
		text += s.Text
	}
	return text
}
