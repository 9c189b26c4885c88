// Package compact keeps a growing conversation inside a bounded token budget.
// It scores messages for retention, reduces older history to template-based
// summaries, and retains a sliding window of recent turns.
package compact

import (
	"time"

	"github.com/dotsetgreg/chatpipe/pkg/chat"
)

// Summary is the compacted form of a contiguous chunk of older messages.
// Summaries are immutable; re-summarization supersedes rather than mutates.
type Summary struct {
	ID           string    `json:"id"`
	MessageIDs   []string  `json:"message_ids"`
	Text         string    `json:"summary"`
	TokenCount   int       `json:"token_count"`
	Importance   float64   `json:"importance"`
	Timestamp    time.Time `json:"timestamp"`
	MessageCount int       `json:"message_count"`
}

// Window is a computed snapshot of context occupancy. It is derived on
// demand and never persisted.
type Window struct {
	Messages           []chat.Message
	Summaries          []Summary
	CurrentTokens      int
	MaxTokens          int
	UtilizationPercent float64
}

// Result is the outcome of one compaction pass.
type Result struct {
	Messages        []chat.Message
	Summaries       []Summary
	TotalTokens     int
	WasCompacted    bool
	RemovedMessages int
}

// StrategyLevel classifies how aggressively the caller should expect the
// next compaction to behave.
type StrategyLevel string

const (
	StrategyNone       StrategyLevel = "none"
	StrategyLight      StrategyLevel = "light"
	StrategyModerate   StrategyLevel = "moderate"
	StrategyAggressive StrategyLevel = "aggressive"
)

// Strategy is advisory: utilization classification plus the token reduction a
// compaction pass would be expected to reclaim. Computing it never mutates
// compactor state.
type Strategy struct {
	Level              StrategyLevel
	UtilizationPercent float64
	EstimatedReduction int
}
