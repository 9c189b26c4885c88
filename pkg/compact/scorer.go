package compact

import (
	"strings"

	"github.com/dotsetgreg/chatpipe/pkg/chat"
)

// Scorer assigns a retention importance to a message. Implementations are
// pure policy; the compactor only needs the ordering they induce.
type Scorer interface {
	Score(msg chat.Message, index, chunkSize int) float64
}

// searchDelegationMarkers flag turns the assistant handed off to the search
// service; those carry retrieval context worth keeping.
var searchDelegationMarkers = []string{
	"[search]",
	"searching the web",
	"web search results",
	"according to search",
}

// HeuristicScorer ranks messages on recency, role, length and content
// patterns. Scores are clamped to [0, 100]; ties are broken by insertion
// order downstream.
type HeuristicScorer struct{}

func NewHeuristicScorer() *HeuristicScorer { return &HeuristicScorer{} }

func (s *HeuristicScorer) Score(msg chat.Message, index, chunkSize int) float64 {
	score := 0.0

	if chunkSize > 0 {
		score += float64(index) / float64(chunkSize) * 30
	}
	if msg.Role == chat.RoleUser {
		score += 10
	}

	lengthBonus := float64(len(msg.Content)) / 100
	if lengthBonus > 20 {
		lengthBonus = 20
	}
	score += lengthBonus

	if strings.Contains(msg.Content, "?") {
		score += 15
	}
	if strings.Contains(msg.Content, "```") {
		score += 20
	}
	lower := strings.ToLower(msg.Content)
	for _, marker := range searchDelegationMarkers {
		if strings.Contains(lower, marker) {
			score += 25
			break
		}
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
