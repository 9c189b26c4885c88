// Package chat defines the provider-agnostic conversation types shared by the
// compaction, memory and streaming pipeline stages.
package chat

import (
	"sort"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TokenUsage is the provider-reported token accounting for a message.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Message is one turn of the conversation transcript. Messages are immutable
// once created; compaction removes them from the active window but never
// mutates them.
type Message struct {
	ID        string      `json:"id"`
	Role      string      `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	Usage     *TokenUsage `json:"token_usage,omitempty"`
}

// SortMessages orders messages chronologically. The sort is stable so
// messages sharing a timestamp keep their insertion order.
func SortMessages(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
}
