// Package tokens estimates the token cost of text and messages. Every budget
// decision in the compaction pipeline goes through a Counter.
package tokens

import (
	"sync/atomic"

	"github.com/pkoukk/tiktoken-go"

	"github.com/dotsetgreg/chatpipe/pkg/chat"
	"github.com/dotsetgreg/chatpipe/pkg/logger"
)

const (
	// perMessageOverhead accounts for role tags and formatting the provider
	// wraps around each message.
	perMessageOverhead = 4

	// DefaultReservedTokens is headroom kept for the system prompt and the
	// model's response when summing a window.
	DefaultReservedTokens = 1024

	encodingName = "cl100k_base"
)

// Counter estimates token cost. Implementations must be pure and safe for
// concurrent use.
type Counter interface {
	Count(text string) int
	CountMessages(messages []chat.Message) int
}

// HeuristicCounter approximates tokens as ceil(chars/4) plus a fixed
// per-message overhead. Good enough for threshold comparison, not for billing.
type HeuristicCounter struct {
	ReservedTokens int
}

func (c *HeuristicCounter) Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

func (c *HeuristicCounter) CountMessages(messages []chat.Message) int {
	total := reservedOf(c.ReservedTokens)
	for _, m := range messages {
		if m.Usage != nil && m.Usage.TotalTokens > 0 {
			total += m.Usage.TotalTokens
			continue
		}
		total += c.Count(m.Content) + perMessageOverhead
	}
	return total
}

// TiktokenCounter counts with a subword encoding, falling back to the
// heuristic whenever the encoder is unavailable. The encoder is initialized
// lazily once per process and shared; inject a Counter rather than relying on
// the shared state so tests can substitute a deterministic stub.
type TiktokenCounter struct {
	ReservedTokens int
	fallback       HeuristicCounter
}

type encoderState struct {
	enc *tiktoken.Tiktoken
}

var activeEncoder atomic.Pointer[encoderState]

func loadEncoder() *tiktoken.Tiktoken {
	if st := activeEncoder.Load(); st != nil {
		return st.enc
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		logger.WarnCF("tokens", "tokenizer unavailable, using char heuristic",
			map[string]interface{}{"encoding": encodingName, "error": err.Error()})
		// Cache the failure too; repeated init attempts would stall every count.
		activeEncoder.Store(&encoderState{enc: nil})
		return nil
	}
	activeEncoder.Store(&encoderState{enc: enc})
	return enc
}

func (c *TiktokenCounter) Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	enc := loadEncoder()
	if enc == nil {
		return c.fallback.Count(text)
	}
	return len(enc.Encode(text, nil, nil))
}

func (c *TiktokenCounter) CountMessages(messages []chat.Message) int {
	total := reservedOf(c.ReservedTokens)
	for _, m := range messages {
		if m.Usage != nil && m.Usage.TotalTokens > 0 {
			total += m.Usage.TotalTokens
			continue
		}
		total += c.Count(m.Content) + perMessageOverhead
	}
	return total
}

// NewCounter returns the default counter: subword encoding with heuristic
// fallback. reserved <= 0 selects DefaultReservedTokens.
func NewCounter(reserved int) Counter {
	return &TiktokenCounter{ReservedTokens: reserved}
}

func reservedOf(reserved int) int {
	if reserved <= 0 {
		return DefaultReservedTokens
	}
	return reserved
}
