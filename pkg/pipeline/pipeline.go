// Package pipeline wires context compaction, memory enrichment, and stream
// transformation around a single model call.
package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/dotsetgreg/chatpipe/pkg/chat"
	"github.com/dotsetgreg/chatpipe/pkg/compact"
	"github.com/dotsetgreg/chatpipe/pkg/logger"
	"github.com/dotsetgreg/chatpipe/pkg/memory"
	"github.com/dotsetgreg/chatpipe/pkg/model"
	"github.com/dotsetgreg/chatpipe/pkg/stream"
)

// Pipeline orchestrates the three phases of one exchange: prepare the model
// context, reshape the streamed response, and kick off post-response memory
// extraction. It holds no conversation state; callers own the transcript.
type Pipeline struct {
	compactor  *compact.Compactor
	enricher   *memory.Enricher
	worker     *memory.Worker
	policy     stream.Policy
	flushLimit int
}

// Deps bundles the pipeline collaborators. Enricher and Worker may be nil
// when memory is disabled; Policy may be nil to stream text unmodified.
type Deps struct {
	Compactor  *compact.Compactor
	Enricher   *memory.Enricher
	Worker     *memory.Worker
	Policy     stream.Policy
	FlushLimit int
}

func New(deps Deps) *Pipeline {
	if deps.Compactor == nil {
		deps.Compactor = compact.NewCompactor(compact.Config{}, nil, nil)
	}
	return &Pipeline{
		compactor:  deps.Compactor,
		enricher:   deps.Enricher,
		worker:     deps.Worker,
		policy:     deps.Policy,
		flushLimit: deps.FlushLimit,
	}
}

// PreparedContext is the model-ready view of one conversation turn.
type PreparedContext struct {
	// Messages is what goes on the wire: enrichment and summaries as system
	// messages, then the verbatim retained window.
	Messages []chat.Message

	Compaction compact.Result
	Enrichment memory.EnrichmentResult
}

// PrepareContext compacts the transcript if needed and enriches the latest
// user turn with recalled memories. It never fails; memory errors degrade to
// no enrichment and compaction degrades internally.
func (p *Pipeline) PrepareContext(ctx context.Context, userID string, messages []chat.Message, summaries []compact.Summary) PreparedContext {
	prepared := PreparedContext{
		Compaction: p.compactor.Compact(messages, summaries),
	}

	if p.enricher != nil {
		if turn := lastUserTurn(messages); turn != "" {
			prepared.Enrichment = p.enricher.Enrich(ctx, turn, userID)
		}
	}

	wire := make([]chat.Message, 0, len(prepared.Compaction.Messages)+2)
	if prepared.Enrichment.EnrichedContent != "" {
		wire = append(wire, chat.Message{
			Role:    chat.RoleSystem,
			Content: prepared.Enrichment.EnrichedContent,
		})
	}
	wire = append(wire, compact.FormatContext(prepared.Compaction.Messages, prepared.Compaction.Summaries)...)
	prepared.Messages = wire
	return prepared
}

// TransformStream drains src through the sentence buffer, calling emit for
// each complete segment, and returns the full emitted text. On abnormal
// termination the buffered remainder is discarded and the partial text is
// returned alongside the error.
func (p *Pipeline) TransformStream(ctx context.Context, src model.TokenStream, emit func(segment string)) (string, error) {
	t := stream.NewTransform(p.policy, p.flushLimit)
	var full strings.Builder
	deliver := func(segment string) {
		if segment == "" {
			return
		}
		full.WriteString(segment)
		if emit != nil {
			emit(segment)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return full.String(), err
		}
		frame, err := src.Recv()
		if len(frame) > 0 {
			deliver(t.Push(frame))
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			deliver(t.Flush())
			text := full.String()
			tone := stream.MeasureTone(text)
			logger.DebugCF("pipeline", "response complete", map[string]interface{}{
				"words":      tone.Words,
				"sycophancy": tone.SycophancyRatio,
				"hedging":    tone.HedgingRatio,
			})
			return text, nil
		}
		logger.WarnCF("pipeline", "stream terminated abnormally",
			map[string]interface{}{"error": err.Error()})
		return full.String(), err
	}
}

// OnResponseComplete queues memory extraction for the finished exchange. It
// returns immediately; extraction runs on the worker goroutine and its
// failures never reach the caller.
func (p *Pipeline) OnResponseComplete(userID string, recent []chat.Message, assistantReply string) {
	if p.worker == nil || strings.TrimSpace(assistantReply) == "" {
		return
	}
	p.worker.Enqueue(memory.ExtractionJob{
		UserID:         userID,
		RecentUser:     tailMessages(recent, 4),
		AssistantReply: assistantReply,
	})
}

func lastUserTurn(messages []chat.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == chat.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func tailMessages(messages []chat.Message, n int) []chat.Message {
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}
