package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dotsetgreg/chatpipe/pkg/chat"
	"github.com/dotsetgreg/chatpipe/pkg/compact"
	"github.com/dotsetgreg/chatpipe/pkg/config"
	"github.com/dotsetgreg/chatpipe/pkg/logger"
	"github.com/dotsetgreg/chatpipe/pkg/memory"
	"github.com/dotsetgreg/chatpipe/pkg/model"
	"github.com/dotsetgreg/chatpipe/pkg/pipeline"
	"github.com/dotsetgreg/chatpipe/pkg/stream"
	"github.com/dotsetgreg/chatpipe/pkg/tokens"
)

func newChatCmd() *cobra.Command {
	var userID string
	var message string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat through the pipeline (interactive unless -m is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runChat(cfg, userID, message)
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "local", "user id for memory scoping")
	cmd.Flags().StringVarP(&message, "message", "m", "", "send one message and exit")
	return cmd
}

// session holds one conversation transcript across turns. The pipeline
// itself is stateless; this is the caller-owned state it operates on.
type session struct {
	cfg    *config.Config
	client *model.Client
	pipe   *pipeline.Pipeline
	worker *memory.Worker
	store  memory.Store

	userID    string
	messages  []chat.Message
	summaries []compact.Summary
}

func newSession(cfg *config.Config, userID string) (*session, error) {
	client, err := model.NewClient(cfg.Provider.APIBase, cfg.Provider.APIKey,
		cfg.Provider.Model, cfg.Provider.Proxy, nil)
	if err != nil {
		return nil, err
	}

	counter := tokens.NewCounter(cfg.Context.ReservedTokens)
	compactor := compact.NewCompactor(compact.Config{
		MaxContextTokens:    cfg.Context.MaxContextTokens,
		CompactionThreshold: cfg.Context.CompactionThreshold,
		MaxRecentMessages:   cfg.Context.MaxRecentMessages,
		SummaryChunkSize:    cfg.Context.SummaryChunkSize,
		MaxSummaries:        cfg.Context.MaxSummaries,
	}, counter, compact.NewSummarizer(counter, nil))

	s := &session{cfg: cfg, client: client, userID: userID}

	var enricher *memory.Enricher
	if cfg.Memory.Enabled {
		store, err := memory.NewSQLiteStore(cfg.MemoryDBPath())
		if err != nil {
			logger.WarnCF("main", "memory store unavailable, continuing without memory",
				map[string]interface{}{"error": err.Error()})
		} else {
			s.store = store
			enricher = memory.NewEnricher(store, memory.EnricherConfig{
				RecallLimit: cfg.Memory.RecallLimit,
				CacheTTL:    time.Duration(cfg.Memory.CacheSeconds) * time.Second,
			})
			s.worker = memory.NewWorker(store, memory.NewExtractor(), memory.WorkerConfig{
				QueueDepth:      cfg.Memory.QueueDepth,
				ExtractionDelay: time.Duration(cfg.Memory.ExtractionDelayMS) * time.Millisecond,
				SweepSchedule:   cfg.Memory.SweepSchedule,
			})
		}
	}

	var policy stream.Policy
	if cfg.Stream.ToneFilter {
		policy = stream.NewTonePolicy()
	}

	s.pipe = pipeline.New(pipeline.Deps{
		Compactor:  compactor,
		Enricher:   enricher,
		Worker:     s.worker,
		Policy:     policy,
		FlushLimit: cfg.Stream.FlushBufferLimit,
	})
	return s, nil
}

func (s *session) close() {
	if s.worker != nil {
		s.worker.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

// turn runs one full exchange: append the user message, prepare context,
// stream the reply to stdout, and record the outcome.
func (s *session) turn(ctx context.Context, input string) error {
	s.messages = append(s.messages, chat.Message{
		ID:        "msg-" + uuid.NewString(),
		Role:      chat.RoleUser,
		Content:   input,
		Timestamp: time.Now(),
	})

	prepared := s.pipe.PrepareContext(ctx, s.userID, s.messages, s.summaries)
	if prepared.Compaction.WasCompacted {
		s.messages = prepared.Compaction.Messages
		s.summaries = prepared.Compaction.Summaries
	}

	src, err := s.client.ChatStream(ctx, prepared.Messages, model.Options{
		MaxTokens:   s.cfg.Provider.MaxTokens,
		Temperature: s.cfg.Provider.Temperature,
		HasTemp:     true,
	})
	if err != nil {
		return err
	}
	defer src.Close()

	reply, err := s.pipe.TransformStream(ctx, src, func(segment string) {
		fmt.Print(segment)
	})
	fmt.Println()
	if err != nil {
		return err
	}

	msg := chat.Message{
		ID:        "msg-" + uuid.NewString(),
		Role:      chat.RoleAssistant,
		Content:   reply,
		Timestamp: time.Now(),
	}
	if usage := src.Usage(); usage != nil {
		msg.Usage = usage
	}
	s.messages = append(s.messages, msg)

	s.pipe.OnResponseComplete(s.userID, s.messages, reply)
	return nil
}

func runChat(cfg *config.Config, userID, message string) error {
	s, err := newSession(cfg, userID)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if message != "" {
		return s.turn(ctx, message)
	}

	fmt.Printf("%s Interactive mode (Ctrl+C to exit)\n\n", appName)
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s You: ", appName),
		HistoryFile:     filepath.Join(os.TempDir(), ".chatpipe_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return nil
		}

		fmt.Printf("\n%s: ", appName)
		if err := s.turn(ctx, input); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
		fmt.Println()
	}
}
