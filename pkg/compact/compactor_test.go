package compact

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dotsetgreg/chatpipe/pkg/chat"
	"github.com/dotsetgreg/chatpipe/pkg/tokens"
)

func testConfig() Config {
	return Config{
		MaxContextTokens:    400,
		CompactionThreshold: 0.8,
		MaxRecentMessages:   4,
		SummaryChunkSize:    3,
		MaxSummaries:        2,
	}
}

func testCompactor(cfg Config) *Compactor {
	counter := &tokens.HeuristicCounter{ReservedTokens: 10}
	return NewCompactor(cfg, counter, NewSummarizer(counter, nil))
}

func makeMessages(n, contentLen int) []chat.Message {
	msgs := make([]chat.Message, 0, n)
	for i := 0; i < n; i++ {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		msgs = append(msgs, chat.Message{
			ID:        fmt.Sprintf("m%03d", i),
			Role:      role,
			Content:   strings.Repeat("x", contentLen),
			Timestamp: time.Unix(int64(1000+i), 0),
		})
	}
	return msgs
}

func TestCompactNoOpBelowThreshold(t *testing.T) {
	c := testCompactor(testConfig())
	msgs := makeMessages(3, 20)

	res := c.Compact(msgs, nil)
	if res.WasCompacted {
		t.Fatalf("small window should not compact")
	}
	if len(res.Messages) != 3 || res.RemovedMessages != 0 {
		t.Fatalf("no-op must return input unchanged: %+v", res)
	}
	if res.TotalTokens != c.totalTokens(msgs, nil) {
		t.Fatalf("TotalTokens mismatch on no-op")
	}
}

func TestCompactPreservesRecentWindowVerbatim(t *testing.T) {
	cfg := testConfig()
	c := testCompactor(cfg)
	msgs := makeMessages(20, 100) // 20 * (25+4) + 10 = 590 > 320 trigger

	res := c.Compact(msgs, nil)
	if !res.WasCompacted {
		t.Fatalf("expected compaction")
	}
	if len(res.Messages) != cfg.MaxRecentMessages {
		t.Fatalf("retained %d messages, want %d", len(res.Messages), cfg.MaxRecentMessages)
	}
	for i, msg := range res.Messages {
		orig := msgs[len(msgs)-cfg.MaxRecentMessages+i]
		if msg.ID != orig.ID || msg.Content != orig.Content {
			t.Fatalf("recent message %d altered: got %s want %s", i, msg.ID, orig.ID)
		}
	}
	if res.RemovedMessages != 20-cfg.MaxRecentMessages {
		t.Fatalf("RemovedMessages = %d, want %d", res.RemovedMessages, 20-cfg.MaxRecentMessages)
	}
}

func TestCompactCapsSummaries(t *testing.T) {
	cfg := testConfig()
	c := testCompactor(cfg)
	// 20 messages leave 16 older ones: 6 chunks of size 3, well past the cap.
	msgs := makeMessages(20, 100)

	res := c.Compact(msgs, nil)
	if len(res.Summaries) > cfg.MaxSummaries {
		t.Fatalf("summaries = %d, want <= %d", len(res.Summaries), cfg.MaxSummaries)
	}
	for i := 1; i < len(res.Summaries); i++ {
		if res.Summaries[i].Importance > res.Summaries[i-1].Importance {
			t.Fatalf("summaries not ordered by importance desc")
		}
	}
}

func TestCompactHonorsTokenBudget(t *testing.T) {
	cfg := testConfig()
	c := testCompactor(cfg)
	msgs := makeMessages(30, 200)

	res := c.Compact(msgs, nil)
	if res.TotalTokens > cfg.MaxContextTokens {
		t.Fatalf("budget violated: %d > %d", res.TotalTokens, cfg.MaxContextTokens)
	}
}

func TestCompactDegradesInsteadOfFailing(t *testing.T) {
	cfg := Config{
		MaxContextTokens:    120,
		CompactionThreshold: 0.8,
		MaxRecentMessages:   10,
		SummaryChunkSize:    3,
		MaxSummaries:        5,
	}
	c := testCompactor(cfg)
	// Each message alone is ~104 tokens; even the recent window blows the
	// budget until retention degrades.
	msgs := makeMessages(30, 400)

	res := c.Compact(msgs, nil)
	if !res.WasCompacted {
		t.Fatalf("expected compaction")
	}
	if len(res.Messages) > 5 {
		t.Fatalf("degraded window = %d messages, want <= 5", len(res.Messages))
	}
}

func TestCompactThreadsBackReferences(t *testing.T) {
	c := testCompactor(testConfig())
	prior := []Summary{{ID: "sum-prior", Text: "Prior summary text", Importance: 100, TokenCount: 5}}
	msgs := makeMessages(20, 100)

	res := c.Compact(msgs, prior)
	found := false
	for _, s := range res.Summaries {
		if strings.Contains(s.Text, "Follows: ") {
			found = true
		}
	}
	if !found {
		t.Fatalf("new summaries should back-reference the previous one")
	}
}

func TestMergeSummariesStableOnTies(t *testing.T) {
	old := []Summary{{ID: "a", Importance: 50}, {ID: "b", Importance: 50}}
	fresh := []Summary{{ID: "c", Importance: 50}}

	merged := mergeSummaries(old, fresh, 2)
	if len(merged) != 2 || merged[0].ID != "a" || merged[1].ID != "b" {
		t.Fatalf("tie-break must keep insertion order, got %v", ids(merged))
	}
}

func ids(summaries []Summary) []string {
	out := make([]string, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, s.ID)
	}
	return out
}

func TestGetStrategyLevels(t *testing.T) {
	cfg := Config{
		MaxContextTokens:    1000,
		CompactionThreshold: 0.8,
		MaxRecentMessages:   4,
		SummaryChunkSize:    3,
		MaxSummaries:        2,
	}
	c := testCompactor(cfg)

	cases := []struct {
		messages int
		want     StrategyLevel
	}{
		{1, StrategyNone},       // ~39 tokens, <60%
		{13, StrategyLight},     // ~660 tokens, 60-80%
		{16, StrategyModerate},  // ~810 tokens, 80-95%
		{20, StrategyAggressive}, // ~1070 tokens, >=95%
	}
	for _, tc := range cases {
		s := c.GetStrategy(makeMessages(tc.messages, 196), nil)
		if s.Level != tc.want {
			t.Fatalf("%d messages (%.1f%%): level = %q, want %q",
				tc.messages, s.UtilizationPercent, s.Level, tc.want)
		}
	}
}

func TestGetStrategyEstimatesReduction(t *testing.T) {
	cfg := testConfig()
	c := testCompactor(cfg)
	msgs := makeMessages(20, 100)

	s := c.GetStrategy(msgs, nil)
	if s.Level == StrategyNone {
		t.Fatalf("expected pressure above none")
	}
	if s.EstimatedReduction <= 0 {
		t.Fatalf("expected positive estimated reduction")
	}
}

func TestFormatContextPlacesSummariesFirst(t *testing.T) {
	msgs := makeMessages(2, 10)
	summaries := []Summary{{Text: "first summary"}, {Text: "second summary"}}

	out := FormatContext(msgs, summaries)
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	if out[0].Role != chat.RoleSystem {
		t.Fatalf("first message role = %q, want system", out[0].Role)
	}
	if !strings.Contains(out[0].Content, "first summary") ||
		!strings.Contains(out[0].Content, "second summary") {
		t.Fatalf("system message missing summaries: %q", out[0].Content)
	}
	if !strings.Contains(out[0].Content, "---") {
		t.Fatalf("summaries should be separated: %q", out[0].Content)
	}
	if out[1].ID != msgs[0].ID || out[2].ID != msgs[1].ID {
		t.Fatalf("recent messages reordered")
	}
}

func TestFormatContextNoSummaries(t *testing.T) {
	msgs := makeMessages(2, 10)
	out := FormatContext(msgs, nil)
	if len(out) != 2 || out[0].Role == chat.RoleSystem {
		t.Fatalf("no synthetic message expected without summaries")
	}
}

func TestSnapshotUtilization(t *testing.T) {
	cfg := testConfig()
	c := testCompactor(cfg)
	msgs := makeMessages(4, 100)

	w := c.Snapshot(msgs, nil)
	if w.MaxTokens != cfg.MaxContextTokens {
		t.Fatalf("MaxTokens = %d, want %d", w.MaxTokens, cfg.MaxContextTokens)
	}
	wantTokens := c.totalTokens(msgs, nil)
	if w.CurrentTokens != wantTokens {
		t.Fatalf("CurrentTokens = %d, want %d", w.CurrentTokens, wantTokens)
	}
	wantPct := float64(wantTokens) / float64(cfg.MaxContextTokens) * 100
	if w.UtilizationPercent != wantPct {
		t.Fatalf("UtilizationPercent = %v, want %v", w.UtilizationPercent, wantPct)
	}
}
