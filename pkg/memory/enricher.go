package memory

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dotsetgreg/chatpipe/pkg/logger"
)

const (
	defaultRecallLimit     = 5
	defaultCacheSize       = 256
	defaultCacheTTL        = 20 * time.Second
	confidenceRecencyHL    = 14 * 24 * time.Hour
	enrichmentMethodRecall = "keyword_recall"
)

// EnricherConfig tunes recall behavior. Zero values select defaults.
type EnricherConfig struct {
	RecallLimit int
	CacheSize   int
	CacheTTL    time.Duration
}

// Enricher queries the store for memories relevant to the latest user turn
// and renders them as hidden system-prompt context. Enrichment is
// transparent: the visible user message is never modified, and store
// failures degrade to an empty result.
type Enricher struct {
	store Store
	cfg   EnricherConfig
	cache *expirable.LRU[string, EnrichmentResult]
}

func NewEnricher(store Store, cfg EnricherConfig) *Enricher {
	if cfg.RecallLimit <= 0 {
		cfg.RecallLimit = defaultRecallLimit
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	return &Enricher{
		store: store,
		cfg:   cfg,
		cache: expirable.NewLRU[string, EnrichmentResult](cfg.CacheSize, nil, cfg.CacheTTL),
	}
}

// Enrich recalls memories for userTurn and builds the system-prompt
// enrichment. An empty EnrichedContent means the orchestrator should skip
// injection entirely.
func (e *Enricher) Enrich(ctx context.Context, userTurn, userID string) EnrichmentResult {
	result := EnrichmentResult{
		OriginalPrompt: userTurn,
		Method:         enrichmentMethodRecall,
	}
	if strings.TrimSpace(userTurn) == "" || e.store == nil {
		return result
	}

	key := cacheKey(userID, userTurn)
	if cached, ok := e.cache.Get(key); ok {
		cached.OriginalPrompt = userTurn
		return cached
	}

	records, err := e.store.Query(ctx, userID, userTurn, e.cfg.RecallLimit)
	if err != nil {
		logger.WarnCF("memory", "recall failed, skipping enrichment",
			map[string]interface{}{"user_id": userID, "error": err.Error()})
		return result
	}
	if len(records) == 0 {
		e.cache.Add(key, result)
		return result
	}

	result.RelevantMemories = records
	result.ConfidenceScore = confidenceScore(records, e.cfg.RecallLimit, time.Now())
	result.EnrichedContent = formatRecall(records)
	e.cache.Add(key, result)

	logger.DebugCF("memory", "prompt enriched", map[string]interface{}{
		"user_id":    userID,
		"memories":   len(records),
		"confidence": fmt.Sprintf("%.2f", result.ConfidenceScore),
	})
	return result
}

// confidenceScore blends match count with recency of the newest match.
// Monotonic in both signals and bounded to [0, 1].
func confidenceScore(records []Record, limit int, now time.Time) float64 {
	if len(records) == 0 {
		return 0
	}
	countSignal := float64(len(records)) / float64(limit)
	if countSignal > 1 {
		countSignal = 1
	}

	newest := records[0].Timestamp
	for _, r := range records[1:] {
		if r.Timestamp.After(newest) {
			newest = r.Timestamp
		}
	}
	age := now.Sub(newest)
	if age < 0 {
		age = 0
	}
	recency := math.Exp(-math.Ln2 * float64(age) / float64(confidenceRecencyHL))

	return countSignal*0.7 + recency*0.3
}

func formatRecall(records []Record) string {
	var b strings.Builder
	b.WriteString("## Recalled Memory\n")
	for _, rec := range records {
		b.WriteString("- [")
		b.WriteString(string(rec.Type))
		b.WriteString("] ")
		b.WriteString(strings.TrimSpace(rec.Content))
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func cacheKey(userID, turn string) string {
	h := sha1.Sum([]byte(userID + "|" + strings.ToLower(strings.TrimSpace(turn))))
	return hex.EncodeToString(h[:])
}
