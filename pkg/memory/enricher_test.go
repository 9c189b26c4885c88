package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeStore struct {
	records []Record
	err     error
	queries int
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) Query(ctx context.Context, userID, text string, limit int) ([]Record, error) {
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.records) > limit {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func (f *fakeStore) Put(ctx context.Context, userID string, rec Record) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

func TestEnrichNeverMutatesUserTurn(t *testing.T) {
	store := &fakeStore{records: []Record{
		{Content: "likes espresso", Type: RecordSemantic, Timestamp: time.Now()},
	}}
	e := NewEnricher(store, EnricherConfig{})

	turn := "what coffee should I order?"
	res := e.Enrich(context.Background(), turn, "u1")
	if res.OriginalPrompt != turn {
		t.Fatalf("OriginalPrompt = %q, want %q", res.OriginalPrompt, turn)
	}
	if strings.Contains(res.EnrichedContent, turn) {
		t.Fatalf("enrichment must not embed the user turn: %q", res.EnrichedContent)
	}
	if !strings.Contains(res.EnrichedContent, "likes espresso") {
		t.Fatalf("recalled memory missing: %q", res.EnrichedContent)
	}
}

func TestEnrichEmptyStoreYieldsEmptyEnrichment(t *testing.T) {
	e := NewEnricher(&fakeStore{}, EnricherConfig{})

	res := e.Enrich(context.Background(), "anything", "u1")
	if res.EnrichedContent != "" || len(res.RelevantMemories) != 0 {
		t.Fatalf("expected empty enrichment: %+v", res)
	}
	if res.ConfidenceScore != 0 {
		t.Fatalf("confidence = %v, want 0", res.ConfidenceScore)
	}
}

func TestEnrichStoreErrorDegradesToEmpty(t *testing.T) {
	e := NewEnricher(&fakeStore{err: errors.New("db locked")}, EnricherConfig{})

	res := e.Enrich(context.Background(), "anything", "u1")
	if res.EnrichedContent != "" || res.ConfidenceScore != 0 {
		t.Fatalf("store error must degrade to empty: %+v", res)
	}
	if res.OriginalPrompt != "anything" {
		t.Fatalf("original prompt lost on error path")
	}
}

func TestEnrichBlankTurnSkipsStore(t *testing.T) {
	store := &fakeStore{}
	e := NewEnricher(store, EnricherConfig{})

	res := e.Enrich(context.Background(), "   ", "u1")
	if store.queries != 0 {
		t.Fatalf("blank turn should not hit the store")
	}
	if res.EnrichedContent != "" {
		t.Fatalf("blank turn should not enrich")
	}
}

func TestEnrichCachesRepeatedTurns(t *testing.T) {
	store := &fakeStore{records: []Record{
		{Content: "fact", Type: RecordSemantic, Timestamp: time.Now()},
	}}
	e := NewEnricher(store, EnricherConfig{CacheTTL: time.Minute})

	e.Enrich(context.Background(), "same question", "u1")
	e.Enrich(context.Background(), "same question", "u1")
	if store.queries != 1 {
		t.Fatalf("store queried %d times, want 1", store.queries)
	}
}

func TestConfidenceScoreBounds(t *testing.T) {
	now := time.Now()

	if got := confidenceScore(nil, 5, now); got != 0 {
		t.Fatalf("no records: confidence = %v, want 0", got)
	}

	full := make([]Record, 5)
	for i := range full {
		full[i] = Record{Timestamp: now}
	}
	got := confidenceScore(full, 5, now)
	if got < 0.99 || got > 1 {
		t.Fatalf("full fresh recall: confidence = %v, want ~1", got)
	}
}

func TestConfidenceScoreMonotonicInMatches(t *testing.T) {
	now := time.Now()
	ts := now.Add(-time.Hour)

	one := confidenceScore([]Record{{Timestamp: ts}}, 5, now)
	three := confidenceScore([]Record{{Timestamp: ts}, {Timestamp: ts}, {Timestamp: ts}}, 5, now)
	if three <= one {
		t.Fatalf("more matches should raise confidence: one=%v three=%v", one, three)
	}
}

func TestConfidenceScoreDecaysWithAge(t *testing.T) {
	now := time.Now()

	fresh := confidenceScore([]Record{{Timestamp: now}}, 5, now)
	stale := confidenceScore([]Record{{Timestamp: now.Add(-90 * 24 * time.Hour)}}, 5, now)
	if stale >= fresh {
		t.Fatalf("older matches should score lower: fresh=%v stale=%v", fresh, stale)
	}
}
