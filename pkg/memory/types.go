// Package memory retrieves long-term context for prompt enrichment and
// extracts new durable records from completed exchanges. The backing store is
// an opaque per-user key/value collection queried by keyword match.
package memory

import "time"

// RecordType classifies long-term memories.
type RecordType string

const (
	RecordSemantic   RecordType = "semantic"
	RecordEpisodic   RecordType = "episodic"
	RecordProcedural RecordType = "procedural"
)

// RecordSource names which side of the conversation produced a record.
type RecordSource string

const (
	SourceUser      RecordSource = "user"
	SourceAssistant RecordSource = "assistant"
	SourceSystem    RecordSource = "system"
)

// Record is one durable memory entry.
type Record struct {
	ID         string       `json:"id"`
	Content    string       `json:"content"`
	Type       RecordType   `json:"type"`
	Source     RecordSource `json:"source"`
	Importance float64      `json:"importance"`
	Tags       []string     `json:"tags"`
	Timestamp  time.Time    `json:"timestamp"`
}

// EnrichmentResult is the transient outcome of one enrichment pass. The
// orchestrator consumes it immediately to extend the system prompt; it is
// never stored. OriginalPrompt is always the caller's text, untouched.
type EnrichmentResult struct {
	OriginalPrompt   string
	EnrichedContent  string
	RelevantMemories []Record
	ConfidenceScore  float64
	Method           string
}
