package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// recordTTL maps record types to their retention window. Zero means keep
// forever.
var recordTTL = map[RecordType]time.Duration{
	RecordEpisodic:   30 * 24 * time.Hour,
	RecordSemantic:   0,
	RecordProcedural: 0,
}

var queryTokenPattern = regexp.MustCompile(`[A-Za-z0-9_\-]+`)

// SQLiteStore is the canonical persistent record storage.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the memory database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create memory db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process store. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS memory_records (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			record_type TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			importance REAL NOT NULL DEFAULT 0,
			tags_json TEXT NOT NULL DEFAULT '[]',
			created_at_ms INTEGER NOT NULL,
			expires_at_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS memory_records_user_idx ON memory_records(user_id, expires_at_ms, created_at_ms DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init memory schema: %w", err)
		}
	}
	return nil
}

// Put stores a record for userID. Records with an empty ID are assigned one.
func (s *SQLiteStore) Put(ctx context.Context, userID string, rec Record) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(rec.Content) == "" {
		return fmt.Errorf("record content is required")
	}
	if rec.ID == "" {
		rec.ID = "mem-" + uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	expires := int64(0)
	if ttl := recordTTL[rec.Type]; ttl > 0 {
		expires = rec.Timestamp.Add(ttl).UnixMilli()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_records
			(id, user_id, record_type, source, content, importance, tags_json, created_at_ms, expires_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			importance = excluded.importance,
			tags_json = excluded.tags_json,
			expires_at_ms = excluded.expires_at_ms`,
		rec.ID, userID, string(rec.Type), string(rec.Source), rec.Content,
		rec.Importance, string(tags), rec.Timestamp.UnixMilli(), expires)
	if err != nil {
		return fmt.Errorf("put memory record: %w", err)
	}
	return nil
}

// Query returns up to limit non-expired records for userID ranked by keyword
// overlap with text, then recency.
func (s *SQLiteStore) Query(ctx context.Context, userID, text string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 10
	}
	nowMS := time.Now().UnixMilli()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, record_type, source, content, importance, tags_json, created_at_ms
		FROM memory_records
		WHERE user_id = ? AND (expires_at_ms = 0 OR expires_at_ms > ?)
		ORDER BY created_at_ms DESC
		LIMIT 200`, userID, nowMS)
	if err != nil {
		return nil, fmt.Errorf("query memory records: %w", err)
	}
	defer rows.Close()

	candidates := []Record{}
	for rows.Next() {
		var rec Record
		var recType, source, tagsJSON string
		var createdMS int64
		if err := rows.Scan(&rec.ID, &recType, &source, &rec.Content, &rec.Importance, &tagsJSON, &createdMS); err != nil {
			return nil, fmt.Errorf("scan memory record: %w", err)
		}
		rec.Type = RecordType(recType)
		rec.Source = RecordSource(source)
		rec.Timestamp = time.UnixMilli(createdMS)
		_ = json.Unmarshal([]byte(tagsJSON), &rec.Tags)
		candidates = append(candidates, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory records: %w", err)
	}

	return rankByOverlap(candidates, text, limit), nil
}

// SweepExpired deletes records whose TTL has passed. Returns the number of
// rows removed.
func (s *SQLiteStore) SweepExpired(ctx context.Context, nowMS int64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_records WHERE expires_at_ms > 0 AND expires_at_ms <= ?`, nowMS)
	if err != nil {
		return 0, fmt.Errorf("sweep expired records: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// rankByOverlap scores candidates on keyword overlap with the query and tag
// hits, keeping recency as the tiebreaker.
func rankByOverlap(candidates []Record, query string, limit int) []Record {
	terms := queryTokens(query)
	if len(terms) == 0 {
		if len(candidates) > limit {
			candidates = candidates[:limit]
		}
		return candidates
	}

	type scored struct {
		rec   Record
		score int
	}
	matched := make([]scored, 0, len(candidates))
	for _, rec := range candidates {
		lower := strings.ToLower(rec.Content)
		score := 0
		for _, term := range terms {
			if strings.Contains(lower, term) {
				score++
			}
		}
		for _, tag := range rec.Tags {
			tag = strings.ToLower(tag)
			for _, term := range terms {
				if tag == term {
					score += 2
				}
			}
		}
		if score > 0 {
			matched = append(matched, scored{rec: rec, score: score})
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].score == matched[j].score {
			return matched[i].rec.Timestamp.After(matched[j].rec.Timestamp)
		}
		return matched[i].score > matched[j].score
	})

	out := make([]Record, 0, limit)
	for _, m := range matched {
		out = append(out, m.rec)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func queryTokens(query string) []string {
	raw := queryTokenPattern.FindAllString(strings.ToLower(query), -1)
	seen := map[string]struct{}{}
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		if len(tok) < 2 {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}
