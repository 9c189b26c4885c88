package memory

import "context"

// Store provides durable persistence for memory records. Implementations
// must be safe for concurrent use; the pipeline requires no cross-request
// ordering guarantees (last write wins).
type Store interface {
	Close() error

	// Query returns up to limit records for userID relevant to text, most
	// relevant first.
	Query(ctx context.Context, userID, text string, limit int) ([]Record, error)

	// Put stores a record for userID.
	Put(ctx context.Context, userID string, rec Record) error
}

// Sweeper is implemented by stores that support retention sweeps of expired
// records.
type Sweeper interface {
	SweepExpired(ctx context.Context, nowMS int64) (int, error)
}
