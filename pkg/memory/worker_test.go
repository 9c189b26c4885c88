package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dotsetgreg/chatpipe/pkg/chat"
)

type captureStore struct {
	mu      sync.Mutex
	records []Record
}

func (c *captureStore) Close() error { return nil }

func (c *captureStore) Query(ctx context.Context, userID, text string, limit int) ([]Record, error) {
	return nil, nil
}

func (c *captureStore) Put(ctx context.Context, userID string, rec Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	return nil
}

func (c *captureStore) stored() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func TestWorkerProcessesQueuedJobs(t *testing.T) {
	store := &captureStore{}
	w := NewWorker(store, nil, WorkerConfig{ExtractionDelay: time.Millisecond})

	ok := w.Enqueue(ExtractionJob{
		UserID:     "u1",
		RecentUser: []chat.Message{{Role: chat.RoleUser, Content: "I really love sailing."}},
	})
	if !ok {
		t.Fatalf("enqueue rejected")
	}

	w.Close()
	if store.stored() == 0 {
		t.Fatalf("close must drain queued jobs before returning")
	}
}

func TestWorkerEnqueueNeverBlocks(t *testing.T) {
	store := &captureStore{}
	w := NewWorker(store, nil, WorkerConfig{
		QueueDepth:      1,
		ExtractionDelay: 50 * time.Millisecond,
	})
	defer w.Close()

	job := ExtractionJob{
		UserID:     "u1",
		RecentUser: []chat.Message{{Role: chat.RoleUser, Content: "I really love sailing."}},
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			w.Enqueue(job)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("enqueue blocked the caller")
	}
}

func TestWorkerRejectsAfterClose(t *testing.T) {
	store := &captureStore{}
	w := NewWorker(store, nil, WorkerConfig{ExtractionDelay: time.Millisecond})
	w.Close()

	if w.Enqueue(ExtractionJob{UserID: "u1"}) {
		t.Fatalf("enqueue after close should be rejected")
	}
}

func TestWorkerSkipsEmptyExtraction(t *testing.T) {
	store := &captureStore{}
	w := NewWorker(store, nil, WorkerConfig{ExtractionDelay: time.Millisecond})

	w.Enqueue(ExtractionJob{
		UserID:     "u1",
		RecentUser: []chat.Message{{Role: chat.RoleUser, Content: "What time is it?"}},
	})
	w.Close()

	if store.stored() != 0 {
		t.Fatalf("question-only exchange should store nothing, got %d", store.stored())
	}
}
