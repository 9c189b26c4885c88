package memory

import (
	"context"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/dotsetgreg/chatpipe/pkg/chat"
	"github.com/dotsetgreg/chatpipe/pkg/logger"
)

const (
	defaultQueueDepth      = 64
	defaultExtractionDelay = 150 * time.Millisecond
	defaultSweepSchedule   = "0 3 * * *"
	sweepPollInterval      = time.Minute
)

// ExtractionJob is one completed exchange queued for background extraction.
type ExtractionJob struct {
	UserID         string
	RecentUser     []chat.Message
	AssistantReply string
}

// WorkerConfig tunes the background extraction worker.
type WorkerConfig struct {
	QueueDepth int
	// ExtractionDelay is applied before each job to keep extraction off the
	// response hot path even when the queue is empty.
	ExtractionDelay time.Duration
	// SweepSchedule is a cron expression for the retention sweep. Empty
	// disables sweeping.
	SweepSchedule string
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.QueueDepth <= 0 {
		c.QueueDepth = defaultQueueDepth
	}
	if c.ExtractionDelay <= 0 {
		c.ExtractionDelay = defaultExtractionDelay
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = defaultSweepSchedule
	}
	return c
}

// Worker runs memory extraction off the request path. Jobs are accepted
// fire-and-forget: a full queue drops the job, and per-job failures are
// logged and swallowed so they can never surface to a chat response.
type Worker struct {
	cfg       WorkerConfig
	store     Store
	extractor *Extractor

	jobs      chan ExtractionJob
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewWorker(store Store, extractor *Extractor, cfg WorkerConfig) *Worker {
	cfg = cfg.withDefaults()
	if extractor == nil {
		extractor = NewExtractor()
	}
	w := &Worker{
		cfg:       cfg,
		store:     store,
		extractor: extractor,
		jobs:      make(chan ExtractionJob, cfg.QueueDepth),
		stopCh:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	if _, ok := store.(Sweeper); ok && cfg.SweepSchedule != "" {
		w.wg.Add(1)
		go w.runSweeper()
	}
	return w
}

// Enqueue submits a job without blocking. Returns false if the queue is full
// or the worker is shutting down.
func (w *Worker) Enqueue(job ExtractionJob) bool {
	select {
	case <-w.stopCh:
		return false
	default:
	}
	select {
	case w.jobs <- job:
		return true
	default:
		logger.WarnC("memory", "extraction queue full, dropping job")
		return false
	}
}

// Close stops accepting jobs, drains those already queued, and waits for the
// worker goroutines to exit.
func (w *Worker) Close() {
	w.closeOnce.Do(func() {
		close(w.stopCh)
		close(w.jobs)
	})
	w.wg.Wait()
}

func (w *Worker) run() {
	defer w.wg.Done()
	for job := range w.jobs {
		time.Sleep(w.cfg.ExtractionDelay)
		w.process(job)
	}
}

func (w *Worker) process(job ExtractionJob) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("memory", "extraction panicked", map[string]interface{}{"panic": r})
		}
	}()

	records := w.extractor.Extract(job.RecentUser, job.AssistantReply)
	if len(records) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stored := 0
	for _, rec := range records {
		if err := w.store.Put(ctx, job.UserID, rec); err != nil {
			logger.WarnCF("memory", "failed to store extracted record",
				map[string]interface{}{"user_id": job.UserID, "error": err.Error()})
			continue
		}
		stored++
	}
	if stored > 0 {
		logger.DebugCF("memory", "extraction complete", map[string]interface{}{
			"user_id": job.UserID,
			"stored":  stored,
		})
	}
}

func (w *Worker) runSweeper() {
	defer w.wg.Done()

	g := gronx.New()
	if !g.IsValid(w.cfg.SweepSchedule) {
		logger.WarnCF("memory", "invalid sweep schedule, sweeper disabled",
			map[string]interface{}{"schedule": w.cfg.SweepSchedule})
		return
	}
	sweeper := w.store.(Sweeper)

	ticker := time.NewTicker(sweepPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case now := <-ticker.C:
			due, err := g.IsDue(w.cfg.SweepSchedule, now)
			if err != nil || !due {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			n, err := sweeper.SweepExpired(ctx, now.UnixMilli())
			cancel()
			if err != nil {
				logger.WarnCF("memory", "retention sweep failed",
					map[string]interface{}{"error": err.Error()})
				continue
			}
			if n > 0 {
				logger.InfoCF("memory", "retention sweep removed expired records",
					map[string]interface{}{"removed": n})
			}
		}
	}
}
