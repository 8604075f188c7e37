package researchcache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/evrenesat/askygo/pkg/models"
)

// SummarizeJob is a queued summarization request, mirroring the shape of the
// engine's async tool jobs: an ID, a lifecycle status, and an error message.
type SummarizeJob struct {
	ID        string
	CacheID   string
	Status    models.JobStatus
	CreatedAt time.Time
	Error     string
}

// SummarizerPool runs bounded-concurrency background summarization of the
// cached sources passed to Enqueue, whatever their current summary_status.
type SummarizerPool struct {
	cache      *Cache
	summarizer Summarizer
	sem        *semaphore.Weighted
	logger     *slog.Logger
}

// NewSummarizerPool returns a pool that runs at most concurrency summarize
// calls at a time.
func NewSummarizerPool(cache *Cache, summarizer Summarizer, concurrency int, logger *slog.Logger) *SummarizerPool {
	if concurrency <= 0 {
		concurrency = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SummarizerPool{
		cache:      cache,
		summarizer: summarizer,
		sem:        semaphore.NewWeighted(int64(concurrency)),
		logger:     logger,
	}
}

// Enqueue blocks until a concurrency slot is available, then summarizes src
// in a goroutine that marks it running and then succeeded or failed. Enqueue
// itself does not change src's status. The caller's context
// only bounds acquiring the slot; the summarization itself runs detached
// so a caller cancelling its own request doesn't abort work already queued
// for other sessions.
func (p *SummarizerPool) Enqueue(ctx context.Context, src *models.CachedSource) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("researchcache: acquire summarizer slot: %w", err)
	}

	go func() {
		defer p.sem.Release(1)
		p.run(context.Background(), src)
	}()
	return nil
}

func (p *SummarizerPool) run(ctx context.Context, src *models.CachedSource) {
	src.SummaryStatus = models.JobRunning
	if err := p.cache.upsert(ctx, src); err != nil {
		p.logger.Error("researchcache: mark summary running failed", "cache_id", src.ID, "error", err)
		return
	}

	summary, err := p.summarizer.Summarize(ctx, src.Title, src.RawContent)
	if err != nil {
		src.SummaryStatus = models.JobFailed
		if updateErr := p.cache.upsert(ctx, src); updateErr != nil {
			p.logger.Error("researchcache: mark summary failed failed", "cache_id", src.ID, "error", updateErr)
		}
		p.logger.Warn("researchcache: summarize failed", "cache_id", src.ID, "url", src.URL, "error", err)
		return
	}

	src.Summary = summary
	src.SummaryStatus = models.JobSucceeded
	if err := p.cache.upsert(ctx, src); err != nil {
		p.logger.Error("researchcache: save summary failed", "cache_id", src.ID, "error", err)
	}
}
