package researchcache

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// CleanupScheduler runs Cache.CleanExpired on a cron schedule.
type CleanupScheduler struct {
	cron   *cron.Cron
	cache  *Cache
	logger *slog.Logger
}

// NewCleanupScheduler builds a scheduler that runs CleanExpired according
// to spec, a standard five-field cron expression (e.g. "0 */6 * * *").
func NewCleanupScheduler(cache *Cache, spec string, logger *slog.Logger) (*CleanupScheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &CleanupScheduler{
		cron:   cron.New(),
		cache:  cache,
		logger: logger,
	}

	_, err := s.cron.AddFunc(spec, s.runOnce)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CleanupScheduler) runOnce() {
	n, err := s.cache.CleanExpired(context.Background())
	if err != nil {
		s.logger.Error("researchcache: cleanup_expired sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("researchcache: cleanup_expired sweep removed sources", "count", n)
	}
}

// Start begins the cron scheduler in the background.
func (s *CleanupScheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler, waiting for any in-flight run to finish.
func (s *CleanupScheduler) Stop() {
	<-s.cron.Stop().Done()
}
