package purge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pictor/internal/common"
	"github.com/ternarybob/pictor/internal/interfaces"
)

// firstRunDelay keeps the first sweep off the boot path while still
// clearing a backlog soon after a long downtime
const firstRunDelay = 60 * time.Second

const sweepTimeout = 5 * time.Minute

type scheduler struct {
	storage interfaces.StorageManager
	config  common.PurgeConfig
	cron    *cron.Cron
	logger  arbor.ILogger

	firstRun *time.Timer

	mu          sync.Mutex
	running     bool
	lastRunAt   time.Time
	lastJobs    int
	lastUpscale int
}

// NewScheduler creates the retention sweep scheduler
func NewScheduler(storage interfaces.StorageManager, config common.PurgeConfig, logger arbor.ILogger) interfaces.PurgeService {
	return &scheduler{
		storage: storage,
		config:  config,
		cron:    cron.New(),
		logger:  logger,
	}
}

// Start schedules the recurring sweep plus a first run shortly after
// boot
func (s *scheduler) Start() error {
	schedule := fmt.Sprintf("@every %dh", s.config.IntervalHours)
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return fmt.Errorf("failed to schedule purge: %w", err)
	}

	s.cron.Start()
	s.firstRun = time.AfterFunc(firstRunDelay, s.sweep)

	s.logger.Info().
		Str("schedule", schedule).
		Int("max_age_hours", s.config.MaxAgeHours).
		Msg("Purge scheduler started")
	return nil
}

// Stop halts the schedule; an in-flight sweep finishes
func (s *scheduler) Stop() {
	if s.firstRun != nil {
		s.firstRun.Stop()
	}
	s.cron.Stop()
	s.logger.Info().Msg("Purge scheduler stopped")
}

// RunNow executes one sweep with the given retention window
func (s *scheduler) RunNow(ctx context.Context, maxAge time.Duration) (int, int, error) {
	if maxAge <= 0 {
		maxAge = s.config.MaxAge()
	}
	return s.runLocked(ctx, maxAge)
}

// LastRun returns when the last sweep finished and what it deleted
func (s *scheduler) LastRun() (time.Time, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRunAt, s.lastJobs, s.lastUpscale
}

// sweep is the scheduled entry point
func (s *scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if _, _, err := s.runLocked(ctx, s.config.MaxAge()); err != nil {
		s.logger.Error().Err(err).Msg("Scheduled purge failed")
	}
}

// runLocked performs one sweep, dropping the tick when one is already
// in flight
func (s *scheduler) runLocked(ctx context.Context, maxAge time.Duration) (int, int, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Debug().Msg("Purge tick dropped, sweep already running")
		return 0, 0, nil
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	cutoff := time.Now().Add(-maxAge)
	jobs, upscales, err := s.storage.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("purge failed: %w", err)
	}

	s.mu.Lock()
	s.lastRunAt = time.Now()
	s.lastJobs = jobs
	s.lastUpscale = upscales
	s.mu.Unlock()

	s.logger.Info().
		Int("jobs", jobs).
		Int("upscales", upscales).
		Str("cutoff", cutoff.Format(time.RFC3339)).
		Msg("Purge sweep completed")
	return jobs, upscales, nil
}
