package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/entitle/internal/common"
)

// Scheduler runs PurgeAll on a cron schedule. Overlapping runs are skipped.
type Scheduler struct {
	service *Service
	cron    *cron.Cron
	logger  arbor.ILogger
	timeout time.Duration

	mu      sync.Mutex
	running bool
	busy    sync.Mutex
	lastRun time.Time
	lastErr error
	entryID cron.EntryID
}

// NewScheduler creates a scheduler. timeout bounds each run, zero means no bound.
func NewScheduler(service *Service, timeout time.Duration, logger arbor.ILogger) *Scheduler {
	return &Scheduler{
		service: service,
		cron:    cron.New(),
		logger:  logger,
		timeout: timeout,
	}
}

// Start registers the purge job and starts the cron loop
func (s *Scheduler) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("audit scheduler already running")
	}
	if err := common.ValidateSchedule(schedule); err != nil {
		return err
	}

	id, err := s.cron.AddFunc(schedule, s.tick)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	s.entryID = id
	s.cron.Start()
	s.running = true

	s.logger.Info().Str("schedule", schedule).Msg("Audit scheduler started")
	return nil
}

// Stop halts the cron loop and waits for any run in progress
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()

	// Wait for a RunNow started outside the cron loop
	s.busy.Lock()
	s.busy.Unlock()
	s.logger.Info().Msg("Audit scheduler stopped")
}

// RunNow performs one purge immediately. It returns false when a run is already in progress.
func (s *Scheduler) RunNow(ctx context.Context) (bool, error) {
	if !s.busy.TryLock() {
		s.logger.Warn().Msg("Audit already in progress, skipping")
		return false, nil
	}
	defer s.busy.Unlock()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	err := common.SafeCall(s.logger, "audit-purge", func() error {
		_, err := s.service.PurgeAll(ctx)
		return err
	})

	s.mu.Lock()
	s.lastRun = start
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Scheduled audit failed")
		return true, err
	}
	s.logger.Info().Dur("duration", time.Since(start)).Msg("Scheduled audit complete")
	return true, nil
}

// LastRun returns when the last run started and how it ended
func (s *Scheduler) LastRun() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}

// NextRun returns the next scheduled run, zero when not started
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	id, running := s.entryID, s.running
	s.mu.Unlock()
	if !running {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

func (s *Scheduler) tick() {
	_, _ = s.RunNow(context.Background())
}
