// Package scheduler triggers recurring full crawls on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// FullCrawler is the part of the orchestrator the scheduler drives.
type FullCrawler interface {
	RunFullCrawl(ctx context.Context) (crawler.Job, error)
}

// Scheduler runs full crawls on a standard five-field cron spec. A tick that
// finds a crawl already running is skipped.
type Scheduler struct {
	cron   *cron.Cron
	parser cron.Parser
	runner FullCrawler
	logger *zap.Logger

	mu    sync.Mutex
	ctx   context.Context
	entry cron.EntryID
}

// New returns an idle Scheduler.
func New(runner FullCrawler, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLogger{logger.Sugar()})),
		),
		parser: parser,
		runner: runner,
		logger: logger,
		ctx:    context.Background(),
	}
}

// ScheduleFullCrawl registers spec, replacing any earlier schedule.
func (s *Scheduler) ScheduleFullCrawl(spec string) error {
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	s.entry = s.cron.Schedule(schedule, cron.FuncJob(s.trigger))
	s.logger.Info("full crawl scheduled",
		zap.String("spec", spec),
		zap.Time("next_run", schedule.Next(time.Now().UTC())),
	)
	return nil
}

// Next returns the next scheduled run. It is zero until Start has run with
// a schedule registered.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// Start runs the cron loop. Crawls it triggers use ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop halts the cron loop and waits for a triggered crawl to return, or
// for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for scheduled crawl: %w", ctx.Err())
	}
}

func (s *Scheduler) trigger() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	start := time.Now()
	job, err := s.runner.RunFullCrawl(ctx)
	var running *crawler.AlreadyRunningError
	switch {
	case errors.As(err, &running):
		s.logger.Info("scheduled full crawl skipped", zap.String("running_job_id", running.JobID))
	case err != nil:
		s.logger.Error("scheduled full crawl failed",
			zap.String("job_id", job.ID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
	default:
		s.logger.Info("scheduled full crawl completed",
			zap.String("job_id", job.ID),
			zap.Int("products_processed", job.ProductsProcessed),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
