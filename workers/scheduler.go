package workers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"competition-engine/models"
	"competition-engine/scoring"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// CompetitionJobs is what the periodic jobs need from the engine.
type CompetitionJobs interface {
	ActiveCompetitionIDs(ctx context.Context) ([]string, error)
	AntiCheatReport(ctx context.Context, competitionID string) (*scoring.AntiCheatReport, error)
	TakeSnapshot(ctx context.Context, competitionID string, kind models.SnapshotType) (*models.ResultSnapshot, error)
	PurgeAudit(ctx context.Context, retention time.Duration) (int64, error)
}

type SchedulerConfig struct {
	AntiCheatInterval time.Duration
	SnapshotInterval  time.Duration
	PurgeInterval     time.Duration
	AuditRetention    time.Duration
	// Concurrency bounds how many competitions a job processes at once.
	Concurrency int
}

type Scheduler struct {
	jobs   CompetitionJobs
	cfg    SchedulerConfig
	clock  clockwork.Clock
	logger *log.Logger
	sched  gocron.Scheduler
}

func NewScheduler(logger *log.Logger, jobs CompetitionJobs, clock clockwork.Clock, cfg SchedulerConfig) (*Scheduler, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if jobs == nil {
		return nil, errors.New("jobs are required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = 24 * time.Hour
	}
	sched, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{jobs: jobs, cfg: cfg, clock: clock, logger: logger, sched: sched}, nil
}

// Start registers the periodic jobs and starts the scheduler. Jobs with a
// non-positive interval are skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	type job struct {
		name     string
		interval time.Duration
		run      func(context.Context)
	}
	jobs := []job{
		{"anticheat-scan", s.cfg.AntiCheatInterval, func(ctx context.Context) { s.ScanAll(ctx) }},
		{"periodic-snapshot", s.cfg.SnapshotInterval, func(ctx context.Context) { s.SnapshotAll(ctx) }},
	}
	if s.cfg.AuditRetention > 0 {
		jobs = append(jobs, job{"audit-purge", s.cfg.PurgeInterval, func(ctx context.Context) { s.Purge(ctx) }})
	}

	for _, j := range jobs {
		if j.interval <= 0 {
			continue
		}
		_, err := s.sched.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(j.run, ctx),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
		s.logger.Printf("[SCHEDULER] ⏱️ %s every %s", j.name, j.interval)
	}
	s.sched.Start()
	return nil
}

func (s *Scheduler) Stop() error {
	return s.sched.Shutdown()
}

// forEachActive runs fn for every active competition with bounded parallelism.
func (s *Scheduler) forEachActive(ctx context.Context, fn func(ctx context.Context, id string) error) error {
	ids, err := s.jobs.ActiveCompetitionIDs(ctx)
	if err != nil {
		return fmt.Errorf("list active competitions: %w", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := fn(gctx, id); err != nil {
				// one failing competition must not cancel the rest
				s.logger.Printf("[SCHEDULER] ❌ %s: %v", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// ScanAll runs the anti-cheat scan over every active competition and returns
// how many suspicious events were found.
func (s *Scheduler) ScanAll(ctx context.Context) int {
	var flagged atomic.Int64
	err := s.forEachActive(ctx, func(ctx context.Context, id string) error {
		report, err := s.jobs.AntiCheatReport(ctx, id)
		if err != nil {
			return err
		}
		excessive := 0
		for _, u := range report.UndoStatistics {
			if u.Excessive {
				excessive++
			}
		}
		if n := len(report.SuspiciousEvents); n > 0 || excessive > 0 {
			s.logger.Printf("[ANTICHEAT] 🚨 %s: %d suspicious events, %d players with excessive undos", id, n, excessive)
		}
		flagged.Add(int64(len(report.SuspiciousEvents)))
		return nil
	})
	if err != nil {
		s.logger.Printf("[SCHEDULER] ❌ anti-cheat scan: %v", err)
	}
	return int(flagged.Load())
}

// SnapshotAll stores a periodic snapshot of each active competition.
func (s *Scheduler) SnapshotAll(ctx context.Context) int {
	var taken atomic.Int64
	err := s.forEachActive(ctx, func(ctx context.Context, id string) error {
		if _, err := s.jobs.TakeSnapshot(ctx, id, models.SnapshotPeriodic); err != nil {
			return err
		}
		taken.Add(1)
		return nil
	})
	if err != nil {
		s.logger.Printf("[SCHEDULER] ❌ periodic snapshots: %v", err)
	}
	if n := taken.Load(); n > 0 {
		s.logger.Printf("[SCHEDULER] 📸 Stored %d periodic snapshots at %s", n, s.clock.Now().Format(time.RFC3339))
	}
	return int(taken.Load())
}

// Purge drops reversed events of competitions finalized before the retention period.
func (s *Scheduler) Purge(ctx context.Context) int64 {
	n, err := s.jobs.PurgeAudit(ctx, s.cfg.AuditRetention)
	if err != nil {
		s.logger.Printf("[SCHEDULER] ❌ audit purge: %v", err)
		return 0
	}
	if n > 0 {
		s.logger.Printf("[SCHEDULER] 🧹 Purged %d reversed events older than %s", n, s.cfg.AuditRetention)
	}
	return n
}
