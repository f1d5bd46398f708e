// Package scheduler runs background maintenance jobs on cron schedules.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/mingqiu/abacus/internal/database"
	"github.com/mingqiu/abacus/internal/events"
	"github.com/mingqiu/abacus/internal/modules/snapshots"
	"github.com/mingqiu/abacus/internal/reliability"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// Scheduler manages background jobs
type Scheduler struct {
	cron   *cron.Cron
	events *events.Manager
	log    zerolog.Logger
}

// New creates a new scheduler
func New(eventManager *events.Manager, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		events: eventManager,
		log:    log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job with a cron schedule
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.log.Debug().Str("job", job.Name()).Msg("Running job")

		if err := job.Run(); err != nil {
			s.log.Error().
				Err(err).
				Str("job", job.Name()).
				Msg("Job failed")
			s.events.EmitError("scheduler", err)
		} else {
			s.log.Debug().Str("job", job.Name()).Msg("Job completed")
		}
	})

	if err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// RunNow executes a job immediately, outside its schedule
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return job.Run()
}

// WALCheckpointJob folds the WAL back into the main database files so the
// WAL never grows unbounded.
type WALCheckpointJob struct {
	DBs []*database.DB
}

func (j *WALCheckpointJob) Name() string { return "wal_checkpoint" }

func (j *WALCheckpointJob) Run() error {
	for _, db := range j.DBs {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			return err
		}
	}
	return nil
}

// DailySnapshotJob records the post-close portfolio valuation.
type DailySnapshotJob struct {
	Snapshots *snapshots.Service
}

func (j *DailySnapshotJob) Name() string { return "daily_snapshot" }

func (j *DailySnapshotJob) Run() error {
	_, err := j.Snapshots.Take()
	return err
}

// BackupJob uploads the ledger database to S3.
type BackupJob struct {
	Backup *reliability.BackupService
}

func (j *BackupJob) Name() string { return "ledger_backup" }

func (j *BackupJob) Run() error {
	return j.Backup.Run(context.Background())
}

// Schedules used by the server. Snapshot and backup times follow the
// mainland-exchange session: close at 15:00, snapshot at 15:30, backup
// overnight.
const (
	ScheduleWALCheckpoint = "@hourly"
	ScheduleDailySnapshot = "30 15 * * MON-FRI"
	ScheduleBackup        = "0 2 * * *"
)
