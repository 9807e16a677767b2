package retention

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"device-relay-backend/config"
	"device-relay-backend/internal/store"
)

var rowsRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "relay_retention_rows_total",
	Help: "Rows expired or deleted by the retention job",
}, []string{"table"})

// Cleaner is the part of the store the job needs.
type Cleaner interface {
	Cleanup(ctx context.Context, now time.Time) (store.CleanupResult, error)
}

// Job runs one cleanup pass. It implements cron.Job.
type Job struct {
	cleaner Cleaner
	log     zerolog.Logger
	now     func() time.Time
	timeout time.Duration
}

// NewJob creates the cleanup job.
func NewJob(c Cleaner, log zerolog.Logger) *Job {
	return &Job{cleaner: c, log: log, now: time.Now, timeout: time.Minute}
}

// Run satisfies cron.Job.
func (j *Job) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	_, _ = j.RunOnce(ctx)
}

// RunOnce performs a cleanup pass and records what it removed.
func (j *Job) RunOnce(ctx context.Context) (store.CleanupResult, error) {
	res, err := j.cleaner.Cleanup(ctx, j.now())
	if err != nil {
		j.log.Error().Err(err).Msg("retention cleanup failed")
		return res, err
	}
	rowsRemoved.WithLabelValues("sessions").Add(float64(res.SessionsExpired))
	rowsRemoved.WithLabelValues("activities").Add(float64(res.ActivitiesDeleted))
	rowsRemoved.WithLabelValues("commands").Add(float64(res.CommandsDeleted))
	j.log.Info().
		Int64("sessions_expired", res.SessionsExpired).
		Int64("activities_deleted", res.ActivitiesDeleted).
		Int64("commands_deleted", res.CommandsDeleted).
		Msg("retention cleanup finished")
	return res, nil
}

// Scheduler runs the cleanup job on a cron schedule.
type Scheduler struct {
	cron  *cron.Cron
	log   zerolog.Logger
	jobID cron.EntryID
}

// NewScheduler registers job under cfg.Schedule. A disabled config yields a
// scheduler with no entries.
func NewScheduler(cfg config.RetentionConfig, job cron.Job, log zerolog.Logger) (*Scheduler, error) {
	c := cron.New()
	if strings.Count(strings.TrimSpace(cfg.Schedule), " ") == 5 {
		c = cron.New(cron.WithSeconds())
	}

	s := &Scheduler{cron: c, log: log}
	if !cfg.Enabled {
		log.Warn().Msg("retention cleanup is disabled")
		return s, nil
	}

	id, err := c.AddJob(cfg.Schedule, cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(job))
	if err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", cfg.Schedule, err)
	}
	s.jobID = id
	log.Info().Str("schedule", cfg.Schedule).Msg("retention cleanup scheduled")
	return s, nil
}

// Start begins running scheduled entries, if any.
func (s *Scheduler) Start() {
	if len(s.cron.Entries()) == 0 {
		return
	}
	s.cron.Start()
}

// NextRun reports when the cleanup job runs next. It is zero when disabled
// or not started.
func (s *Scheduler) NextRun() time.Time {
	return s.cron.Entry(s.jobID).Next
}

// Stop halts the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
