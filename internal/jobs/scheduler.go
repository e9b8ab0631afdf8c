package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"crm-gateway/internal/common/logging"
)

// Schedule holds the cron specs for every periodic job.
type Schedule struct {
	TokenRefresh string // default "@every 50m", under the 55m token TTL
	ClientSync   string // default daily at 04:00
	Birthdays    string // default daily at 09:00
	Balances     string // default daily at 10:00
}

// DefaultSchedule mirrors the beat schedule the original system ran.
func DefaultSchedule() Schedule {
	return Schedule{
		TokenRefresh: "@every 50m",
		ClientSync:   "0 4 * * *",
		Birthdays:    "0 9 * * *",
		Balances:     "0 10 * * *",
	}
}

// Scheduler runs the jobs on their cron schedule. A failing job logs and
// waits for its next slot; it never stops the scheduler.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger logging.Logger
}

func NewScheduler(jobs *Jobs, schedule Schedule, logger logging.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	s := &Scheduler{
		cron:   cron.New(),
		jobs:   jobs,
		logger: logger.WithFields(logging.String("component", "scheduler")),
	}

	entries := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"token_refresh", schedule.TokenRefresh, jobs.RefreshToken},
		{"client_sync", schedule.ClientSync, jobs.SyncClients},
		{"birthdays", schedule.Birthdays, jobs.BirthdayCongratulations},
		{"balances", schedule.Balances, jobs.BalanceReminders},
	}

	for _, entry := range entries {
		if entry.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(entry.spec, s.wrap(entry.name, entry.run)); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Scheduler) wrap(name string, run func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()

		start := time.Now()
		s.logger.Info("job started", logging.String("job", name))

		if err := run(ctx); err != nil {
			s.logger.Error("job failed", err, logging.String("job", name))
			return
		}

		s.logger.Info("job finished",
			logging.String("job", name),
			logging.Duration("elapsed", time.Since(start)))
	}
}

// Start begins running jobs on schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for any running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
