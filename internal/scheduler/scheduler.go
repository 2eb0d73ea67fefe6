// Package scheduler turns the configured cron specs into periodic asynq tasks.
// Jobs only enqueue; the bg worker does the actual work, so running several
// schedulers at once costs at most a rejected duplicate.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/hibiken/asynq"

	"github.com/Medard-prog/web-whisperer-sub001/internal/config"
	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
	"github.com/Medard-prog/web-whisperer-sub001/internal/tasks"
)

const enqueueTimeout = 10 * time.Second

type job struct {
	name     string
	cron     string
	taskType string
}

type Scheduler struct {
	scheduler gocron.Scheduler
	enqueuer  tasks.Enqueuer
}

func jobsFor(cfg *config.Config) []job {
	return []job{
		{name: "due_reminder", cron: cfg.DueReminderCron, taskType: tasks.TypeDueReminder},
		{name: "stale_digest", cron: cfg.StaleDigestCron, taskType: tasks.TypeStaleDigest},
		{name: "overdue_check", cron: cfg.OverdueCheckCron, taskType: tasks.TypeOverdueCheck},
	}
}

// New registers every periodic job. An empty cron spec disables its job.
func New(cfg *config.Config, enqueuer tasks.Enqueuer) (*Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	sch := &Scheduler{scheduler: s, enqueuer: enqueuer}

	for _, j := range jobsFor(cfg) {
		if j.cron == "" {
			logger.Infof("Scheduled job %s disabled", j.name)
			continue
		}
		_, err := s.NewJob(
			gocron.CronJob(j.cron, false),
			gocron.NewTask(sch.enqueue, j.taskType),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = s.Shutdown()
			return nil, fmt.Errorf("failed to register job %s (%q): %w", j.name, j.cron, err)
		}
	}
	return sch, nil
}

func (s *Scheduler) enqueue(taskType string) {
	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()

	info, err := s.enqueuer.EnqueueContext(ctx, tasks.NewPeriodicTask(taskType))
	switch {
	case errors.Is(err, asynq.ErrDuplicateTask), errors.Is(err, asynq.ErrTaskIDConflict):
		logger.Debugf("Periodic task %s already queued", taskType)
	case err != nil:
		logger.Errorf("Failed to enqueue periodic task %s: %v", taskType, err)
	default:
		logger.Infof("Enqueued periodic task %s (id %s)", taskType, info.ID)
	}
}

// JobNames lists the registered jobs.
func (s *Scheduler) JobNames() []string {
	var names []string
	for _, j := range s.scheduler.Jobs() {
		names = append(names, j.Name())
	}
	return names
}

func (s *Scheduler) Start() {
	s.scheduler.Start()
	logger.Infof("Scheduler started with jobs %v", s.JobNames())
}

func (s *Scheduler) Stop() {
	if err := s.scheduler.Shutdown(); err != nil {
		logger.Errorf("Failed to shutdown scheduler: %v", err)
		return
	}
	logger.Infof("Scheduler stopped")
}
