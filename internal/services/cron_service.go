package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Cron formats use seconds: second minute hour day month weekday
const (
	sweepHoldsSchedule = "0 * * * * *"    // every minute
	reconcileSchedule  = "30 */5 * * * *" // every five minutes, offset from the sweep
)

// HoldSweeper runs one pass of the hold sweeper
type HoldSweeper interface {
	RunOnce(ctx context.Context) (*SweepReport, error)
}

// Reconciler runs one pass of the stuck-saga reconciler
type Reconciler interface {
	RunOnce(ctx context.Context) (*ReconcileReport, error)
}

// CronService manages scheduled background jobs
type CronService struct {
	cron       *cron.Cron
	sweeper    HoldSweeper
	reconciler Reconciler
	logger     *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	jobs    map[cron.EntryID]string
	lastRun map[string]jobRun
}

type jobRun struct {
	At       time.Time
	Duration time.Duration
	Err      string
}

// NewCronService creates a new CronService
func NewCronService(sweeper HoldSweeper, reconciler Reconciler, logger *logrus.Logger) *CronService {
	ctx, cancel := context.WithCancel(context.Background())
	return &CronService{
		cron:       cron.New(cron.WithSeconds()),
		sweeper:    sweeper,
		reconciler: reconciler,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		jobs:       make(map[cron.EntryID]string),
		lastRun:    make(map[string]jobRun),
	}
}

// Start starts all cron jobs
func (s *CronService) Start() error {
	s.logger.Info("Starting cron service")

	if err := s.schedule("sweep_holds", sweepHoldsSchedule, s.sweepHoldsJob); err != nil {
		return err
	}
	if err := s.schedule("reconcile", reconcileSchedule, s.reconcileJob); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.WithField("jobs", len(s.jobs)).Info("Cron service started")
	return nil
}

func (s *CronService) schedule(name, spec string, job func()) error {
	id, err := s.cron.AddFunc(spec, job)
	if err != nil {
		return fmt.Errorf("failed to schedule %s job: %w", name, err)
	}
	s.mu.Lock()
	s.jobs[id] = name
	s.mu.Unlock()
	s.logger.WithFields(logrus.Fields{"job": name, "schedule": spec}).Info("Scheduled job")
	return nil
}

// Stop cancels in-flight jobs and waits for them to return
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service")
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("Cron service stopped")
}

func (s *CronService) sweepHoldsJob() {
	s.run("sweep_holds", func(ctx context.Context) (interface{}, error) {
		return s.sweeper.RunOnce(ctx)
	})
}

func (s *CronService) reconcileJob() {
	s.run("reconcile", func(ctx context.Context) (interface{}, error) {
		return s.reconciler.RunOnce(ctx)
	})
}

func (s *CronService) run(name string, job func(ctx context.Context) (interface{}, error)) {
	start := time.Now()
	report, err := job(s.ctx)
	duration := time.Since(start)

	run := jobRun{At: start, Duration: duration}
	log := s.logger.WithFields(logrus.Fields{"job": name, "duration": duration})
	if err != nil {
		run.Err = err.Error()
		log.WithError(err).Error("Cron job failed")
	} else {
		log.WithField("report", report).Debug("Cron job finished")
	}

	s.mu.Lock()
	s.lastRun[name] = run
	s.mu.Unlock()
}

// RunNow runs both jobs immediately and returns their reports
func (s *CronService) RunNow(ctx context.Context) (*SweepReport, *ReconcileReport, error) {
	s.logger.Info("Running sweep and reconcile now")
	sweep, err := s.sweeper.RunOnce(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("sweep failed: %w", err)
	}
	reconcile, err := s.reconciler.RunOnce(ctx)
	if err != nil {
		return sweep, nil, fmt.Errorf("reconcile failed: %w", err)
	}
	return sweep, reconcile, nil
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		name := s.jobs[entry.ID]
		job := map[string]interface{}{
			"id":       entry.ID,
			"name":     name,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		}
		if last, ok := s.lastRun[name]; ok {
			job["last_duration_ms"] = last.Duration.Milliseconds()
			if last.Err != "" {
				job["last_error"] = last.Err
			}
		}
		jobs = append(jobs, job)
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}
