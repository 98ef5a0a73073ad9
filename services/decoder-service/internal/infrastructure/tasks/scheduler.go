package tasks

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/safe-global/safe-decoder-service/shared/logging"
)

// Scheduler feeds the task queue on fixed cron schedules:
// every midnight contracts without ABI are rescanned, at 05:00 proxy
// contracts are refreshed, and hourly the well-known Safe contract
// names are updated.
type Scheduler struct {
	cron   *cron.Cron
	logger *logging.Logger
}

// ScheduledJobs are the callbacks wired into the cron entries
type ScheduledJobs struct {
	RescanContractsWithoutAbi func(ctx context.Context) error
	RefreshProxyContracts     func(ctx context.Context) error
	UpdateWellKnownContracts  func(ctx context.Context) error
}

// NewScheduler creates the periodic schedule
func NewScheduler(jobs ScheduledJobs, logger *logging.Logger) (*Scheduler, error) {
	c := cron.New()
	s := &Scheduler{cron: c, logger: logger}

	if _, err := c.AddFunc("0 0 * * *", s.wrap("rescan_contracts_without_abi", jobs.RescanContractsWithoutAbi)); err != nil {
		return nil, err
	}
	if _, err := c.AddFunc("0 5 * * *", s.wrap("refresh_proxy_contracts", jobs.RefreshProxyContracts)); err != nil {
		return nil, err
	}
	if _, err := c.AddFunc("0 * * * *", s.wrap("update_safe_contracts", jobs.UpdateWellKnownContracts)); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Scheduler) wrap(name string, job func(ctx context.Context) error) func() {
	return func() {
		logger := s.logger.WithField("schedule", name)
		logger.Info("Running scheduled job")
		if err := job(context.Background()); err != nil {
			logger.WithError(err).Error("Scheduled job failed")
		}
	}
}

// Start launches the cron loop in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the cron loop and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
