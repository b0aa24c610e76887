package projects

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/coopledger/funding_layer/internal/app/metrics"
	"github.com/coopledger/funding_layer/pkg/logger"
)

// DefaultPayoutSchedule drives unfinished payouts forward once a minute.
const DefaultPayoutSchedule = "@every 1m"

// PayoutRunner is a background scheduler that steps every started but
// unfinished revenue payout. Admins normally drive payouts by calling the
// step endpoint in a loop; the runner picks up where an interrupted admin
// left off, relying on the durable cursor to never double-pay.
type PayoutRunner struct {
	svc      *Service
	cron     *cron.Cron
	schedule string
	log      *logger.Logger
}

// NewPayoutRunner creates the scheduler. An empty schedule uses
// DefaultPayoutSchedule.
func NewPayoutRunner(svc *Service, schedule string, log *logger.Logger) *PayoutRunner {
	if log == nil {
		log = logger.NewDefault("payout-runner")
	}
	if schedule == "" {
		schedule = DefaultPayoutSchedule
	}
	return &PayoutRunner{svc: svc, schedule: schedule, log: log}
}

// Name implements system.Service.
func (r *PayoutRunner) Name() string { return "payout-runner" }

// Start begins the schedule.
func (r *PayoutRunner) Start(ctx context.Context) error {
	r.cron = cron.New()
	if _, err := r.cron.AddFunc(r.schedule, func() { r.runOnce(context.Background()) }); err != nil {
		return fmt.Errorf("schedule payout runner: %w", err)
	}
	r.cron.Start()
	r.log.Infof("payout runner started, schedule=%q", r.schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (r *PayoutRunner) Stop(ctx context.Context) error {
	if r.cron == nil {
		return nil
	}
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// runOnce sweeps all projects and steps each unfinished payout to
// completion.
func (r *PayoutRunner) runOnce(ctx context.Context) {
	projs, err := r.svc.List(ctx, "")
	if err != nil {
		r.log.Errorf("payout sweep: list projects: %v", err)
		return
	}

	for _, proj := range projs {
		if proj.Payout == nil || proj.Payout.Done {
			continue
		}
		for {
			more, err := r.svc.PayoutRevenueShares(ctx, proj.Admin, proj.Address)
			if err != nil {
				metrics.RecordPayoutBatch("error")
				r.log.Errorf("payout sweep: project %s: %v", proj.Address, err)
				break
			}
			metrics.RecordPayoutBatch("ok")
			if !more {
				r.log.Infof("payout sweep: project %s completed", proj.Address)
				break
			}
		}
	}
}
