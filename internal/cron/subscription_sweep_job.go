package cron

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"github.com/pro-cess/subscriptions-backend/pkg/config"
	"github.com/pro-cess/subscriptions-backend/pkg/logger"
)

const subscriptionSweepJobName = "subscription-sweep"

type sweeper interface {
	ExpireMissedRenewals(ctx context.Context, batch int) (int, error)
	ExpireLapsedTrials(ctx context.Context, batch int) (int, error)
	MatureCancellations(ctx context.Context, batch int) (int, error)
	SendRenewalReminders(ctx context.Context, lead time.Duration, batch int) (int, error)
}

// SubscriptionSweepJob is the daily safety net: it expires subscriptions the
// webhooks never settled, matures pending cancellations, and sends renewal
// reminders. Each pass runs even when an earlier one fails.
type SubscriptionSweepJob struct {
	subs  sweeper
	logg  *logger.Logger
	lead  time.Duration
	batch int
}

func NewSubscriptionSweepJob(subs sweeper, logg *logger.Logger, cfg config.SweepConfig) *SubscriptionSweepJob {
	lead := time.Duration(cfg.ReminderLeadDays) * 24 * time.Hour
	if lead <= 0 {
		lead = 7 * 24 * time.Hour
	}
	return &SubscriptionSweepJob{
		subs:  subs,
		logg:  logg,
		lead:  lead,
		batch: cfg.BatchSize,
	}
}

func (j *SubscriptionSweepJob) Name() string { return subscriptionSweepJobName }

func (j *SubscriptionSweepJob) Run(ctx context.Context) error {
	var errs error

	missed, err := j.subs.ExpireMissedRenewals(ctx, j.batch)
	errs = multierr.Append(errs, err)

	trials, err := j.subs.ExpireLapsedTrials(ctx, j.batch)
	errs = multierr.Append(errs, err)

	matured, err := j.subs.MatureCancellations(ctx, j.batch)
	errs = multierr.Append(errs, err)

	reminders, err := j.subs.SendRenewalReminders(ctx, j.lead, j.batch)
	errs = multierr.Append(errs, err)

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"missed_renewals_expired": missed,
		"trials_expired":          trials,
		"cancellations_matured":   matured,
		"reminders_sent":          reminders,
	}), "subscription sweep finished")

	return errs
}
