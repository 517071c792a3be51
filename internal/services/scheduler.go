package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"talentmail/internal/models"
	"talentmail/internal/repository"
	"talentmail/internal/tasks"
	"talentmail/internal/utils/logger"
)

// maxCatchUp bounds how many missed runs NextRun skips over
const maxCatchUp = 10000

// scheduleFor returns the cron schedule of a recurring frequency, anchored
// at the time of day (and weekday, day or month) of anchor
func scheduleFor(freq models.Frequency, anchor time.Time) (cron.Schedule, error) {
	var spec string
	switch freq {
	case models.FrequencyDaily:
		spec = fmt.Sprintf("%d %d * * *", anchor.Minute(), anchor.Hour())
	case models.FrequencyWeekly:
		spec = fmt.Sprintf("%d %d * * %d", anchor.Minute(), anchor.Hour(), int(anchor.Weekday()))
	case models.FrequencyBiweekly:
		return cron.Every(14 * 24 * time.Hour), nil
	case models.FrequencyMonthly:
		spec = fmt.Sprintf("%d %d %d * *", anchor.Minute(), anchor.Hour(), anchor.Day())
	case models.FrequencyYearly:
		spec = fmt.Sprintf("%d %d %d %d *", anchor.Minute(), anchor.Hour(), anchor.Day(), int(anchor.Month()))
	default:
		return nil, fmt.Errorf("%w: frequency %q does not recur", ErrInvalidUsage, freq)
	}
	return cron.ParseStandard(spec)
}

// NextRun is the first run of freq after now, counted from the run at
// anchor. Runs missed while the scheduler was down are skipped. A nil time
// means the campaign never runs again.
func NextRun(freq models.Frequency, anchor, now time.Time) (*time.Time, error) {
	if !freq.Recurring() {
		return nil, nil
	}
	sched, err := scheduleFor(freq, anchor)
	if err != nil {
		return nil, err
	}

	next := sched.Next(anchor)
	for i := 0; !next.After(now); i++ {
		if next.IsZero() || i >= maxCatchUp {
			return nil, fmt.Errorf("no next run for %s after %s", freq, now)
		}
		next = sched.Next(next)
	}
	return &next, nil
}

// CampaignScheduler queues dispatches of campaigns whose next run is due
type CampaignScheduler struct {
	store    *repository.Store
	enqueuer DispatchEnqueuer
	now      func() time.Time
	log      *logger.Logger
}

func NewCampaignScheduler(store *repository.Store, enqueuer DispatchEnqueuer) *CampaignScheduler {
	return &CampaignScheduler{
		store:    store,
		enqueuer: enqueuer,
		now:      time.Now,
		log:      logger.New("SCHEDULER"),
	}
}

// EnqueueDue queues every due campaign and moves its next run forward.
// A campaign whose enqueue fails keeps its next run and is retried on the
// following tick.
func (s *CampaignScheduler) EnqueueDue(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.DueCampaigns(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to load due campaigns: %w", err)
	}

	queued := 0
	for i := range due {
		campaign := &due[i]
		scheduledFor := *campaign.NextRunAt

		if _, err := s.enqueuer.EnqueueCampaignDispatch(ctx, tasks.CampaignDispatchTask{
			CampaignID:   campaign.ID,
			ScheduledFor: scheduledFor,
		}); err != nil {
			s.log.Error(fmt.Sprintf("failed to queue scheduled run of campaign %s", campaign.ID), err)
			continue
		}
		queued++

		next, err := NextRun(campaign.Frequency, scheduledFor, now)
		if err != nil {
			s.log.Warn("campaign %s: %v, schedule cleared", campaign.ID, err)
			next = nil
		}
		if next != nil && campaign.StopAt != nil && !next.Before(*campaign.StopAt) {
			next = nil
		}
		if err := s.store.SetNextRun(ctx, campaign.ID, next); err != nil {
			s.log.Error(fmt.Sprintf("failed to advance campaign %s", campaign.ID), err)
		}
	}

	if queued > 0 {
		s.log.Info("⏰ Queued %d scheduled campaigns", queued)
	}
	return queued, nil
}
