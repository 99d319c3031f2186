package services

import (
	"time"

	"github.com/go-co-op/gocron/v2"
)

// PeriodicTask is the single cancellable recurring-job primitive used for
// the decay tick and background sync intervals. Owners must call Stop on
// teardown so no orphaned job keeps mutating state.
type PeriodicTask struct {
	sched gocron.Scheduler
}

// StartPeriodicTask schedules fn every interval and starts it immediately.
func StartPeriodicTask(interval time.Duration, fn func()) (*PeriodicTask, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(fn),
	); err != nil {
		_ = sched.Shutdown()
		return nil, err
	}
	sched.Start()
	return &PeriodicTask{sched: sched}, nil
}

func (t *PeriodicTask) Stop() {
	if t != nil {
		_ = t.sched.Shutdown()
	}
}
