package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// task is one recurring housekeeping job. Interval tasks rerun a fixed
// duration after each execution; daily tasks rerun at a wall-clock hh:mm.
type task struct {
	name    string
	run     func(context.Context)
	every   time.Duration
	at      string // "15:04", set only for daily tasks
	lastRun time.Time
	nextRun time.Time
}

// Scheduler holds housekeeping tasks and executes the due ones when asked.
// It never runs on its own; the orchestrator's loop drives RunPending, so
// tasks always execute on the single message-processing thread.
type Scheduler struct {
	mu     sync.Mutex
	tasks  []*task
	logger *slog.Logger
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger}
}

// Every registers a task that runs once per interval.
func (s *Scheduler) Every(name string, interval time.Duration, run func(context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &task{
		name:    name,
		run:     run,
		every:   interval,
		nextRun: time.Now().Add(interval),
	})
	s.logger.Info("scheduled task registered", "task", name, "interval", interval)
}

// DailyAt registers a task that runs once a day at the given local
// wall-clock time ("15:04" layout).
func (s *Scheduler) DailyAt(name, at string, run func(context.Context)) error {
	clock, err := time.Parse("15:04", at)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &task{
		name:    name,
		run:     run,
		at:      at,
		nextRun: nextClock(time.Now(), clock.Hour(), clock.Minute()),
	})
	s.logger.Info("scheduled task registered", "task", name, "at", at)
	return nil
}

// RunPending executes every task whose next-run time has passed. Tasks run
// synchronously on the caller.
func (s *Scheduler) RunPending(ctx context.Context, now time.Time) {
	due := s.takeDue(now)
	for _, t := range due {
		s.logger.Debug("running scheduled task", "task", t.name)
		t.run(ctx)
	}
}

func (s *Scheduler) takeDue(now time.Time) []*task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*task
	for _, t := range s.tasks {
		if now.Before(t.nextRun) {
			continue
		}
		t.lastRun = now
		if t.at != "" {
			clock, _ := time.Parse("15:04", t.at)
			t.nextRun = nextClock(now, clock.Hour(), clock.Minute())
		} else {
			t.nextRun = now.Add(t.every)
		}
		due = append(due, t)
	}
	return due
}

// nextClock returns the first instant after now whose local wall clock
// reads hh:mm.
func nextClock(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
