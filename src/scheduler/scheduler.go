package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/khabaroff/pcn-tracker/src/logging"
	"github.com/robfig/cron/v3"
)

// ErrTaskAdded is returned when a task name is registered twice
var ErrTaskAdded = errors.New("task already added")

// Task is one recurring job. Exactly one of Interval or Spec drives it.
type Task struct {
	Name         string
	InitialDelay time.Duration
	Interval     time.Duration
	Spec         string        // standard 5-field cron expression
	Timeout      time.Duration // bounds one run and the job lock lifetime
	Run          func(ctx context.Context) error

	id cron.EntryID
}

// IntervalSchedule fires after InitialDelay, then every Interval
type IntervalSchedule struct {
	once         sync.Once
	InitialDelay time.Duration
	Interval     time.Duration
}

func (s *IntervalSchedule) Next(t time.Time) time.Time {
	interval := s.Interval
	s.once.Do(func() {
		interval = s.InitialDelay
	})
	return t.Add(interval)
}

// Scheduler runs tasks on their schedules. Each run holds the task's lock,
// so a run that overlaps another (here or on a replica) is skipped.
type Scheduler struct {
	cron   *cron.Cron
	locker Locker
	tasks  map[string]*Task
	mux    sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler; a nil locker means an in-process one
func New(locker Locker) *Scheduler {
	if locker == nil {
		locker = NewLocalLocker()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cron.DefaultLogger)),
		),
		locker: locker,
		tasks:  make(map[string]*Task),
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddTask registers task. A duplicate name returns ErrTaskAdded.
func (s *Scheduler) AddTask(task *Task) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	if _, exists := s.tasks[task.Name]; exists {
		return fmt.Errorf("%w: %s", ErrTaskAdded, task.Name)
	}

	job := cron.FuncJob(func() { _, _ = s.Exclusive(s.ctx, task.Name, task.Run) })
	switch {
	case task.Spec != "":
		id, err := s.cron.AddJob(task.Spec, job)
		if err != nil {
			return fmt.Errorf("task %s: invalid schedule %q: %w", task.Name, task.Spec, err)
		}
		task.id = id
	case task.Interval > 0:
		delay := task.InitialDelay
		if delay <= 0 {
			delay = task.Interval
		}
		task.id = s.cron.Schedule(&IntervalSchedule{InitialDelay: delay, Interval: task.Interval}, job)
	default:
		return fmt.Errorf("task %s: needs an interval or a cron spec", task.Name)
	}

	s.tasks[task.Name] = task
	return nil
}

// Exclusive runs fn under the named job's lock, the same lock scheduled runs of
// that job take. It returns false without calling fn when another run holds it.
// The lock lifetime and run deadline come from the registered task's Timeout.
func (s *Scheduler) Exclusive(ctx context.Context, name string, fn func(ctx context.Context) error) (bool, error) {
	ttl := time.Hour
	s.mux.RLock()
	if task, ok := s.tasks[name]; ok && task.Timeout > 0 {
		ttl = task.Timeout
	}
	s.mux.RUnlock()

	logger := logging.FromContext(ctx, "scheduler").With().Str("task", name).Logger()

	release, ok, err := s.locker.TryLock(ctx, name, ttl)
	if err != nil {
		logger.Error().Err(err).Msg("Could not acquire job lock")
		return false, err
	}
	if !ok {
		logger.Info().Msg("Previous run still in progress, skipping")
		return false, nil
	}
	defer release()

	runCtx, cancel := context.WithTimeout(logging.IntoContext(ctx, logger), ttl)
	defer cancel()

	start := time.Now()
	if err := fn(runCtx); err != nil {
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Task failed")
		return true, err
	}
	logger.Debug().Dur("duration", time.Since(start)).Msg("Task finished")
	return true, nil
}

// Start begins firing schedules in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops firing, cancels running tasks and waits for them to return
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	s.cancel()
	<-ctx.Done()
}
