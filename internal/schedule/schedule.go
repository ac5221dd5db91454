package schedule

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Task is a scheduled function run.
// Schedule supports only the form "@every <duration>" (e.g., "@every 6h").
// Runs never overlap: while a run of the task is still in flight its ticks
// are skipped, and a manual Trigger reports the skip instead of racing.
//
// Name must be unique across tasks inside the same Scheduler.

type Task struct {
	Name     string
	Schedule string
	Jitter   time.Duration // random delay added per tick, 0 disables
	Run      func(ctx context.Context) error

	// internal (guarded via atomic)
	running atomic.Bool
}

// ParseEvery parses schedules of the form "@every <duration>".
func ParseEvery(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "@every ") {
		return 0, fmt.Errorf("unsupported schedule: %s (only @every <duration> supported)", expr)
	}
	durStr := strings.TrimSpace(strings.TrimPrefix(expr, "@every "))
	d, err := time.ParseDuration(durStr)
	if err != nil {
		return 0, fmt.Errorf("invalid @every duration: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("@every duration must be > 0")
	}
	return d, nil
}

func (t *Task) validate() error {
	if t.Name == "" {
		return errors.New("task requires a name")
	}
	if t.Schedule == "" {
		return errors.New("task requires a schedule")
	}
	if t.Run == nil {
		return errors.New("task requires a run function")
	}
	return nil
}

// Scheduler runs periodic tasks on independent tickers.
// Use Start to launch the background loops, and Stop to cancel them.
// Stop does not interrupt in-flight runs; it waits for them to finish, so a
// task like a backup is never cut off half-written.

type Scheduler struct {
	mu    sync.Mutex
	tasks []*Task
	quit  chan struct{}
	wg    sync.WaitGroup // ticker loops and in-flight runs
	errFn func(name string, err error)
}

// New creates a Scheduler. errFn, when non-nil, observes task run errors.
func New(errFn func(name string, err error)) *Scheduler {
	return &Scheduler{errFn: errFn}
}

func (s *Scheduler) Add(task *Task) error {
	if err := task.validate(); err != nil {
		return err
	}
	if _, err := ParseEvery(task.Schedule); err != nil {
		return fmt.Errorf("task %s: %w", task.Name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.Name == task.Name {
			return fmt.Errorf("task %s already registered", task.Name)
		}
	}
	s.tasks = append(s.tasks, task)
	return nil
}

// Start launches all task loops. Runs execute under ctx; cancellation of ctx
// also stops the loops. Call Stop for a graceful shutdown that drains
// in-flight runs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quit != nil {
		return errors.New("scheduler already started")
	}
	s.quit = make(chan struct{})
	for _, t := range s.tasks {
		period, err := ParseEvery(t.Schedule)
		if err != nil {
			return fmt.Errorf("task %s: %w", t.Name, err)
		}
		s.wg.Add(1)
		go s.runLoop(ctx, t, period)
	}
	return nil
}

func (s *Scheduler) runLoop(ctx context.Context, t *Task, period time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if t.Jitter > 0 {
				// #nosec G404 -- jitter spreads load, not a security boundary
				d := time.Duration(rand.Int63n(int64(t.Jitter)))
				select {
				case <-time.After(d):
				case <-s.quit:
					return
				case <-ctx.Done():
					return
				}
			}
			// attempt to mark running; if already true, skip this tick
			if !t.running.CompareAndSwap(false, true) {
				continue
			}
			// Run in a separate goroutine so a slow task never blocks its
			// own ticker. The WaitGroup keeps Stop honest about in-flight runs.
			s.wg.Add(1)
			go func(t *Task) {
				defer s.wg.Done()
				defer t.running.Store(false)
				if err := t.Run(ctx); err != nil && s.errFn != nil {
					s.errFn(t.Name, err)
				}
			}(t)
		}
	}
}

// Trigger runs a registered task immediately, outside its ticker. Non-overlap
// still applies; a skipped trigger returns false.
func (s *Scheduler) Trigger(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	var task *Task
	for _, t := range s.tasks {
		if t.Name == name {
			task = t
			break
		}
	}
	s.mu.Unlock()
	if task == nil {
		return false, fmt.Errorf("unknown task %s", name)
	}
	if !task.running.CompareAndSwap(false, true) {
		return false, nil
	}
	defer task.running.Store(false)
	return true, task.Run(ctx)
}

// Stop cancels ticker loops and waits for in-flight runs to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.quit == nil {
		s.mu.Unlock()
		return
	}
	select {
	case <-s.quit:
		// already closed
	default:
		close(s.quit)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
