package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/okonev/vigil/internal/alert"
	"github.com/okonev/vigil/internal/control"
	"github.com/okonev/vigil/internal/metrics"
	"github.com/okonev/vigil/internal/probe"
)

// Defaults mirror the common operational cadence: a five-minute liveness
// check, a five-second restart grace period, alert at 80% memory.
const (
	DefaultCheckInterval   = 5 * time.Minute
	DefaultRestartGrace    = 5 * time.Second
	DefaultMemoryThreshold = 80.0
)

// Config describes one monitored service.
type Config struct {
	Name string
	// CheckInterval is the liveness check cadence (default 5m).
	CheckInterval time.Duration
	// RestartGrace is the wait after a restart attempt before the liveness
	// re-check; it also bounds each controller operation (default 5s).
	RestartGrace time.Duration
	// MemoryThresholdPercent raises a warning alert when the tracked PID's
	// resident memory crosses it. Zero disables sampling unless a PIDSource
	// is configured, negative disables entirely.
	MemoryThresholdPercent float64
}

func (c *Config) applyDefaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.RestartGrace <= 0 {
		c.RestartGrace = DefaultRestartGrace
	}
	if c.MemoryThresholdPercent == 0 {
		c.MemoryThresholdPercent = DefaultMemoryThreshold
	}
}

// Watcher supervises a single service: periodic liveness checks, a single
// bounded restart attempt on failure, alert and metric emission. The
// ServiceState is mutated only by the watcher's own goroutine (or CheckNow
// callers serialized by the run mutex); Snapshot hands out copies.
type Watcher struct {
	cfg    Config
	ctrl   control.Controller
	pids   probe.PIDSource // optional; enables per-PID memory sampling
	em     *alert.Emitter
	logger *slog.Logger

	runMu sync.Mutex // serializes check cycles (ticker vs manual trigger)
	stMu  sync.Mutex
	st    ServiceState

	quit chan struct{}
	done chan struct{}
}

// New creates a Watcher. ctrl is required; pids may be nil.
func New(cfg Config, ctrl control.Controller, pids probe.PIDSource, em *alert.Emitter, logger *slog.Logger) (*Watcher, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("watcher requires a service name")
	}
	if ctrl == nil {
		return nil, fmt.Errorf("watcher %s requires a controller", cfg.Name)
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if em == nil {
		em = alert.NewEmitter(nil, logger)
	}
	return &Watcher{
		cfg:    cfg,
		ctrl:   ctrl,
		pids:   pids,
		em:     em,
		logger: logger.With("service", cfg.Name),
		st:     ServiceState{Name: cfg.Name, State: StateUnknown},
	}, nil
}

// Snapshot returns a copy of the current service state.
func (w *Watcher) Snapshot() ServiceState {
	w.stMu.Lock()
	defer w.stMu.Unlock()
	return w.st
}

func (w *Watcher) mutate(fn func(*ServiceState)) {
	w.stMu.Lock()
	fn(&w.st)
	st := w.st
	w.stMu.Unlock()

	metrics.SetServiceUp(w.cfg.Name, st.Running)
	metrics.SetConsecutiveFailures(w.cfg.Name, st.ConsecutiveFailures)
	for _, s := range States() {
		metrics.SetServiceState(w.cfg.Name, string(s), s == st.State)
	}
}

// Start launches the periodic check loop. It returns immediately.
func (w *Watcher) Start(ctx context.Context) {
	w.quit = make(chan struct{})
	w.done = make(chan struct{})
	go w.run(ctx)
}

// Stop terminates the loop and waits for an in-flight check to finish.
func (w *Watcher) Stop() {
	if w.quit == nil {
		return
	}
	select {
	case <-w.quit:
	default:
		close(w.quit)
	}
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()

	// First check right away rather than an interval later.
	w.CheckNow(ctx)
	for {
		select {
		case <-w.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.CheckNow(ctx)
		}
	}
}

// CheckNow performs one full check cycle: liveness query, optional memory
// sample, and at most one restart attempt if the service is down. It is safe
// to call concurrently with the ticker loop; cycles never interleave.
func (w *Watcher) CheckNow(ctx context.Context) ServiceState {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	if w.Snapshot().State == StateDown {
		// Terminal until an operator re-arms; restarting in a loop here is
		// exactly the restart storm the single-attempt policy prevents.
		w.logger.Debug("service marked down, skipping check until re-arm")
		return w.Snapshot()
	}

	now := time.Now().UTC()
	running, err := w.queryStatus(ctx)
	switch {
	case err != nil:
		// The probe itself failed. Unknown, never "down": no restart, no
		// failure count change.
		metrics.IncCheck(w.cfg.Name, "unknown")
		w.em.Emit(ctx, w.cfg.Name, alert.SeverityWarning,
			fmt.Sprintf("status query failed: %v", err))
		w.mutate(func(s *ServiceState) {
			s.LastCheckTime = now
			s.State = StateUnknown
			s.LastError = err.Error()
		})

	case running:
		metrics.IncCheck(w.cfg.Name, "up")
		prev := w.Snapshot()
		w.mutate(func(s *ServiceState) {
			s.LastCheckTime = now
			s.Running = true
			s.State = StateRunning
			s.ConsecutiveFailures = 0
			s.LastError = ""
		})
		if prev.ConsecutiveFailures > 0 || prev.State == StateUnknown && prev.LastCheckTime.IsZero() {
			w.logger.Info("service is running")
		}
		w.sampleMemory(ctx)

	default:
		metrics.IncCheck(w.cfg.Name, "down")
		w.mutate(func(s *ServiceState) {
			s.LastCheckTime = now
			s.Running = false
			s.ConsecutiveFailures++
		})
		w.em.Emit(ctx, w.cfg.Name, alert.SeverityWarning, "service is down, attempting restart")
		w.restartOnce(ctx)
	}
	return w.Snapshot()
}

func (w *Watcher) queryStatus(ctx context.Context) (bool, error) {
	qctx, cancel := context.WithTimeout(ctx, w.cfg.RestartGrace)
	defer cancel()
	return w.ctrl.Status(qctx)
}

// restartOnce makes exactly one restart attempt, waits the grace period, then
// re-checks. Still down means Down(critical) with no further automatic retry.
func (w *Watcher) restartOnce(ctx context.Context) {
	w.mutate(func(s *ServiceState) {
		s.State = StateRestarting
		s.LastRestartTime = time.Now().UTC()
	})
	metrics.IncRestartAttempt(w.cfg.Name)

	rctx, cancel := context.WithTimeout(ctx, w.cfg.RestartGrace)
	err := w.ctrl.Restart(rctx)
	cancel()
	if err != nil {
		w.markDown(ctx, fmt.Sprintf("restart command failed: %v", err))
		return
	}

	select {
	case <-time.After(w.cfg.RestartGrace):
	case <-ctx.Done():
		return
	}

	running, qerr := w.queryStatus(ctx)
	if qerr != nil {
		// Can't confirm either way. Leave the cycle in Unknown; the next
		// tick decides.
		w.em.Emit(ctx, w.cfg.Name, alert.SeverityWarning,
			fmt.Sprintf("status query failed after restart: %v", qerr))
		w.mutate(func(s *ServiceState) {
			s.State = StateUnknown
			s.LastError = qerr.Error()
		})
		return
	}
	if running {
		w.em.Emit(ctx, w.cfg.Name, alert.SeverityInfo, "service recovered after restart")
		w.mutate(func(s *ServiceState) {
			s.Running = true
			s.State = StateRunning
			s.ConsecutiveFailures = 0
			s.LastError = ""
		})
		return
	}
	w.markDown(ctx, "service still down after restart")
}

func (w *Watcher) markDown(ctx context.Context, reason string) {
	metrics.IncRestartFailure(w.cfg.Name)
	w.em.Emit(ctx, w.cfg.Name, alert.SeverityCritical, reason+"; operator intervention required")
	w.mutate(func(s *ServiceState) {
		s.Running = false
		s.State = StateDown
		s.LastError = reason
	})
}

// Rearm clears the terminal Down state so periodic checking resumes.
func (w *Watcher) Rearm(ctx context.Context) {
	w.runMu.Lock()
	defer w.runMu.Unlock()
	if w.Snapshot().State != StateDown {
		return
	}
	w.em.Emit(ctx, w.cfg.Name, alert.SeverityInfo, "watcher re-armed by operator")
	w.mutate(func(s *ServiceState) {
		s.State = StateUnknown
		s.ConsecutiveFailures = 0
		s.LastError = ""
	})
}

func (w *Watcher) sampleMemory(ctx context.Context) {
	if w.pids == nil || w.cfg.MemoryThresholdPercent < 0 {
		return
	}
	pid, err := w.pids.PID()
	if err != nil {
		w.logger.Debug("memory sample skipped", "error", err)
		return
	}
	pct, err := memoryPercent(pid)
	if err != nil {
		w.logger.Debug("memory sample failed", "pid", pid, "error", err)
		return
	}
	metrics.SetMemoryPercent(w.cfg.Name, pct)
	w.mutate(func(s *ServiceState) { s.MemoryPercent = pct })
	if pct >= w.cfg.MemoryThresholdPercent {
		w.em.Emit(ctx, w.cfg.Name, alert.SeverityWarning,
			fmt.Sprintf("memory usage %.1f%% exceeds threshold %.1f%%", pct, w.cfg.MemoryThresholdPercent))
	}
}
