package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseEvery(t *testing.T) {
	cases := []struct {
		expr string
		want time.Duration
		ok   bool
	}{
		{"@every 6h", 6 * time.Hour, true},
		{"@every 300s", 300 * time.Second, true},
		{"  @every 1m  ", time.Minute, true},
		{"@every -5s", 0, false},
		{"@every banana", 0, false},
		{"0 * * * *", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, err := ParseEvery(c.expr)
		if c.ok && (err != nil || got != c.want) {
			t.Fatalf("ParseEvery(%q) = %v, %v; want %v", c.expr, got, err, c.want)
		}
		if !c.ok && err == nil {
			t.Fatalf("ParseEvery(%q) expected error", c.expr)
		}
	}
}

func TestAddValidation(t *testing.T) {
	s := New(nil)
	if err := s.Add(&Task{Schedule: "@every 1s", Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatalf("expected error for missing name")
	}
	if err := s.Add(&Task{Name: "a", Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatalf("expected error for missing schedule")
	}
	if err := s.Add(&Task{Name: "a", Schedule: "@every 1s"}); err == nil {
		t.Fatalf("expected error for missing run func")
	}
	if err := s.Add(&Task{Name: "a", Schedule: "* * * * *", Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatalf("expected error for cron-style schedule")
	}
	ok := &Task{Name: "a", Schedule: "@every 1s", Run: func(context.Context) error { return nil }}
	if err := s.Add(ok); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(&Task{Name: "a", Schedule: "@every 1s", Run: func(context.Context) error { return nil }}); err == nil {
		t.Fatalf("expected duplicate name error")
	}
}

func TestSchedulerRunsTask(t *testing.T) {
	var runs atomic.Int32
	s := New(nil)
	err := s.Add(&Task{
		Name:     "tick",
		Schedule: "@every 10ms",
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runs.Load() >= 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task ran %d times, want at least 2", runs.Load())
}

func TestSkipsOverlappingRuns(t *testing.T) {
	var started atomic.Int32
	block := make(chan struct{})
	s := New(nil)
	err := s.Add(&Task{
		Name:     "slow",
		Schedule: "@every 10ms",
		Run: func(context.Context) error {
			started.Add(1)
			<-block
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Several ticks pass while the first run is blocked; only one run may be
	// in flight.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && started.Load() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(60 * time.Millisecond)
	if got := started.Load(); got != 1 {
		t.Fatalf("task started %d times concurrently", got)
	}
	close(block)
	s.Stop()
}

func TestTrigger(t *testing.T) {
	var runs atomic.Int32
	s := New(nil)
	err := s.Add(&Task{
		Name:     "manual",
		Schedule: "@every 1h",
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	ran, err := s.Trigger(context.Background(), "manual")
	if err != nil || !ran {
		t.Fatalf("Trigger = %v, %v; want true, nil", ran, err)
	}
	if runs.Load() != 1 {
		t.Fatalf("expected one run, got %d", runs.Load())
	}
	if _, err := s.Trigger(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown task")
	}
}

func TestTriggerSkipsWhileRunning(t *testing.T) {
	block := make(chan struct{})
	release := make(chan struct{})
	s := New(nil)
	err := s.Add(&Task{
		Name:     "busy",
		Schedule: "@every 1h",
		Run: func(context.Context) error {
			close(block)
			<-release
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	go func() { _, _ = s.Trigger(context.Background(), "busy") }()
	<-block

	ran, err := s.Trigger(context.Background(), "busy")
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if ran {
		t.Fatalf("overlapping trigger must be skipped")
	}
	close(release)
}

func TestTriggerReturnsRunError(t *testing.T) {
	wantErr := errors.New("boom")
	s := New(nil)
	err := s.Add(&Task{
		Name:     "failing",
		Schedule: "@every 1h",
		Run:      func(context.Context) error { return wantErr },
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	ran, err := s.Trigger(context.Background(), "failing")
	if !ran || !errors.Is(err, wantErr) {
		t.Fatalf("Trigger = %v, %v; want true, %v", ran, err, wantErr)
	}
}

func TestStopDrainsInFlightRun(t *testing.T) {
	var started, finished atomic.Bool
	s := New(nil)
	err := s.Add(&Task{
		Name:     "drain",
		Schedule: "@every 10ms",
		Run: func(context.Context) error {
			started.Store(true)
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !started.Load() {
		time.Sleep(5 * time.Millisecond)
	}
	if !started.Load() {
		t.Fatalf("run never started")
	}
	s.Stop()
	if !finished.Load() {
		t.Fatalf("Stop returned before the in-flight run finished")
	}
	// Stop is idempotent.
	s.Stop()
}

func TestErrFnObservesFailures(t *testing.T) {
	got := make(chan string, 1)
	s := New(func(name string, err error) {
		select {
		case got <- name:
		default:
		}
	})
	err := s.Add(&Task{
		Name:     "broken",
		Schedule: "@every 10ms",
		Run:      func(context.Context) error { return errors.New("nope") },
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()
	select {
	case name := <-got:
		if name != "broken" {
			t.Fatalf("errFn observed %s, want broken", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("errFn never called")
	}
}
