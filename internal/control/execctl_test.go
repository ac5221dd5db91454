//go:build !windows

package control

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/okonev/vigil/internal/probe"
)

func TestExecStatusCommand(t *testing.T) {
	ctx := context.Background()

	up := Exec{StatusCommand: "/bin/true"}
	running, err := up.Status(ctx)
	if err != nil || !running {
		t.Fatalf("Status = %v, %v; want true, nil", running, err)
	}

	down := Exec{StatusCommand: "/bin/false"}
	running, err = down.Status(ctx)
	if err != nil {
		t.Fatalf("non-zero exit must not error: %v", err)
	}
	if running {
		t.Fatalf("false should report not running")
	}

	broken := Exec{StatusCommand: "/no/such/binary"}
	if _, err := broken.Status(ctx); err == nil {
		t.Fatalf("unrunnable status command should error")
	}

	neither := Exec{}
	if _, err := neither.Status(ctx); err == nil {
		t.Fatalf("expected error without probe or status command")
	}
}

func TestExecStatusProbePrecedence(t *testing.T) {
	// With a probe set, the status command is never consulted.
	e := Exec{
		StatusCommand: "/no/such/binary",
		StatusProbe:   probe.PIDProbe{Pid: os.Getpid()},
	}
	running, err := e.Status(context.Background())
	if err != nil || !running {
		t.Fatalf("Status = %v, %v; want true, nil", running, err)
	}
}

func TestExecStatusProbeHonorsDeadline(t *testing.T) {
	// A hung probe command must not block the check cycle past its deadline.
	e := Exec{StatusProbe: probe.CommandProbe{Command: "sleep 2"}}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Status(ctx)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Status ignored deadline, ran for %s", elapsed)
	}
	if err == nil {
		t.Fatalf("interrupted status probe must error")
	}
}

func TestExecRestartFallsBackToStopStart(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "order.log")
	e := Exec{
		StartCommand: "sh -c 'echo start >> " + marker + "'",
		StopCommand:  "sh -c 'echo stop >> " + marker + "'",
	}
	if err := e.Restart(context.Background()); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if string(data) != "stop\nstart\n" {
		t.Fatalf("expected stop then start, got %q", data)
	}
}

func TestExecRestartCommandPreferred(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "order.log")
	e := Exec{
		StartCommand:   "sh -c 'echo start >> " + marker + "'",
		StopCommand:    "sh -c 'echo stop >> " + marker + "'",
		RestartCommand: "sh -c 'echo restart >> " + marker + "'",
	}
	if err := e.Restart(context.Background()); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if string(data) != "restart\n" {
		t.Fatalf("restart_cmd should shadow stop+start, got %q", data)
	}
}

func TestExecRunFailureIncludesOutput(t *testing.T) {
	e := Exec{StartCommand: "sh -c 'echo disk is full >&2; exit 1'"}
	err := e.Start(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := err.Error(); !strings.Contains(got, "disk is full") {
		t.Fatalf("error should carry command output, got %q", got)
	}
}

func TestExecEmptyCommand(t *testing.T) {
	e := Exec{}
	if err := e.Start(context.Background()); err == nil {
		t.Fatalf("empty start command should error")
	}
}

func TestBuildCommandShellDetection(t *testing.T) {
	ctx := context.Background()
	plain, err := buildCommand(ctx, "systemctl restart grafana")
	if err != nil {
		t.Fatalf("buildCommand: %v", err)
	}
	if filepath.Base(plain.Path) == "sh" {
		t.Fatalf("plain command should not invoke a shell")
	}

	shelled, err := buildCommand(ctx, "pgrep -f 'grafana server' | head -1")
	if err != nil {
		t.Fatalf("buildCommand: %v", err)
	}
	if filepath.Base(shelled.Path) != "sh" {
		t.Fatalf("metacharacters should route through the shell, got %s", shelled.Path)
	}
}
