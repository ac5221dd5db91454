//go:build !windows

package probe

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPIDFileProbeMissingFile(t *testing.T) {
	p := PIDFileProbe{Path: filepath.Join(t.TempDir(), "nope.pid")}
	alive, err := p.Alive(context.Background())
	if err != nil {
		t.Fatalf("missing pidfile must not error: %v", err)
	}
	if alive {
		t.Fatalf("missing pidfile means not alive")
	}
}

func TestPIDFileProbeParsing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.pid")
	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatalf("write pidfile: %v", err)
	}
	p := PIDFileProbe{Path: path}
	if _, err := p.Alive(context.Background()); err == nil {
		t.Fatalf("empty pidfile should error")
	}

	// First line carries the PID; trailing content is ignored.
	content := []byte("1\nextra stuff\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write pidfile: %v", err)
	}
	pid, err := p.PID()
	if err != nil {
		t.Fatalf("PID: %v", err)
	}
	if pid != 1 {
		t.Fatalf("PID = %d, want 1", pid)
	}

	if err := os.WriteFile(path, []byte("not-a-pid\n"), 0o600); err != nil {
		t.Fatalf("write pidfile: %v", err)
	}
	if _, err := p.Alive(context.Background()); err == nil {
		t.Fatalf("garbage pidfile should error")
	}
}

func TestPIDProbe(t *testing.T) {
	self := PIDProbe{Pid: os.Getpid()}
	alive, err := self.Alive(context.Background())
	if err != nil || !alive {
		t.Fatalf("own pid should be alive: %v %v", alive, err)
	}
	if pid, _ := self.PID(); pid != os.Getpid() {
		t.Fatalf("PID() = %d", pid)
	}

	// PID beyond any real process on a test host.
	dead := PIDProbe{Pid: 1 << 22}
	alive, err = dead.Alive(context.Background())
	if err != nil {
		t.Fatalf("Alive: %v", err)
	}
	if alive {
		t.Fatalf("absent pid reported alive")
	}
}

func TestCommandProbe(t *testing.T) {
	ok := CommandProbe{Command: "/bin/true"}
	alive, err := ok.Alive(context.Background())
	if err != nil || !alive {
		t.Fatalf("true should be alive: %v %v", alive, err)
	}

	fail := CommandProbe{Command: "/bin/false"}
	alive, err = fail.Alive(context.Background())
	if err != nil {
		t.Fatalf("non-zero exit must not error: %v", err)
	}
	if alive {
		t.Fatalf("false should not be alive")
	}

	missing := CommandProbe{Command: "/no/such/binary"}
	if _, err := missing.Alive(context.Background()); err == nil {
		t.Fatalf("unrunnable probe should error")
	}

	// Shell metacharacters route through the shell.
	shellOK := CommandProbe{Command: "exit 0 && true"}
	alive, err = shellOK.Alive(context.Background())
	if err != nil || !alive {
		t.Fatalf("shell probe should succeed: %v %v", alive, err)
	}

	empty := CommandProbe{Command: "   "}
	if _, err := empty.Alive(context.Background()); err == nil {
		t.Fatalf("empty probe command should error")
	}
}

func TestCommandProbeHonorsDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	slow := CommandProbe{Command: "sleep 2"}
	start := time.Now()
	alive, err := slow.Alive(ctx)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("probe ignored deadline, ran for %s", elapsed)
	}
	if err == nil {
		t.Fatalf("interrupted probe must error, got alive=%v", alive)
	}
}

func TestDescribe(t *testing.T) {
	if got := (PIDFileProbe{Path: "/run/x.pid"}).Describe(); got != "pidfile:/run/x.pid" {
		t.Fatalf("Describe = %q", got)
	}
	if got := (PIDProbe{Pid: 42}).Describe(); got != "pid:42" {
		t.Fatalf("Describe = %q", got)
	}
	if got := (CommandProbe{Command: "pgrep x"}).Describe(); got != "cmd:pgrep x" {
		t.Fatalf("Describe = %q", got)
	}
}
