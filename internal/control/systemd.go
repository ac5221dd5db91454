package control

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Systemd controls a service through systemctl. The unit name is passed
// verbatim; "myapp" resolves to myapp.service on the host.
type Systemd struct {
	Unit string
	// UserMode runs systemctl --user, for per-user units.
	UserMode bool
}

func (s Systemd) args(verb string) []string {
	a := make([]string, 0, 4)
	if s.UserMode {
		a = append(a, "--user")
	}
	return append(a, verb, s.Unit)
}

func (s Systemd) Status(ctx context.Context) (bool, error) {
	a := s.args("is-active")
	a = append(a[:len(a)-1], "--quiet", s.Unit)
	// #nosec G204
	cmd := exec.CommandContext(ctx, "systemctl", a...)
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		// non-zero exit: unit known but inactive
		return false, nil
	}
	// systemctl itself could not run: status unknown
	return false, fmt.Errorf("systemctl is-active %s: %w", s.Unit, err)
}

func (s Systemd) Start(ctx context.Context) error   { return s.run(ctx, "start") }
func (s Systemd) Stop(ctx context.Context) error    { return s.run(ctx, "stop") }
func (s Systemd) Restart(ctx context.Context) error { return s.run(ctx, "restart") }

func (s Systemd) run(ctx context.Context, verb string) error {
	// #nosec G204
	cmd := exec.CommandContext(ctx, "systemctl", s.args(verb)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return fmt.Errorf("systemctl %s %s: %w: %s", verb, s.Unit, err, msg)
		}
		return fmt.Errorf("systemctl %s %s: %w", verb, s.Unit, err)
	}
	return nil
}
