package control

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/okonev/vigil/internal/probe"
)

// Exec controls a service through arbitrary host commands, for supervisors
// without a systemctl-style front end (docker, runit, bare scripts).
// StatusProbe, when set, takes precedence over StatusCommand for liveness.
type Exec struct {
	StartCommand   string
	StopCommand    string
	RestartCommand string // optional; falls back to stop+start
	StatusCommand  string // exit 0 means running
	StatusProbe    probe.Probe
}

// buildCommand constructs an *exec.Cmd bound to ctx. It avoids invoking a
// shell unless obvious shell metacharacters are present (G204 mitigation).
func buildCommand(ctx context.Context, cmdStr string) (*exec.Cmd, error) {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return nil, errors.New("empty command")
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return shellCommandContext(ctx, cmdStr), nil
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204
	return exec.CommandContext(ctx, name, args...), nil
}

func (e Exec) Status(ctx context.Context) (bool, error) {
	if e.StatusProbe != nil {
		return e.StatusProbe.Alive(ctx)
	}
	if e.StatusCommand == "" {
		return false, errors.New("exec controller has neither status probe nor status command")
	}
	cmd, err := buildCommand(ctx, e.StatusCommand)
	if err != nil {
		return false, err
	}
	err = cmd.Run()
	if err == nil {
		return true, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return false, nil
	}
	return false, err
}

func (e Exec) Start(ctx context.Context) error { return e.run(ctx, "start", e.StartCommand) }
func (e Exec) Stop(ctx context.Context) error  { return e.run(ctx, "stop", e.StopCommand) }

func (e Exec) Restart(ctx context.Context) error {
	if e.RestartCommand != "" {
		return e.run(ctx, "restart", e.RestartCommand)
	}
	if err := e.Stop(ctx); err != nil {
		return err
	}
	return e.Start(ctx)
}

func (e Exec) run(ctx context.Context, verb, cmdStr string) error {
	cmd, err := buildCommand(ctx, cmdStr)
	if err != nil {
		return fmt.Errorf("%s command: %w", verb, err)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return fmt.Errorf("%s command failed: %w: %s", verb, err, msg)
		}
		return fmt.Errorf("%s command failed: %w", verb, err)
	}
	return nil
}
