package probe

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// shellMeta forces a probe command through the shell when any of these
// characters appear in it.
const shellMeta = "|&;<>*?`$\"'(){}[]~"

// CommandProbe runs a command that should exit zero if the service is running.
type CommandProbe struct{ Command string }

func (p CommandProbe) Alive(ctx context.Context) (bool, error) {
	cmdStr := strings.TrimSpace(p.Command)
	if cmdStr == "" {
		return false, errors.New("empty probe command")
	}
	var cmd *exec.Cmd
	if strings.ContainsAny(cmdStr, shellMeta) {
		cmd = shellCommandContext(ctx, cmdStr)
	} else {
		parts := strings.Fields(cmdStr)
		// #nosec G204
		cmd = exec.CommandContext(ctx, parts[0], parts[1:]...)
	}
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	// A deadline kill also surfaces as an exit error; report it as a probe
	// failure, not as "service down".
	if cerr := ctx.Err(); cerr != nil {
		return false, fmt.Errorf("probe command interrupted: %w", cerr)
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		// non-zero exit code means not alive
		return false, nil
	}
	return false, err
}

func (p CommandProbe) Describe() string { return "cmd:" + p.Command }
