//go:build !windows

package probe

import (
	"context"
	"os/exec"
)

// shellCommandContext returns a shell command for Unix systems bound to ctx.
func shellCommandContext(ctx context.Context, script string) *exec.Cmd {
	// #nosec G204
	return exec.CommandContext(ctx, "/bin/sh", "-c", script)
}
