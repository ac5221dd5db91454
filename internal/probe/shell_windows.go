//go:build windows

package probe

import (
	"context"
	"os/exec"
)

// shellCommandContext returns a shell command for Windows systems bound to ctx.
func shellCommandContext(ctx context.Context, script string) *exec.Cmd {
	// #nosec G204
	return exec.CommandContext(ctx, "cmd", "/c", script)
}
