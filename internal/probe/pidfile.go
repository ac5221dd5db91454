package probe

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// PIDFileProbe detects a service via its PID file. The file's first line must
// hold the PID; anything after the first line is ignored.
type PIDFileProbe struct {
	Path string
}

func (p PIDFileProbe) readPID() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	first := strings.TrimSpace(strings.SplitN(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n", 2)[0])
	if first == "" {
		return 0, fmt.Errorf("empty pidfile: %s", p.Path)
	}
	pid, err := strconv.Atoi(first)
	if err != nil {
		return 0, fmt.Errorf("invalid pid in %s: %w", p.Path, err)
	}
	return pid, nil
}

func (p PIDFileProbe) Alive(_ context.Context) (bool, error) {
	pid, err := p.readPID()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return pidAlive(pid), nil
}

func (p PIDFileProbe) PID() (int, error) { return p.readPID() }

func (p PIDFileProbe) Describe() string { return "pidfile:" + p.Path }

// PIDProbe detects by a fixed PID number.
type PIDProbe struct{ Pid int }

func (p PIDProbe) Alive(_ context.Context) (bool, error) { return pidAlive(p.Pid), nil }
func (p PIDProbe) PID() (int, error)    { return p.Pid, nil }
func (p PIDProbe) Describe() string     { return fmt.Sprintf("pid:%d", p.Pid) }
