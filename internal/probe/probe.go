package probe

import "context"

// Probe is a strategy that determines whether a monitored service is running.
// Implementations may check a PID file, a PID number, or run a status command.
// It must be safe for concurrent use.
type Probe interface {
	// Alive returns true if the service is detected as running. The probe
	// must honor ctx; callers invoke it under a deadline. An error means
	// the probe itself could not run; callers must treat that as "unknown",
	// not as "down".
	Alive(ctx context.Context) (bool, error)
	// Describe returns a human-readable description of the probe method.
	Describe() string
}

// PIDSource is implemented by probes that can name the concrete PID they
// track. The resource sampler uses it to query the process directly instead
// of matching process names.
type PIDSource interface {
	PID() (int, error)
}
