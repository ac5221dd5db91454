// Package control abstracts the start/stop/status/restart primitives of the
// host's process supervisor. The watcher core depends only on the Controller
// interface, so test doubles and alternative supervisors plug in freely.
package control

import "context"

// Controller is the capability surface for one monitored service.
// All operations must honor ctx cancellation and deadlines; callers always
// invoke them under an explicit timeout.
type Controller interface {
	// Status reports whether the service is currently running. An error means
	// the status query itself could not run (treated as unknown upstream).
	Status(ctx context.Context) (bool, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
}
