package watch

import "time"

// State is the watcher's view of one monitored service.
//
// Transitions: Unknown -> Running -> (failure) -> Restarting -> (success) ->
// Running, or Restarting -> (failure) -> Down. Down is terminal until an
// operator re-arms the watcher; there is no automatic retry beyond the single
// restart attempt per check cycle.
type State string

const (
	StateUnknown    State = "unknown"
	StateRunning    State = "running"
	StateRestarting State = "restarting"
	StateDown       State = "down"
)

// States lists all watcher states, for metrics and API enumeration.
func States() []State {
	return []State{StateUnknown, StateRunning, StateRestarting, StateDown}
}

// ServiceState is the mutable record for one monitored service. It is owned
// by the service's watcher goroutine; readers receive copies via Snapshot.
// It lives for the daemon's process lifetime and is not persisted.
type ServiceState struct {
	Name                string    `json:"name"`
	State               State     `json:"state"`
	Running             bool      `json:"running"`
	LastCheckTime       time.Time `json:"last_check_time"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastRestartTime     time.Time `json:"last_restart_time"`
	MemoryPercent       float64   `json:"memory_percent,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
}
