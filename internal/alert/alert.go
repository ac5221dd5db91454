package alert

import (
	"context"
	"log/slog"
	"time"
)

// Severity classifies an alert event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is a single append-only alert record. Events are write-once; sinks
// must never mutate them.
type Event struct {
	Service    string    `json:"service"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink is a destination for alert events. Implementations must be safe for
// concurrent use. Send failures are best-effort: callers log and move on,
// they never escalate a sink failure into another alert.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Multi fans out events to several sinks. A failing sink does not prevent
// delivery to the others; the first error is returned for logging.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var first error
	for _, s := range m {
		if err := s.Send(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Emitter binds a set of sinks with a logger so callers have a single
// fire-and-forget entry point.
type Emitter struct {
	sink   Sink
	logger *slog.Logger
}

func NewEmitter(sink Sink, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{sink: sink, logger: logger}
}

// Emit records the event. The sink write runs under the caller's context; a
// write failure is logged once and swallowed.
func (em *Emitter) Emit(ctx context.Context, service string, sev Severity, msg string) {
	e := Event{
		Service:    service,
		Severity:   sev,
		Message:    msg,
		OccurredAt: time.Now().UTC(),
	}
	switch sev {
	case SeverityCritical:
		em.logger.Error(msg, "service", service)
	case SeverityWarning:
		em.logger.Warn(msg, "service", service)
	default:
		em.logger.Info(msg, "service", service)
	}
	if em.sink == nil {
		return
	}
	if err := em.sink.Send(ctx, e); err != nil {
		em.logger.Warn("alert sink write failed", "service", service, "error", err)
	}
}
