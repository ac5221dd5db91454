package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/okonev/vigil/internal/alert"
)

func newFileSink(t *testing.T) *Sink {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewValidation(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := New("   "); err == nil {
		t.Fatalf("expected error for blank path")
	}
}

func TestSendAndRecent(t *testing.T) {
	s := newFileSink(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		e := alert.Event{
			Service:    "grafana",
			Severity:   alert.SeverityWarning,
			Message:    fmt.Sprintf("event %d", i),
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.Send(ctx, e); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if err := s.Send(ctx, alert.Event{
		Service: "postgres", Severity: alert.SeverityInfo,
		Message: "other service", OccurredAt: base,
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, err := s.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 events, got %d", len(got))
	}
	// Newest first.
	if got[0].Message != "event 2" {
		t.Fatalf("expected newest first, got %q", got[0].Message)
	}

	got, err = s.Recent(ctx, "grafana", 10)
	if err != nil {
		t.Fatalf("Recent(grafana): %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 grafana events, got %d", len(got))
	}
	for _, e := range got {
		if e.Service != "grafana" {
			t.Fatalf("filter leaked event for %s", e.Service)
		}
	}

	got, err = s.Recent(ctx, "", 2)
	if err != nil {
		t.Fatalf("Recent(limit): %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("limit not applied, got %d", len(got))
	}
}

func TestRecentEmpty(t *testing.T) {
	s := newFileSink(t)
	got, err := s.Recent(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no events, got %d", len(got))
	}
}

func TestPurgeOlderThan(t *testing.T) {
	s := newFileSink(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		e := alert.Event{
			Service:    "svc",
			Severity:   alert.SeverityInfo,
			Message:    fmt.Sprintf("event %d", i),
			OccurredAt: base.AddDate(0, 0, i),
		}
		if err := s.Send(ctx, e); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	n, err := s.PurgeOlderThan(ctx, base.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("PurgeOlderThan: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 purged, got %d", n)
	}
	got, err := s.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 remaining, got %d", len(got))
	}
}
