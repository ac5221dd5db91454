package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/okonev/vigil/internal/alert"
)

// Sink appends alert events to a SQLite table (modernc.org/sqlite driver,
// CGO-free). Path is a filesystem path; use ":memory:" for in-memory.
type Sink struct {
	db *sql.DB
}

func New(path string) (*Sink, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	s := &Sink{db: d}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alert_events(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			occurred_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_alert_events_service ON alert_events(service);`,
		`CREATE INDEX IF NOT EXISTS idx_alert_events_occurred ON alert_events(occurred_at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Close() error { return s.db.Close() }

func (s *Sink) Send(ctx context.Context, e alert.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_events(service, severity, message, occurred_at)
		VALUES(?, ?, ?, ?);`,
		e.Service, string(e.Severity), e.Message, e.OccurredAt.UTC())
	return err
}

// Recent returns the newest events, optionally filtered by service name.
func (s *Sink) Recent(ctx context.Context, service string, limit int) ([]alert.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if service == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT service, severity, message, occurred_at
			FROM alert_events
			ORDER BY occurred_at DESC, id DESC
			LIMIT ?;`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT service, severity, message, occurred_at
			FROM alert_events
			WHERE service=?
			ORDER BY occurred_at DESC, id DESC
			LIMIT ?;`, service, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]alert.Event, 0)
	for rows.Next() {
		var e alert.Event
		var sev string
		var occ time.Time
		if err := rows.Scan(&e.Service, &sev, &e.Message, &occ); err != nil {
			return nil, err
		}
		e.Severity = alert.Severity(sev)
		e.OccurredAt = occ
		out = append(out, e)
	}
	return out, rows.Err()
}

// PurgeOlderThan deletes events recorded before the cutoff and returns the
// number removed.
func (s *Sink) PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alert_events WHERE occurred_at < ?;`, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
