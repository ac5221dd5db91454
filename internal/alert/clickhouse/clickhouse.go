package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/okonev/vigil/internal/alert"
)

// Sink sends alert events to ClickHouse using the official Go client.
// Intended for fleets where alert history is analyzed centrally. The target
// table is expected to exist with columns
// (occurred_at, service, severity, message).
type Sink struct {
	conn  driver.Conn
	table string
}

func New(addr, table string) (*Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &Sink{conn: conn, table: table}, nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e alert.Event) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (occurred_at, service, severity, message) VALUES (?, ?, ?, ?)`, s.table)

	if err := s.conn.Exec(ctx, query,
		e.OccurredAt,
		e.Service,
		string(e.Severity),
		e.Message,
	); err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}
