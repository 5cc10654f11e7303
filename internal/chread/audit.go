// Package chread provides read access to the ClickHouse audit_events table
// for operator review.
package chread

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse audit_events table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// EventRow represents a single row from the audit_events table.
type EventRow struct {
	EventID      string
	SessionID    string
	AgentType    string
	ToolName     string
	RecordID     string
	Reason       string
	Detail       string
	Timestamp    time.Time
	OperatorInit uint8
}

// ListEventsParams holds filters and pagination for audit listing.
type ListEventsParams struct {
	SessionID *string
	AgentType *string
	Reason    *string
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	PageSize  int
}

// ListEvents returns matching audit rows (newest first) and the total count.
func (r *Reader) ListEvents(ctx context.Context, p ListEventsParams) ([]*EventRow, int, error) {
	where, args := buildFilters(p)

	countQuery := "SELECT count() FROM audit_events" + where
	var total uint64
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListEvents count: %w", err)
	}

	offset := (p.Page - 1) * p.PageSize
	query := `
		SELECT event_id, session_id, agent_type, tool_name, record_id,
		       reason, detail, timestamp, operator_init
		FROM audit_events` + where + `
		ORDER BY timestamp DESC
		LIMIT ` + fmt.Sprintf("%d OFFSET %d", p.PageSize, offset)

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListEvents query: %w", err)
	}
	defer rows.Close()

	var events []*EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(&e.EventID, &e.SessionID, &e.AgentType, &e.ToolName,
			&e.RecordID, &e.Reason, &e.Detail, &e.Timestamp, &e.OperatorInit); err != nil {
			return nil, 0, fmt.Errorf("ListEvents scan: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ListEvents rows: %w", err)
	}

	return events, int(total), nil
}

func buildFilters(p ListEventsParams) (string, []any) {
	var clauses []string
	var args []any

	if p.SessionID != nil {
		clauses = append(clauses, "session_id = ?")
		args = append(args, *p.SessionID)
	}
	if p.AgentType != nil {
		clauses = append(clauses, "agent_type = ?")
		args = append(args, *p.AgentType)
	}
	if p.Reason != nil {
		clauses = append(clauses, "reason = ?")
		args = append(args, *p.Reason)
	}
	if p.StartTime != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, *p.StartTime)
	}
	if p.EndTime != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, *p.EndTime)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
