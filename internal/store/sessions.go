package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// SessionRow represents a row in the session_archive table. One row is
// written when a session ends, whatever ended it; the archive is the durable
// complement to the guard's in-memory retention window.
type SessionRow struct {
	SessionID  string
	AgentType  string
	RecordIDs  []string
	CreatedAt  time.Time
	EndedAt    time.Time
	EndedBy    string
	BlockCount int64
}

// ArchiveSessionRow inserts a session summary. Inserting the same session_id
// twice is a conflict no-op. EndSession is idempotent upstream, but the
// archive should not fail if a duplicate slips through.
func (s *Store) ArchiveSessionRow(ctx context.Context, row SessionRow) error {
	recordIDs, err := json.Marshal(row.RecordIDs)
	if err != nil {
		return fmt.Errorf("ArchiveSessionRow: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_archive (
			session_id, agent_type, record_ids, created_at, ended_at, ended_by, block_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO NOTHING`,
		row.SessionID, row.AgentType, recordIDs,
		row.CreatedAt, row.EndedAt, row.EndedBy, row.BlockCount,
	)
	if err != nil {
		return fmt.Errorf("ArchiveSessionRow: %w", err)
	}
	return nil
}

// ListArchivedSessions returns the most recent archived sessions, newest
// first, up to limit.
func (s *Store) ListArchivedSessions(ctx context.Context, limit int) ([]*SessionRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, agent_type, record_ids, created_at, ended_at, ended_by, block_count
		FROM session_archive ORDER BY ended_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("ListArchivedSessions: %w", err)
	}
	defer rows.Close()

	var out []*SessionRow
	for rows.Next() {
		var row SessionRow
		var recordIDs json.RawMessage
		if err := rows.Scan(&row.SessionID, &row.AgentType, &recordIDs,
			&row.CreatedAt, &row.EndedAt, &row.EndedBy, &row.BlockCount); err != nil {
			return nil, fmt.Errorf("ListArchivedSessions: %w", err)
		}
		if err := json.Unmarshal(recordIDs, &row.RecordIDs); err != nil {
			return nil, fmt.Errorf("ListArchivedSessions: %w", err)
		}
		out = append(out, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListArchivedSessions: %w", err)
	}
	return out, nil
}
