package store

import (
	"context"

	"github.com/shinobi-ops/warden/internal/guard"
)

// ArchiveSession implements guard.Archiver.
func (s *Store) ArchiveSession(ctx context.Context, sum guard.Summary) error {
	return s.ArchiveSessionRow(ctx, SessionRow{
		SessionID:  sum.SessionID,
		AgentType:  sum.AgentType,
		RecordIDs:  sum.RecordIDs,
		CreatedAt:  sum.CreatedAt,
		EndedAt:    sum.EndedAt,
		EndedBy:    string(sum.EndedBy),
		BlockCount: sum.BlockCount,
	})
}
