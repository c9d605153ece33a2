package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/simplifi-protocol/simplifi-core/internal/domain"
)

// ClosedPositionStore provides read access to settled positions for archival.
// The Postgres PositionStore satisfies it.
type ClosedPositionStore interface {
	ListClosed(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error)
}

// AuditLogStore provides read access to the audit log for archival.
type AuditLogStore interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// ArchiveImpl implements domain.Archiver by querying settled protocol history,
// serializing it to JSONL, and uploading the result to S3.
//
// Deletion of archived rows from the primary store is intentionally NOT
// performed here; that is a separate, explicit step to be executed after the
// archive has been verified.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	positions ClosedPositionStore
	audit     AuditLogStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, positions ClosedPositionStore, audit AuditLogStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		positions: positions,
		audit:     audit,
	}
}

// Archive exports all positions settled at or before until and all audit
// entries up to the same cutoff. It returns the total number of records
// uploaded.
func (a *ArchiveImpl) Archive(ctx context.Context, until time.Time) (int, error) {
	total := 0

	positions, err := a.positions.ListClosed(ctx, domain.ListOpts{Until: &until})
	if err != nil {
		return 0, fmt.Errorf("s3blob: query closed positions: %w", err)
	}
	if len(positions) > 0 {
		records := make([]any, len(positions))
		for i, p := range positions {
			records[i] = p
		}
		if err := a.uploadJSONL(ctx, archiveKey("positions", until), records); err != nil {
			return total, err
		}
		total += len(positions)
	}

	entries, err := a.audit.List(ctx, domain.ListOpts{Until: &until})
	if err != nil {
		return total, fmt.Errorf("s3blob: query audit log: %w", err)
	}
	if len(entries) > 0 {
		records := make([]any, len(entries))
		for i, e := range entries {
			records[i] = e
		}
		if err := a.uploadJSONL(ctx, archiveKey("audit", until), records); err != nil {
			return total, err
		}
		total += len(entries)
	}

	return total, nil
}

// uploadJSONL serializes records one-JSON-object-per-line and uploads the
// result.
func (a *ArchiveImpl) uploadJSONL(ctx context.Context, key string, records []any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("s3blob: encode archive record: %w", err)
		}
	}
	if err := a.writer.Put(ctx, key, &buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: upload archive %s: %w", key, err)
	}
	return nil
}

// archiveKey builds the object key for an archive batch, partitioned by
// dataset and cutoff date.
func archiveKey(dataset string, until time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", dataset, until.UTC().Format("2006-01-02"))
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
