package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/curvelabs/launchpad/internal/domain"
)

// Narrow store interfaces required by the archiver. The archiver only needs
// the time-ranged query methods it actually calls; the Postgres stores
// satisfy these implicitly.

// TradeArchiveStore provides read access to trades for archival purposes.
type TradeArchiveStore interface {
	// ListBefore returns all trades executed strictly before the cutoff.
	ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
}

// AuditArchiveStore provides read access to audit entries for archival
// purposes.
type AuditArchiveStore interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AgentArchiveStore resolves an agent's current snapshot reference.
type AgentArchiveStore interface {
	GetByID(ctx context.Context, id string) (domain.Agent, error)
}

// SnapshotArchiveStore provides read access to graduation snapshots.
type SnapshotArchiveStore interface {
	GetSnapshot(ctx context.Context, id string) (domain.Snapshot, error)
	ListEntries(ctx context.Context, snapshotID string, from, limit int) ([]domain.SnapshotEntry, error)
}

// ArchiveImpl implements domain.Archiver by querying the domain stores for
// old records, serializing them to JSONL, and uploading the result to S3.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here; that is a separate, explicit step to be executed after
// the archive has been verified.
type ArchiveImpl struct {
	writer domain.BlobWriter
	trades TradeArchiveStore
	audit  AuditArchiveStore
	agents AgentArchiveStore
	snaps  SnapshotArchiveStore
	log    domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	trades TradeArchiveStore,
	audit AuditArchiveStore,
	agents AgentArchiveStore,
	snaps SnapshotArchiveStore,
	log domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		trades: trades,
		audit:  audit,
		agents: agents,
		snaps:  snaps,
		log:    log,
	}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// ArchiveTrades queries all trades before the cutoff, serializes them to
// JSONL, and uploads the file to S3 at archive/trades/YYYY-MM.jsonl. The
// archival event is recorded in the audit log and the count of archived
// records is returned.
func (a *ArchiveImpl) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	count := int64(len(trades))

	if err := a.log.Log(ctx, "archive.trades", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive trades audit log: %w", err)
	}

	return count, nil
}

// ArchiveAuditLog queries all audit entries before the cutoff, serializes
// them to JSONL, and uploads the file to S3 at archive/audit/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	count := int64(len(entries))

	if err := a.log.Log(ctx, "archive.audit", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log: %w", err)
	}

	return count, nil
}

// snapshotPageSize bounds each entry query while paging a snapshot out.
const snapshotPageSize = 1000

// ArchiveSnapshot uploads the agent's holder snapshot as JSONL to
// archive/snapshots/<agent-id>.jsonl. The first line is the snapshot header,
// followed by one line per holder entry in position order. Returns the number
// of entries archived.
func (a *ArchiveImpl) ArchiveSnapshot(ctx context.Context, agentID string) (int64, error) {
	agent, err := a.agents.GetByID(ctx, agentID)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshot agent %s: %w", agentID, err)
	}
	if agent.SnapshotID == "" {
		return 0, fmt.Errorf("s3blob: archive snapshot: agent %s has no snapshot: %w", agentID, domain.ErrNotFound)
	}

	snap, err := a.snaps.GetSnapshot(ctx, agent.SnapshotID)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshot %s: %w", agent.SnapshotID, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(snap); err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshot header: %w", err)
	}

	var count int64
	for from := 0; ; from += snapshotPageSize {
		entries, err := a.snaps.ListEntries(ctx, snap.ID, from, snapshotPageSize)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive snapshot entries from %d: %w", from, err)
		}
		for i, e := range entries {
			if err := enc.Encode(e); err != nil {
				return 0, fmt.Errorf("s3blob: archive snapshot entry %d: %w", from+i, err)
			}
		}
		count += int64(len(entries))
		if len(entries) < snapshotPageSize {
			break
		}
	}

	path := fmt.Sprintf("archive/snapshots/%s.jsonl", agentID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf.Bytes()), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshot upload: %w", err)
	}

	if err := a.log.Log(ctx, "archive.snapshot", map[string]any{
		"path":     path,
		"agent_id": agentID,
		"entries":  count,
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive snapshot audit log: %w", err)
	}

	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/trades/2025-01.jsonl
//	archive/audit/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
