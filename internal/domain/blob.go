package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver moves aged settlement records out of the primary store into cold
// storage. Implementations upload only; deleting archived rows from the
// primary store is a separate, explicit step taken after the archive has been
// verified.
type Archiver interface {
	ArchiveTrades(ctx context.Context, before time.Time) (int64, error)
	ArchiveAuditLog(ctx context.Context, before time.Time) (int64, error)
	// ArchiveSnapshot uploads a graduated agent's holder snapshot. The upload
	// is idempotent; re-archiving overwrites the same object.
	ArchiveSnapshot(ctx context.Context, agentID string) (int64, error)
}
