package domain

import (
	"context"
	"io"
	"time"
)

// CursorStore persists named poller cursors outside the process so that
// restarts and concurrent pollers resume from the same position.
type CursorStore interface {
	Load(ctx context.Context, name string) (Timestamp, error)
	Save(ctx context.Context, name string, ts Timestamp) error
}

// DispatchRecord is the audit entry written for every relayed transaction.
type DispatchRecord struct {
	TxHash    string
	Game      string
	Action    string
	Caller    string
	Relayer   string
	Nonce     uint64
	Attempt   int
	CreatedAt time.Time
}

// AuditStore records dispatched metatransactions.
type AuditStore interface {
	LogDispatch(ctx context.Context, rec DispatchRecord) error
	Log(ctx context.Context, event string, detail map[string]any) error
}

// BlobWriter stores archived transfer batches in object storage. Large
// batches go through PutMultipart.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}
