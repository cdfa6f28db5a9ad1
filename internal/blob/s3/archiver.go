package s3blob

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/alanyoungcy/puzzlr/internal/domain"
)

// ExistenceChecker reports whether an object is already stored.
type ExistenceChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// transferHeader is the CSV header of archived transfer batches.
var transferHeader = []string{"id", "from", "to", "token_id", "type", "timestamp"}

// TransferArchiver uploads each poller batch as a CSV object keyed by the
// batch's last cursor, so a replayed batch maps to the same object.
type TransferArchiver struct {
	writer domain.BlobWriter
	exists ExistenceChecker
	audit  domain.AuditStore
	now    func() time.Time
}

// NewTransferArchiver creates a TransferArchiver. exists and audit may be
// nil.
func NewTransferArchiver(writer domain.BlobWriter, exists ExistenceChecker, audit domain.AuditStore) *TransferArchiver {
	return &TransferArchiver{writer: writer, exists: exists, audit: audit, now: time.Now}
}

// Archive writes transfers to transfers/<date>/<cursor>.csv and returns the
// object path. An empty batch is not archived.
func (a *TransferArchiver) Archive(ctx context.Context, cursor domain.Timestamp, transfers []domain.Transfer) (string, error) {
	if len(transfers) == 0 {
		return "", nil
	}
	path := ArchivePath(a.now(), cursor)

	if a.exists != nil {
		ok, err := a.exists.Exists(ctx, path)
		if err != nil {
			return "", err
		}
		if ok {
			return path, nil
		}
	}

	body, err := encodeTransfers(transfers)
	if err != nil {
		return "", fmt.Errorf("s3blob: encode transfers: %w", err)
	}
	if int64(len(body)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(body), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(body), "text/csv")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive transfers: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.transfers", map[string]any{
			"path":   path,
			"count":  len(transfers),
			"cursor": string(cursor),
		}); err != nil {
			return path, fmt.Errorf("s3blob: archive transfers audit log: %w", err)
		}
	}
	return path, nil
}

// ArchivePath is the object key for a batch ending at cursor.
//
//	transfers/2026-10-16/00000000000000012345-00000000000000000003.csv
func ArchivePath(at time.Time, cursor domain.Timestamp) string {
	return fmt.Sprintf("transfers/%s/%s.csv", at.UTC().Format("2006-01-02"), cursor)
}

func encodeTransfers(transfers []domain.Transfer) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(transferHeader); err != nil {
		return nil, err
	}
	for _, t := range transfers {
		if err := w.Write([]string{t.ID, t.From, t.To, t.TokenID, t.Type, string(t.Timestamp)}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
