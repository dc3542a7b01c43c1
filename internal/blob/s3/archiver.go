package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/tradeideas/internal/domain"
)

const (
	contentTypeJSONL = "application/x-ndjson"
	// ArchivePrefix is the key prefix of every ledger archive object.
	ArchivePrefix = "ledger/"
	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 16 * 1024 * 1024
)

// LedgerArchiver copies closed transactions (SELL rows and fully sold BUYs)
// to object storage as JSONL. Rows stay in the primary store; pruning them
// is a separate step once the archive has been checked.
type LedgerArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	txs    domain.TransactionStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewLedgerArchiver creates a LedgerArchiver. audit may be nil.
func NewLedgerArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	txs domain.TransactionStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *LedgerArchiver {
	return &LedgerArchiver{
		writer: writer,
		reader: reader,
		txs:    txs,
		audit:  audit,
		logger: logger,
	}
}

// ArchiveClosed uploads every closed transaction last updated before the
// cutoff to ledger/YYYY/MM/closed-YYYY-MM-DD.jsonl, keyed by the cutoff
// date, so re-running for the same cutoff overwrites the same object. It
// returns the number of rows written.
func (a *LedgerArchiver) ArchiveClosed(ctx context.Context, before time.Time) (int64, error) {
	before = before.UTC()
	rows, err := a.txs.List(ctx, domain.TransactionFilter{
		ClosedOnly:    true,
		UpdatedBefore: &before,
	})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive closed query: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive closed marshal: %w", err)
	}

	path := archivePath(before)
	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive closed upload: %w", err)
	}

	count := int64(len(rows))
	a.logger.InfoContext(ctx, "s3blob: ledger archived",
		slog.String("path", path),
		slog.Int64("rows", count),
	)
	if a.audit != nil {
		if err := a.audit.Log(ctx, domain.EventLedgerArchived, map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			a.logger.WarnContext(ctx, "s3blob: archive audit log failed",
				slog.String("error", err.Error()),
			)
		}
	}
	return count, nil
}

// Archives lists the archive objects already written.
func (a *LedgerArchiver) Archives(ctx context.Context) ([]domain.BlobInfo, error) {
	infos, err := a.reader.List(ctx, ArchivePrefix)
	if err != nil {
		return nil, fmt.Errorf("s3blob: list archives: %w", err)
	}
	return infos, nil
}

// Open streams one archive object. Paths outside the archive prefix are
// rejected.
func (a *LedgerArchiver) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if !strings.HasPrefix(path, ArchivePrefix) || strings.Contains(path, "..") {
		return nil, fmt.Errorf("s3blob: open %q: %w", path, domain.Invalidf("not an archive path"))
	}
	return a.reader.Get(ctx, path)
}

// archivePath partitions archives by the cutoff's year and month:
//
//	ledger/2026/03/closed-2026-03-01.jsonl
func archivePath(before time.Time) string {
	return fmt.Sprintf("%s%s/closed-%s.jsonl", ArchivePrefix, before.Format("2006/01"), before.Format("2006-01-02"))
}

// marshalJSONL writes one compact JSON document per line.
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

// Compile-time interface check.
var _ domain.Archiver = (*LedgerArchiver)(nil)
