package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

// EventArchiveStore is the part of the ledger store the archiver reads.
type EventArchiveStore interface {
	ListEventsBefore(ctx context.Context, before time.Time) ([]domain.EventRecord, error)
}

// multipartThreshold is the payload size above which uploads switch to the
// multipart manager.
const multipartThreshold = minPartSize

const jsonlContentType = "application/x-ndjson"

// ArchiveImpl implements domain.Archiver by reading old events from the
// ledger store, grouping them by the month they were committed in and
// uploading one JSONL object per month.
//
// Events are never deleted from the ledger: replay needs them. Re-running
// the archiver rewrites the monthly objects with the same content.
type ArchiveImpl struct {
	writer domain.BlobWriter
	events EventArchiveStore
	audit  domain.AuditStore
}

func NewArchiver(writer domain.BlobWriter, events EventArchiveStore, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		events: events,
		audit:  audit,
	}
}

// ArchiveEvents uploads every event committed before the cutoff to
// archive/events/YYYY-MM.jsonl and returns how many were written. Each
// uploaded object is recorded in the audit log.
func (a *ArchiveImpl) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.events.ListEventsBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]domain.EventRecord)
	for _, ev := range events {
		month := ev.Timestamp.UTC().Format("2006-01")
		byMonth[month] = append(byMonth[month], ev)
	}
	months := make([]string, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	sort.Strings(months)

	var total int64
	for _, month := range months {
		batch := byMonth[month]
		buf, err := marshalJSONL(batch)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive events marshal: %w", err)
		}

		path := archivePath("events", month)
		if len(buf) > int(multipartThreshold) {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
		}
		if err != nil {
			return total, fmt.Errorf("s3blob: archive events upload %s: %w", path, err)
		}

		count := int64(len(batch))
		total += count
		if err := a.audit.Log(ctx, "archive.events", map[string]any{
			"path":   path,
			"count":  count,
			"first":  batch[0].Seq,
			"last":   batch[len(batch)-1].Seq,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return total, fmt.Errorf("s3blob: archive events audit log: %w", err)
		}
	}
	return total, nil
}

// archivePath builds the object key for one month of records, e.g.
//
//	archive/events/2026-03.jsonl
func archivePath(kind, month string) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, month)
}

// marshalJSONL encodes each record as one JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i := range records {
		if err := enc.Encode(records[i]); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
