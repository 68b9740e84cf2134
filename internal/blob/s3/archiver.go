package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// ObjectWriter is the upload side of Writer.
type ObjectWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// Archiver buffers completed trades and uploads them as one JSONL object
// per flush at archive/trades/YYYY/MM/DD/<unix-nanos>.jsonl. It is
// attached to the execution engine as a recorder.
type Archiver struct {
	writer ObjectWriter
	audit  domain.AuditStore
	logger *slog.Logger
	now    func() time.Time

	// maxBuffered triggers an early flush.
	maxBuffered int

	mu      sync.Mutex
	pending []domain.Trade
}

// ArchiverOption configures an Archiver.
type ArchiverOption func(*Archiver)

// WithAudit records every upload in the audit log.
func WithAudit(a domain.AuditStore) ArchiverOption {
	return func(ar *Archiver) { ar.audit = a }
}

// WithMaxBuffered flushes once n trades are pending.
func WithMaxBuffered(n int) ArchiverOption {
	return func(ar *Archiver) { ar.maxBuffered = n }
}

// NewArchiver creates an Archiver uploading through w.
func NewArchiver(w ObjectWriter, logger *slog.Logger, opts ...ArchiverOption) *Archiver {
	a := &Archiver{
		writer:      w,
		logger:      logger.With(slog.String("component", "archiver")),
		now:         time.Now,
		maxBuffered: 500,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name identifies the archiver as a trade recorder.
func (a *Archiver) Name() string { return "s3" }

// RecordTrade buffers t and flushes when the buffer is full.
func (a *Archiver) RecordTrade(ctx context.Context, t domain.Trade) error {
	a.mu.Lock()
	a.pending = append(a.pending, t)
	full := a.maxBuffered > 0 && len(a.pending) >= a.maxBuffered
	a.mu.Unlock()

	if full {
		_, err := a.Flush(ctx)
		return err
	}
	return nil
}

// Pending returns the number of buffered trades.
func (a *Archiver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Flush uploads all buffered trades and returns the object key, or "" when
// nothing was pending. On upload failure the trades are put back.
func (a *Archiver) Flush(ctx context.Context) (string, error) {
	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return "", nil
	}

	buf, err := marshalJSONL(batch)
	if err != nil {
		a.requeue(batch)
		return "", fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	at := a.now().UTC()
	path := archivePath(at)
	if int64(len(buf)) >= minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), jsonlContentType, minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		a.requeue(batch)
		return "", fmt.Errorf("s3blob: archive upload: %w", err)
	}

	a.logger.InfoContext(ctx, "archiver: uploaded trades",
		slog.String("path", path),
		slog.Int("count", len(batch)),
	)
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.trades", map[string]any{
			"path":  path,
			"count": len(batch),
		}); err != nil {
			a.logger.WarnContext(ctx, "archiver: audit log failed", slog.String("error", err.Error()))
		}
	}
	return path, nil
}

// Run flushes every interval until ctx is cancelled, then makes a final
// flush with a detached context.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			if _, err := a.Flush(fctx); err != nil {
				a.logger.Error("archiver: final flush failed", slog.String("error", err.Error()))
			}
			return nil
		case <-ticker.C:
			if _, err := a.Flush(ctx); err != nil {
				a.logger.WarnContext(ctx, "archiver: flush failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (a *Archiver) requeue(batch []domain.Trade) {
	a.mu.Lock()
	a.pending = append(batch, a.pending...)
	a.mu.Unlock()
}

// archivePath partitions objects by UTC day:
//
//	archive/trades/2026/03/01/1772366400000000000.jsonl
func archivePath(at time.Time) string {
	return fmt.Sprintf("archive/trades/%s/%d.jsonl", at.Format("2006/01/02"), at.UnixNano())
}

// marshalJSONL encodes records as newline-delimited JSON.
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
