package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

type object struct {
	path        string
	body        []byte
	contentType string
	multipart   bool
}

type fakeWriter struct {
	mu      sync.Mutex
	objects []object
	fail    error
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	return w.store(path, data, contentType, false)
}

func (w *fakeWriter) PutMultipart(_ context.Context, path string, data io.Reader, contentType string, _ int64) error {
	return w.store(path, data, contentType, true)
}

func (w *fakeWriter) store(path string, data io.Reader, contentType string, multipart bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects = append(w.objects, object{path: path, body: body, contentType: contentType, multipart: multipart})
	return nil
}

type auditLog struct {
	mu     sync.Mutex
	events []string
}

func (a *auditLog) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestArchiver_Flush(t *testing.T) {
	w := &fakeWriter{}
	audit := &auditLog{}
	a := NewArchiver(w, discard(), WithAudit(audit))
	a.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	path, err := a.Flush(t.Context())
	require.NoError(t, err)
	assert.Empty(t, path, "nothing pending")

	require.NoError(t, a.RecordTrade(t.Context(), domain.Trade{ID: "t-1", Success: true}))
	require.NoError(t, a.RecordTrade(t.Context(), domain.Trade{ID: "t-2"}))
	assert.Equal(t, 2, a.Pending())

	path, err = a.Flush(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "archive/trades/2026/03/01/1772366400000000000.jsonl", path)
	assert.Zero(t, a.Pending())

	require.Len(t, w.objects, 1)
	obj := w.objects[0]
	assert.Equal(t, jsonlContentType, obj.contentType)
	assert.False(t, obj.multipart)

	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(obj.body))
	for sc.Scan() {
		var tr domain.Trade
		require.NoError(t, json.Unmarshal(sc.Bytes(), &tr))
		ids = append(ids, tr.ID)
	}
	assert.Equal(t, []string{"t-1", "t-2"}, ids)
	assert.Equal(t, []string{"archive.trades"}, audit.events)
}

func TestArchiver_FlushFailureRequeues(t *testing.T) {
	w := &fakeWriter{fail: errors.New("bucket gone")}
	a := NewArchiver(w, discard())

	require.NoError(t, a.RecordTrade(t.Context(), domain.Trade{ID: "t-1"}))
	_, err := a.Flush(t.Context())
	require.Error(t, err)
	assert.Equal(t, 1, a.Pending())

	w.fail = nil
	require.NoError(t, a.RecordTrade(t.Context(), domain.Trade{ID: "t-2"}))
	_, err = a.Flush(t.Context())
	require.NoError(t, err)
	require.Len(t, w.objects, 1)
	assert.Equal(t, 2, bytes.Count(w.objects[0].body, []byte("\n")))
}

func TestArchiver_FlushesWhenFull(t *testing.T) {
	w := &fakeWriter{}
	a := NewArchiver(w, discard(), WithMaxBuffered(2))

	require.NoError(t, a.RecordTrade(t.Context(), domain.Trade{ID: "t-1"}))
	assert.Empty(t, w.objects)
	require.NoError(t, a.RecordTrade(t.Context(), domain.Trade{ID: "t-2"}))
	assert.Len(t, w.objects, 1)
	assert.Zero(t, a.Pending())
}

func TestArchiver_RunFinalFlush(t *testing.T) {
	w := &fakeWriter{}
	a := NewArchiver(w, discard())
	require.NoError(t, a.RecordTrade(t.Context(), domain.Trade{ID: "t-1"}))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.NoError(t, a.Run(ctx, time.Hour))
	assert.Len(t, w.objects, 1)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("localhost:9000", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
}
