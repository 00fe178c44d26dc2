package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/iotquery/iotquery/internal/knowledge"
	"github.com/iotquery/iotquery/internal/storage"
)

var fixedNow = time.Date(2026, time.February, 19, 10, 0, 0, 0, time.UTC)

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	source := openKnowledge(t)
	for _, in := range []knowledge.RecordInput{
		{NaturalQuery: "count alerts", GeneratedSQL: "SELECT COUNT(*) FROM AlertLog", Success: true, ResultCount: 1, Provider: "rules", Confidence: 0.8},
		{NaturalQuery: "show devices", GeneratedSQL: "SELECT * FROM DevMap LIMIT ?", Params: []any{100}, Success: false, Provider: "openai", Error: "boom"},
	} {
		if _, err := source.Record(ctx, in); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	store := newMemoryStore()
	exporter, err := New(source, store, Options{Now: func() time.Time { return fixedNow }, NewID: func() string { return "run1" }})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	result, err := exporter.Export(ctx, time.Time{})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	wantKey := "query_history/date=2026-02-19/history-1771495200-run1.parquet"
	if result.Key != wantKey {
		t.Fatalf("Key = %q, want %q", result.Key, wantKey)
	}
	if result.RecordCount != 2 || result.SizeBytes == 0 {
		t.Fatalf("result = %+v", result)
	}
	if meta := store.metadata[wantKey]; meta["dataset"] != "query_history" || meta["record-count"] != "2" {
		t.Fatalf("metadata = %#v", meta)
	}
	if result.Location != "" {
		t.Fatalf("Location = %q, want empty for store without locator", result.Location)
	}

	target := openKnowledge(t)
	importer, err := New(target, store, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	imported, err := importer.Import(ctx, result.Key)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if imported.Read != 2 || imported.Inserted != 2 {
		t.Fatalf("Import() = %+v", imported)
	}

	records, err := target.History(ctx, time.Time{})
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("history rows = %d, want 2", len(records))
	}
	if records[1].ParamsJSON != "[100]" || records[1].Error != "boom" || records[1].Success {
		t.Fatalf("imported record = %+v", records[1])
	}

	again, err := importer.Import(ctx, result.Key)
	if err != nil {
		t.Fatalf("Import() second error = %v", err)
	}
	if again.Inserted != 0 {
		t.Fatalf("second Import() inserted = %d, want 0", again.Inserted)
	}
}

func TestExportWithoutHistory(t *testing.T) {
	exporter, err := New(openKnowledge(t), newMemoryStore(), Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := exporter.Export(context.Background(), time.Time{}); !errors.Is(err, ErrNothingToExport) {
		t.Fatalf("Export() error = %v, want ErrNothingToExport", err)
	}
}

func TestExportRemovesShortObject(t *testing.T) {
	ctx := context.Background()
	source := openKnowledge(t)
	if _, err := source.Record(ctx, knowledge.RecordInput{NaturalQuery: "count alerts", GeneratedSQL: "SELECT COUNT(*) FROM AlertLog", Success: true}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	store := newMemoryStore()
	store.truncate = true
	exporter, err := New(source, store, Options{NewID: func() string { return "short" }})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := exporter.Export(ctx, time.Time{}); err == nil {
		t.Fatal("expected verification error")
	}
	if len(store.objects) != 0 {
		t.Fatalf("objects left after failed export = %d", len(store.objects))
	}
}

func TestImportMissingObject(t *testing.T) {
	importer, err := New(openKnowledge(t), newMemoryStore(), Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := importer.Import(context.Background(), "query_history/missing.parquet"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Import() error = %v, want ErrObjectNotFound", err)
	}
}

func TestDecodeHistoryRejectsGarbage(t *testing.T) {
	if _, err := DecodeHistory([]byte("not parquet")); err == nil {
		t.Fatal("expected decode error")
	}
}

func openKnowledge(t *testing.T) *knowledge.Store {
	t.Helper()
	store, err := knowledge.Open(context.Background(), filepath.Join(t.TempDir(), "knowledge.db"), knowledge.Options{})
	if err != nil {
		t.Fatalf("knowledge.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type memoryStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	metadata map[string]map[string]string
	truncate bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}, metadata: map[string]map[string]string{}}
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	if m.truncate {
		data = data[:len(data)/2]
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.metadata[key] = opts.Metadata
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}
