// Package archive moves query history between the knowledge store and an
// object store as parquet files.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iotquery/iotquery/internal/knowledge"
	"github.com/iotquery/iotquery/internal/storage"
)

const (
	DefaultDataset = "query_history"
	contentType    = "application/vnd.apache.parquet"

	// maxImportBytes bounds how much of an export Import loads into memory.
	maxImportBytes = 256 << 20
)

// ErrNothingToExport is returned when no history matches the export window.
var ErrNothingToExport = errors.New("no query history to export")

// History is the part of the knowledge store the archiver needs.
type History interface {
	History(ctx context.Context, since time.Time) ([]knowledge.QueryRecord, error)
	Import(ctx context.Context, records []knowledge.QueryRecord) (int, error)
}

type Options struct {
	Dataset string
	Logger  *slog.Logger
	Now     func() time.Time
	NewID   func() string
}

type Archiver struct {
	history History
	store   storage.ObjectStore
	dataset string
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

type ExportResult struct {
	Key         string    `json:"key"`
	Location    string    `json:"location,omitempty"`
	RecordCount int       `json:"record_count"`
	SizeBytes   int64     `json:"size_bytes"`
	ExportedAt  time.Time `json:"exported_at"`
}

type ImportResult struct {
	Key      string `json:"key"`
	Read     int    `json:"read"`
	Inserted int    `json:"inserted"`
}

func New(history History, store storage.ObjectStore, opts Options) (*Archiver, error) {
	if history == nil {
		return nil, fmt.Errorf("history is required")
	}
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	a := &Archiver{
		history: history,
		store:   store,
		dataset: strings.TrimSpace(opts.Dataset),
		logger:  opts.Logger,
		now:     opts.Now,
		newID:   opts.NewID,
	}
	if a.dataset == "" {
		a.dataset = DefaultDataset
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if a.now == nil {
		a.now = func() time.Time { return time.Now().UTC() }
	}
	if a.newID == nil {
		a.newID = uuid.NewString
	}
	return a, nil
}

// Export writes every history row created at or after since to a new
// object. The upload is verified with Stat; a short object is removed.
func (a *Archiver) Export(ctx context.Context, since time.Time) (ExportResult, error) {
	records, err := a.history.History(ctx, since)
	if err != nil {
		return ExportResult{}, err
	}
	if len(records) == 0 {
		return ExportResult{}, ErrNothingToExport
	}
	data, err := EncodeHistory(records)
	if err != nil {
		return ExportResult{}, err
	}

	exportedAt := a.now()
	key, err := storage.BuildHistoryExportPath(a.dataset, exportedAt, a.newID())
	if err != nil {
		return ExportResult{}, err
	}
	if _, err := a.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"dataset":      a.dataset,
			"record-count": strconv.Itoa(len(records)),
			"since":        since.UTC().Format(time.RFC3339),
		},
	}); err != nil {
		return ExportResult{}, err
	}
	info, err := a.store.Stat(ctx, key)
	if err != nil {
		return ExportResult{}, fmt.Errorf("verify export %q: %w", key, err)
	}
	if info.Size != int64(len(data)) {
		if err := a.store.Delete(ctx, key); err != nil {
			a.logger.WarnContext(ctx, "remove incomplete export failed", slog.String("key", key), slog.Any("error", err))
		}
		return ExportResult{}, fmt.Errorf("verify export %q: size %d, want %d", key, info.Size, len(data))
	}

	result := ExportResult{
		Key:         key,
		RecordCount: len(records),
		SizeBytes:   int64(len(data)),
		ExportedAt:  exportedAt,
	}
	if locator, ok := a.store.(storage.Locator); ok {
		result.Location = locator.Location(key)
	}
	a.logger.InfoContext(ctx, "query history exported",
		slog.String("key", key),
		slog.Int("records", result.RecordCount),
		slog.Int64("size_bytes", result.SizeBytes),
	)
	return result, nil
}

// Import loads an exported object and inserts rows not already present.
func (a *Archiver) Import(ctx context.Context, key string) (ImportResult, error) {
	data, err := storage.ReadObject(ctx, a.store, key, maxImportBytes)
	if err != nil {
		return ImportResult{}, err
	}
	records, err := DecodeHistory(data)
	if err != nil {
		return ImportResult{}, fmt.Errorf("decode export %q: %w", key, err)
	}
	inserted, err := a.history.Import(ctx, records)
	if err != nil {
		return ImportResult{}, err
	}
	a.logger.InfoContext(ctx, "query history imported",
		slog.String("key", key),
		slog.Int("read", len(records)),
		slog.Int("inserted", inserted),
	)
	return ImportResult{Key: key, Read: len(records), Inserted: inserted}, nil
}
