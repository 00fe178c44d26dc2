package duckdb

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/iotquery/iotquery/internal/datasource"
	"github.com/iotquery/iotquery/internal/storage"
)

type reading struct {
	DeviceID   string  `parquet:"device_id"`
	SensorType string  `parquet:"sensor_type"`
	Value      float64 `parquet:"value"`
}

func TestParquetObjectsAreQueryableAsViews(t *testing.T) {
	parquetBytes, err := buildParquet([]reading{
		{DeviceID: "d1", SensorType: "temperature", Value: 21.5},
		{DeviceID: "d2", SensorType: "temperature", Value: 35.0},
	})
	if err != nil {
		t.Fatalf("buildParquet() error = %v", err)
	}

	store := &memoryStore{objects: map[string][]byte{"archive/RepData/part-1.parquet": parquetBytes}}
	db := New(Config{
		Parquet: []ParquetSource{{Table: "RepData", ObjectKeys: []string{"archive/RepData/part-1.parquet"}}},
		Store:   store,
	})
	ctx := context.Background()
	if err := db.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.Query(ctx, "SELECT COUNT(*) AS c FROM RepData WHERE value > ?;", 30.0)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(rows) != 1 || rows[0]["c"] != int64(1) {
		t.Fatalf("rows = %+v", rows)
	}

	tables, err := db.Tables(ctx)
	if err != nil {
		t.Fatalf("Tables() error = %v", err)
	}
	if len(tables) != 1 || tables[0] != "RepData" {
		t.Fatalf("tables = %v", tables)
	}

	columns, err := db.TableSchema(ctx, "RepData")
	if err != nil {
		t.Fatalf("TableSchema() error = %v", err)
	}
	if len(columns) != 3 || columns[0].Name != "device_id" {
		t.Fatalf("columns = %+v", columns)
	}
}

func TestLocalParquetPaths(t *testing.T) {
	parquetBytes, err := buildParquet([]reading{{DeviceID: "d1", SensorType: "humidity", Value: 1}})
	if err != nil {
		t.Fatalf("buildParquet() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "readings.parquet")
	if err := os.WriteFile(path, parquetBytes, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	db := New(Config{Parquet: []ParquetSource{{Table: "readings", Paths: []string{path}}}})
	ctx := context.Background()
	if err := db.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.Query(ctx, "SELECT device_id FROM readings")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(rows) != 1 || rows[0]["device_id"] != "d1" {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestConnectFailsWithoutStoreForObjectKeys(t *testing.T) {
	db := New(Config{Parquet: []ParquetSource{{Table: "t", ObjectKeys: []string{"k"}}}})
	if err := db.Connect(context.Background()); err == nil {
		t.Fatal("expected error without object store")
	}
}

func TestQueryBeforeConnect(t *testing.T) {
	db := New(Config{})
	if _, err := db.Query(context.Background(), "SELECT 1"); !errors.Is(err, datasource.ErrNotConnected) {
		t.Fatalf("Query() error = %v", err)
	}
}

func buildParquet(rows []reading) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[reading](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type memoryStore struct {
	objects map[string][]byte
}

func (m *memoryStore) Put(context.Context, string, io.Reader, int64, storage.PutOptions) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	body, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (m *memoryStore) Stat(context.Context, string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, nil
}

func (m *memoryStore) Delete(context.Context, string) error {
	return nil
}
