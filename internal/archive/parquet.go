package archive

import (
	"bytes"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/iotquery/iotquery/internal/knowledge"
)

type historyRow struct {
	NaturalQuery    string  `parquet:"natural_query"`
	GeneratedSQL    string  `parquet:"generated_sql"`
	ParamsJSON      string  `parquet:"params_json"`
	Success         bool    `parquet:"success"`
	LatencyMs       float64 `parquet:"execution_time_ms"`
	ResultCount     int64   `parquet:"result_count"`
	Provider        string  `parquet:"provider"`
	Model           string  `parquet:"model"`
	Source          string  `parquet:"source"`
	Confidence      float64 `parquet:"confidence"`
	ErrorMessage    string  `parquet:"error_message"`
	QueryHash       string  `parquet:"query_hash"`
	CreatedAtUnixMs int64   `parquet:"created_at_unix_ms"`
}

// EncodeHistory writes records as a single parquet file.
func EncodeHistory(records []knowledge.QueryRecord) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("records are required")
	}
	rows := make([]historyRow, 0, len(records))
	for _, record := range records {
		rows = append(rows, historyRow{
			NaturalQuery:    record.NaturalQuery,
			GeneratedSQL:    record.GeneratedSQL,
			ParamsJSON:      record.ParamsJSON,
			Success:         record.Success,
			LatencyMs:       record.LatencyMs,
			ResultCount:     int64(record.ResultCount),
			Provider:        record.Provider,
			Model:           record.Model,
			Source:          record.Source,
			Confidence:      record.Confidence,
			ErrorMessage:    record.Error,
			QueryHash:       record.QueryHash,
			CreatedAtUnixMs: record.CreatedAt.UnixMilli(),
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[historyRow](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeHistory reads records written by EncodeHistory.
func DecodeHistory(data []byte) ([]knowledge.QueryRecord, error) {
	rows, err := parquet.Read[historyRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read parquet rows: %w", err)
	}

	out := make([]knowledge.QueryRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, knowledge.QueryRecord{
			NaturalQuery: row.NaturalQuery,
			GeneratedSQL: row.GeneratedSQL,
			ParamsJSON:   row.ParamsJSON,
			Success:      row.Success,
			LatencyMs:    row.LatencyMs,
			ResultCount:  int(row.ResultCount),
			Provider:     row.Provider,
			Model:        row.Model,
			Source:       row.Source,
			Confidence:   row.Confidence,
			Error:        row.ErrorMessage,
			QueryHash:    row.QueryHash,
			CreatedAt:    time.UnixMilli(row.CreatedAtUnixMs).UTC(),
		})
	}
	return out, nil
}
