package storage

import (
	"testing"
	"time"
)

func TestBuildHistoryExportPath(t *testing.T) {
	ts := time.Date(2026, time.February, 19, 23, 5, 0, 0, time.FixedZone("x", -5*3600))
	key, err := BuildHistoryExportPath("query_history", ts, "c0ffee")
	if err != nil {
		t.Fatalf("BuildHistoryExportPath() error = %v", err)
	}
	want := "query_history/date=2026-02-20/history-1771560300-c0ffee.parquet"
	if key != want {
		t.Fatalf("BuildHistoryExportPath() = %q, want %q", key, want)
	}
}

func TestBuildPathRejectsInvalidComponent(t *testing.T) {
	if _, err := BuildHistoryExportPath("../oops", time.Now(), "id"); err == nil {
		t.Fatal("expected invalid dataset error")
	}
	if _, err := BuildHistoryExportPath("query_history", time.Now(), "a/b"); err == nil {
		t.Fatal("expected invalid export id error")
	}
}
