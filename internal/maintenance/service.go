// Package maintenance runs background upkeep for the knowledge store:
// incremental parquet exports of query history and verification of the
// exported objects.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/iotquery/iotquery/internal/archive"
	"github.com/iotquery/iotquery/internal/storage"
)

type Exporter interface {
	Export(ctx context.Context, since time.Time) (archive.ExportResult, error)
}

type Config struct {
	ArchiveInterval time.Duration
	// Schedule, when set, replaces the fixed interval.
	Schedule cron.Schedule
	// Since is the first export's lower bound; zero exports all history.
	Since time.Time
}

type Service struct {
	Archive     Exporter
	ObjectStore storage.ObjectStore
	Config      Config
	Logger      *slog.Logger
	Clock       func() time.Time

	mu        sync.Mutex
	watermark time.Time
	started   bool
}

type ArchiveSummary struct {
	Since       time.Time `json:"since"`
	Key         string    `json:"key,omitempty"`
	RecordCount int       `json:"record_count"`
	SizeBytes   int64     `json:"size_bytes"`
	Skipped     bool      `json:"skipped"`
	Verified    bool      `json:"verified"`
}

// ParseSchedule parses a five-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parse archive schedule %q: %w", expr, err)
	}
	return schedule, nil
}

// Run exports new history on the configured cadence until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()

	for {
		timer := time.NewTimer(s.nextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		summary, err := s.RunArchiveOnce(ctx)
		if s.Logger == nil {
			continue
		}
		if err != nil {
			s.Logger.ErrorContext(ctx, "archive cycle failed", slog.Any("error", err), slog.Any("summary", summary))
			continue
		}
		s.Logger.InfoContext(ctx, "archive cycle completed", slog.Any("summary", summary))
	}
}

// nextDelay is the wait before the next cycle.
func (s *Service) nextDelay() time.Duration {
	if s.Config.Schedule == nil {
		return s.Config.ArchiveInterval
	}
	now := s.Clock()
	next := s.Config.Schedule.Next(now)
	if next.IsZero() {
		return s.Config.ArchiveInterval
	}
	if delay := next.Sub(now); delay > 0 {
		return delay
	}
	return 0
}

// RunArchiveOnce exports history created since the previous successful
// cycle. The watermark only advances when the export succeeds or finds
// nothing, so a failed cycle is retried with the same window.
func (s *Service) RunArchiveOnce(ctx context.Context) (ArchiveSummary, error) {
	s.ensureDefaults()
	if s.Archive == nil {
		return ArchiveSummary{}, fmt.Errorf("archive is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.watermark = s.Config.Since
		s.started = true
	}

	cycleStart := s.Clock().UTC()
	summary := ArchiveSummary{Since: s.watermark}
	result, err := s.Archive.Export(ctx, s.watermark)
	if err != nil {
		if errors.Is(err, archive.ErrNothingToExport) {
			summary.Skipped = true
			s.watermark = cycleStart
			archiveRunsTotal.WithLabelValues("skipped").Inc()
			return summary, nil
		}
		archiveRunsTotal.WithLabelValues("failed").Inc()
		return summary, fmt.Errorf("export history: %w", err)
	}
	summary.Key = result.Key
	summary.RecordCount = result.RecordCount
	summary.SizeBytes = result.SizeBytes
	s.watermark = cycleStart
	archivedRecordsTotal.Add(float64(result.RecordCount))

	if err := s.verify(ctx, result); err != nil {
		archiveRunsTotal.WithLabelValues("unverified").Inc()
		return summary, err
	}
	summary.Verified = s.ObjectStore != nil
	archiveRunsTotal.WithLabelValues("completed").Inc()
	return summary, nil
}

// verify checks that the exported object exists with the written size.
func (s *Service) verify(ctx context.Context, result archive.ExportResult) error {
	if s.ObjectStore == nil {
		return nil
	}
	info, err := s.ObjectStore.Stat(ctx, result.Key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return fmt.Errorf("exported object %s is missing", result.Key)
		}
		return fmt.Errorf("stat exported object %s: %w", result.Key, err)
	}
	if info.Size != result.SizeBytes {
		return fmt.Errorf("size mismatch for %s (expected=%d actual=%d)", result.Key, result.SizeBytes, info.Size)
	}
	return nil
}

func (s *Service) ensureDefaults() {
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.Config.ArchiveInterval <= 0 {
		s.Config.ArchiveInterval = time.Hour
	}
}
