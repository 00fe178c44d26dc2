package knowledge

import (
	"context"
	"fmt"
	"time"
)

type ProviderStats struct {
	Queries     int     `json:"queries"`
	SuccessRate float64 `json:"success_rate"`
}

type Stats struct {
	DaysBack           int                      `json:"days_back"`
	TotalQueries       int                      `json:"total_queries"`
	SuccessfulQueries  int                      `json:"successful_queries"`
	SuccessRate        float64                  `json:"success_rate"`
	AvgExecutionTimeMs float64                  `json:"avg_execution_time_ms"`
	ProvidersUsed      int                      `json:"providers_used"`
	Providers          map[string]ProviderStats `json:"provider_stats"`
}

// SuccessStats summarizes the queries recorded in the last daysBack days.
func (s *Store) SuccessStats(ctx context.Context, daysBack int) (Stats, error) {
	if daysBack <= 0 {
		daysBack = 7
	}
	since := s.timestamp(s.now().Add(-time.Duration(daysBack) * 24 * time.Hour))
	stats := Stats{DaysBack: daysBack, Providers: map[string]ProviderStats{}}

	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(success), 0), COALESCE(AVG(execution_time_ms), 0)
FROM query_history
WHERE created_at >= ?`, since).Scan(&stats.TotalQueries, &stats.SuccessfulQueries, &stats.AvgExecutionTimeMs)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	if stats.TotalQueries > 0 {
		stats.SuccessRate = float64(stats.SuccessfulQueries) / float64(stats.TotalQueries)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT provider, COUNT(*), COALESCE(SUM(success), 0)
FROM query_history
WHERE created_at >= ? AND provider <> ''
GROUP BY provider
ORDER BY provider`, since)
	if err != nil {
		return Stats{}, fmt.Errorf("query provider stats: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			provider   string
			queries    int
			successful int
		)
		if err := rows.Scan(&provider, &queries, &successful); err != nil {
			return Stats{}, fmt.Errorf("scan provider stats: %w", err)
		}
		entry := ProviderStats{Queries: queries}
		if queries > 0 {
			entry.SuccessRate = float64(successful) / float64(queries)
		}
		stats.Providers[provider] = entry
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("rows error: %w", err)
	}
	stats.ProvidersUsed = len(stats.Providers)
	return stats, nil
}
