package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

var wordPattern = regexp.MustCompile(`[a-z0-9_]+`)

var exampleStopWords = map[string]struct{}{
	"show": {}, "me": {}, "get": {}, "find": {}, "what": {}, "which": {}, "where": {},
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {},
}

const maxExampleKeywords = 5

// SimilarExamples returns up to limit successful past queries sharing at
// least one keyword with text, best confidence first. With no overlap it
// returns the most recent successes. Store errors are logged and yield an
// empty result.
func (s *Store) SimilarExamples(ctx context.Context, text string, limit int) []Example {
	if limit <= 0 {
		limit = DefaultExamplesLimit
	}

	keywords := exampleKeywords(text)
	if len(keywords) > 0 {
		matches, err := s.keywordExamples(ctx, keywords, limit)
		if err != nil {
			s.logger.WarnContext(ctx, "similar examples lookup failed", slog.Any("error", err))
			return nil
		}
		if len(matches) > 0 {
			return matches
		}
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT natural_query, generated_sql, confidence, provider, created_at
FROM query_history
WHERE success = 1
ORDER BY created_at DESC, id DESC
LIMIT ?`, limit)
	if err != nil {
		s.logger.WarnContext(ctx, "recent examples lookup failed", slog.Any("error", err))
		return nil
	}
	recent, err := scanExamples(rows)
	if err != nil {
		s.logger.WarnContext(ctx, "recent examples scan failed", slog.Any("error", err))
		return nil
	}
	return recent
}

// keywordExamples walks LIKE candidates best first and keeps those that
// share a whole word with keywords. The LIKE clause is only a substring
// prefilter, so rows are read until limit whole-word matches are found.
func (s *Store) keywordExamples(ctx context.Context, keywords []string, limit int) ([]Example, error) {
	clauses := make([]string, 0, len(keywords))
	args := make([]any, 0, len(keywords))
	for _, keyword := range keywords {
		clauses = append(clauses, "LOWER(natural_query) LIKE ?")
		args = append(args, "%"+keyword+"%")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT natural_query, generated_sql, confidence, provider, created_at
FROM query_history
WHERE success = 1 AND (`+strings.Join(clauses, " OR ")+`)
ORDER BY confidence DESC, created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query examples: %w", err)
	}
	defer func() { _ = rows.Close() }()

	wanted := make(map[string]struct{}, len(keywords))
	for _, keyword := range keywords {
		wanted[keyword] = struct{}{}
	}
	out := make([]Example, 0, limit)
	for len(out) < limit && rows.Next() {
		example, err := scanExample(rows)
		if err != nil {
			return nil, err
		}
		if sharesWord(example.NaturalQuery, wanted) {
			out = append(out, example)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func exampleKeywords(text string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, word := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if len(word) < 2 {
			continue
		}
		if _, stop := exampleStopWords[word]; stop {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		out = append(out, word)
		if len(out) == maxExampleKeywords {
			break
		}
	}
	return out
}

func sharesWord(text string, wanted map[string]struct{}) bool {
	for _, word := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if _, ok := wanted[word]; ok {
			return true
		}
	}
	return false
}
