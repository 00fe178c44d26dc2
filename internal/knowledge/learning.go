package knowledge

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

const (
	PatternTimeFilter  = "time_filter"
	PatternAggregation = "aggregation"
)

const (
	vocabularySimilarity = 0.7
	initialConfidence    = 0.6
	confidenceGrowth     = 0.1
	confidenceDecay      = 0.05
)

var (
	termPattern         = regexp.MustCompile(`\b[a-zA-Z]{3,}\b`)
	sqlTablePattern     = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+(\w+)`)
	nlTimePattern       = regexp.MustCompile(`(?i)\b(?:(?:last|past|previous|this)\s+(?:\d+\s+)?(?:hours?|days?|weeks?|months?)|today|yesterday)\b`)
	sqlTimePattern      = regexp.MustCompile(`(?is)\bWHERE\b.*(?:time|date|start|end)\w*\s*(?:BETWEEN\b|>=|<=|>|<)`)
	nlAggregatePattern  = regexp.MustCompile(`(?i)\b(?:count|how\s+many|number\s+of|average|avg|mean|sum|total|maximum|max|highest|minimum|min|lowest)\b`)
	sqlAggregatePattern = regexp.MustCompile(`(?i)\b(?:COUNT|SUM|AVG|MAX|MIN)\s*\(`)
)

var termStopWords = map[string]struct{}{
	"show": {}, "get": {}, "find": {}, "list": {}, "what": {}, "which": {}, "where": {},
}

// VocabularyEntry maps a natural-language term to a table.
type VocabularyEntry struct {
	Term        string  `json:"term"`
	SQLMapping  string  `json:"sql_mapping"`
	MappingType string  `json:"mapping_type"`
	UsageCount  int     `json:"usage_count"`
	Confidence  float64 `json:"confidence"`
}

type Pattern struct {
	PatternType string  `json:"pattern_type"`
	ExampleNL   string  `json:"example_nl"`
	ExampleSQL  string  `json:"example_sql"`
	UsageCount  int     `json:"usage_count"`
	SuccessRate float64 `json:"success_rate"`
}

func (s *Store) learn(ctx context.Context, nl, generatedSQL string, success bool) error {
	if err := s.learnVocabulary(ctx, nl, generatedSQL, success); err != nil {
		return err
	}
	return s.learnPatterns(ctx, nl, generatedSQL, success)
}

// learnVocabulary strengthens term/table pairs whose names are similar after
// a success and weakens existing pairs after a failure. Confidence stays in
// [0, 1].
func (s *Store) learnVocabulary(ctx context.Context, nl, generatedSQL string, success bool) error {
	pairs := vocabularyPairs(nl, generatedSQL)
	if len(pairs) == 0 {
		return nil
	}
	now := s.timestamp(s.now())
	for _, pair := range pairs {
		var err error
		if success {
			_, err = s.db.ExecContext(ctx, `
INSERT INTO domain_vocabulary (term, sql_mapping, mapping_type, usage_count, confidence, created_at, updated_at)
VALUES (?, ?, 'table', 1, ?, ?, ?)
ON CONFLICT (term, sql_mapping) DO UPDATE SET
	usage_count = usage_count + 1,
	confidence = MIN(1.0, confidence + ?),
	updated_at = excluded.updated_at`,
				pair.term, pair.table, initialConfidence, now, now, confidenceGrowth)
		} else {
			_, err = s.db.ExecContext(ctx, `
UPDATE domain_vocabulary
SET confidence = MAX(0.0, confidence - ?), updated_at = ?
WHERE term = ? AND sql_mapping = ?`,
				confidenceDecay, now, pair.term, pair.table)
		}
		if err != nil {
			return fmt.Errorf("learn vocabulary %s->%s: %w", pair.term, pair.table, err)
		}
	}
	return nil
}

type termPair struct {
	term  string
	table string
}

func vocabularyPairs(nl, generatedSQL string) []termPair {
	var tables []string
	seenTables := map[string]struct{}{}
	for _, match := range sqlTablePattern.FindAllStringSubmatch(generatedSQL, -1) {
		if _, ok := seenTables[match[1]]; ok {
			continue
		}
		seenTables[match[1]] = struct{}{}
		tables = append(tables, match[1])
	}
	if len(tables) == 0 {
		return nil
	}

	var out []termPair
	seenTerms := map[string]struct{}{}
	for _, raw := range termPattern.FindAllString(nl, -1) {
		term := strings.ToLower(raw)
		if _, stop := termStopWords[term]; stop {
			continue
		}
		if _, dup := seenTerms[term]; dup {
			continue
		}
		seenTerms[term] = struct{}{}
		for _, table := range tables {
			if Similarity(term, strings.ToLower(table)) > vocabularySimilarity {
				out = append(out, termPair{term: term, table: table})
			}
		}
	}
	return out
}

// learnPatterns records time-filter and aggregation shapes. Successes
// insert or reinforce a pattern; failures only lower the success rate of a
// pattern that already exists.
func (s *Store) learnPatterns(ctx context.Context, nl, generatedSQL string, success bool) error {
	var kinds []string
	if nlTimePattern.MatchString(nl) && sqlTimePattern.MatchString(generatedSQL) {
		kinds = append(kinds, PatternTimeFilter)
	}
	if nlAggregatePattern.MatchString(nl) && sqlAggregatePattern.MatchString(generatedSQL) {
		kinds = append(kinds, PatternAggregation)
	}
	now := s.timestamp(s.now())
	for _, kind := range kinds {
		var err error
		if success {
			_, err = s.db.ExecContext(ctx, `
INSERT INTO query_patterns (pattern_type, example_nl, example_sql, usage_count, success_rate, created_at, updated_at)
VALUES (?, ?, ?, 1, 1.0, ?, ?)
ON CONFLICT (pattern_type, example_nl) DO UPDATE SET
	example_sql = excluded.example_sql,
	usage_count = usage_count + 1,
	success_rate = (success_rate * usage_count + 1.0) / (usage_count + 1),
	updated_at = excluded.updated_at`,
				kind, nl, generatedSQL, now, now)
		} else {
			_, err = s.db.ExecContext(ctx, `
UPDATE query_patterns
SET usage_count = usage_count + 1,
	success_rate = (success_rate * usage_count) / (usage_count + 1),
	updated_at = ?
WHERE pattern_type = ? AND example_nl = ?`,
				now, kind, nl)
		}
		if err != nil {
			return fmt.Errorf("learn %s pattern: %w", kind, err)
		}
	}
	return nil
}

// Vocabulary returns learned mappings with confidence above minConfidence,
// strongest first.
func (s *Store) Vocabulary(ctx context.Context, minConfidence float64) ([]VocabularyEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT term, sql_mapping, mapping_type, usage_count, confidence
FROM domain_vocabulary
WHERE confidence > ?
ORDER BY confidence DESC, usage_count DESC, term ASC`, minConfidence)
	if err != nil {
		return nil, fmt.Errorf("query vocabulary: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []VocabularyEntry
	for rows.Next() {
		var entry VocabularyEntry
		if err := rows.Scan(&entry.Term, &entry.SQLMapping, &entry.MappingType, &entry.UsageCount, &entry.Confidence); err != nil {
			return nil, fmt.Errorf("scan vocabulary: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// Patterns lists learned patterns of one type, or of every type when
// patternType is empty.
func (s *Store) Patterns(ctx context.Context, patternType string, limit int) ([]Pattern, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT pattern_type, example_nl, example_sql, usage_count, success_rate
FROM query_patterns
WHERE ? = '' OR pattern_type = ?
ORDER BY success_rate DESC, usage_count DESC, id ASC
LIMIT ?`, patternType, patternType, limit)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Pattern
	for rows.Next() {
		var pattern Pattern
		if err := rows.Scan(&pattern.PatternType, &pattern.ExampleNL, &pattern.ExampleSQL, &pattern.UsageCount, &pattern.SuccessRate); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		out = append(out, pattern)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// Similarity is the indel-normalized ratio 2*LCS/(len(a)+len(b)), which
// equals (|a|+|b|-d)/(|a|+|b|) for indel distance d. Two empty strings are
// identical.
func Similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			switch {
			case ra[i-1] == rb[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return float64(2*prev[len(rb)]) / float64(total)
}
