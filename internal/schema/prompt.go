package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/iotquery/iotquery/internal/knowledge"
)

const (
	promptSampleRows      = 2
	promptVocabularyLimit = 20
)

// PromptContext renders the analysis as plain text for a generator prompt.
// Learned vocabulary is appended as advisory hints; failing to read it is
// not an error.
func (a *Analyzer) PromptContext(ctx context.Context) (string, error) {
	analysis, err := a.Analyze(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, table := range analysis.Tables {
		writeTable(&b, table)
	}

	if len(analysis.Relationships) > 0 {
		b.WriteString("Relationships:\n")
		for _, rel := range analysis.Relationships {
			fmt.Fprintf(&b, "  - %s.%s -> %s.%s (confidence %.2f)\n",
				rel.ChildTable, rel.ChildColumn, rel.ParentTable, rel.ParentColumn, rel.Confidence)
		}
		b.WriteString("\n")
	}

	if distribution := timeDistribution(analysis.Tables); distribution != "" {
		b.WriteString("Time distribution (most recent days):\n")
		b.WriteString(distribution)
		b.WriteString("\n")
	}

	if a.knowledge != nil {
		vocabulary, err := a.knowledge.Vocabulary(ctx, knowledge.MinVocabularyConfidence)
		if err != nil {
			a.logger.WarnContext(ctx, "load vocabulary failed", slog.Any("error", err))
		}
		if len(vocabulary) > promptVocabularyLimit {
			vocabulary = vocabulary[:promptVocabularyLimit]
		}
		if len(vocabulary) > 0 {
			b.WriteString("Learned vocabulary (advisory hints, may be wrong):\n")
			for _, entry := range vocabulary {
				fmt.Fprintf(&b, "  - %q -> %s (confidence %.2f)\n", entry.Term, entry.SQLMapping, entry.Confidence)
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func writeTable(b *strings.Builder, table TableInsight) {
	fmt.Fprintf(b, "Table: %s\n", table.Name)
	domainNames := "None"
	if len(table.DomainNames) > 0 {
		domainNames = strings.Join(table.DomainNames, ", ")
	}
	fmt.Fprintf(b, "Domain Names: %s\n", domainNames)
	fmt.Fprintf(b, "Row Count: %d\n", table.RowCount)
	b.WriteString("Columns:\n")
	for _, column := range table.Columns {
		marker := ""
		if column.PrimaryKey {
			marker = " (PRIMARY KEY)"
		}
		fmt.Fprintf(b, "  - %s (%s)%s\n", column.Name, column.Type, marker)
	}
	samples := table.Samples
	if len(samples) > promptSampleRows {
		samples = samples[:promptSampleRows]
	}
	if len(samples) > 0 {
		b.WriteString("Sample Data:\n")
		for i, row := range samples {
			encoded, err := json.Marshal(row)
			if err != nil {
				encoded = []byte(fmt.Sprint(row))
			}
			fmt.Fprintf(b, "  Row %d: %s\n", i+1, encoded)
		}
	}
	b.WriteString("\n")
}

func timeDistribution(tables []TableInsight) string {
	var b strings.Builder
	for _, table := range tables {
		for _, column := range sortedKeys(table.Histograms) {
			days := table.Histograms[column]
			if len(days) == 0 {
				continue
			}
			parts := make([]string, 0, len(days))
			for _, day := range days {
				parts = append(parts, fmt.Sprintf("%s=%d", day.Day, day.Count))
			}
			fmt.Fprintf(&b, "  %s.%s: %s\n", table.Name, column, strings.Join(parts, ", "))
		}
	}
	return b.String()
}
