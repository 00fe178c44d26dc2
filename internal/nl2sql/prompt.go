package nl2sql

import (
	"fmt"
	"regexp"
	"strings"
)

// maxPromptExamples bounds how many of the supplied examples reach the
// prompt; the most recent ones are kept.
const maxPromptExamples = 3

const systemPrompt = "You are an expert SQL developer for IoT and process-data databases. " +
	"Convert natural language questions into a single read-only SQL query. " +
	"Return ONLY SQL. No markdown, no explanation."

func buildUserPrompt(req Request) string {
	dialect := strings.TrimSpace(req.Dialect)
	if dialect == "" {
		dialect = "SQLite"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Target dialect: %s\n\n", dialect)
	b.WriteString("DATABASE SCHEMA:\n")
	b.WriteString(strings.TrimSpace(req.SchemaContext))
	b.WriteString("\n\n")

	examples := req.Examples
	if len(examples) > maxPromptExamples {
		examples = examples[len(examples)-maxPromptExamples:]
	}
	if len(examples) > 0 {
		b.WriteString("Successful query examples:\n\n")
		for _, example := range examples {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n\n", strings.TrimSpace(example.NaturalQuery), strings.TrimSpace(example.SQL))
		}
	}

	b.WriteString("Rules:\n")
	b.WriteString("- Use only the listed tables and columns.\n")
	b.WriteString("- Use table aliases for readability.\n")
	b.WriteString("- Add LIMIT 100 to row-returning queries unless the question asks otherwise.\n")
	b.WriteString("- Order time-series rows by their timestamp, newest first.\n")
	b.WriteString("- Output a single SQL query only.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\nSQL:", strings.TrimSpace(req.Question))
	return b.String()
}

var fencedSQLPattern = regexp.MustCompile("(?s)```(?:sql|SQL)?\\s*(.*?)```")

// stripMarkdownSQL extracts the first fenced block when the model wrapped
// its answer in markdown, and trims whitespace otherwise.
func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if match := fencedSQLPattern.FindStringSubmatch(trimmed); match != nil {
		return strings.TrimSpace(match[1])
	}
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
