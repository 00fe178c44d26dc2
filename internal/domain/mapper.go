package domain

import (
	"regexp"
	"sort"
	"strings"
)

// patternWeight is added per table-pattern match. It dominates the
// substring score, which is bounded by term length.
const patternWeight = 10

// Mapper is an immutable term/table/synonym dictionary built from a mapping
// file. Reloading means building a new Mapper.
type Mapper struct {
	name         string
	tables       []TableSpec
	byName       map[string]int
	terms        map[string]string
	patterns     [][]*regexp.Regexp
	conditions   [][]*regexp.Regexp
	bounds       []*regexp.Regexp
	business     []BusinessTerm
	operators    map[string]string
	fallback     []fallbackRule
	defaultTable string
	timeLayout   string
}

type fallbackRule struct {
	table   string
	matcher *regexp.Regexp
	refine  *fallbackRule
}

func (m *Mapper) Name() string {
	return m.name
}

// Tables returns the table specs in declaration order.
func (m *Mapper) Tables() []TableSpec {
	out := make([]TableSpec, len(m.tables))
	copy(out, m.tables)
	return out
}

func (m *Mapper) Table(name string) (TableSpec, bool) {
	index, ok := m.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return TableSpec{}, false
	}
	return m.tables[index], true
}

func (m *Mapper) DefaultTable() string {
	return m.defaultTable
}

// TimeLayout is the layout used to bind time parameters. An empty layout
// means times are bound as time.Time.
func (m *Mapper) TimeLayout() string {
	return m.timeLayout
}

// TableFor returns the canonical table for a domain term.
func (m *Mapper) TableFor(term string) (string, bool) {
	table, ok := m.terms[normalizeTerm(term)]
	return table, ok
}

// ReverseLookup returns every term that maps to table, sorted.
func (m *Mapper) ReverseLookup(table string) []string {
	var out []string
	for term, owner := range m.terms {
		if strings.EqualFold(owner, table) {
			out = append(out, term)
		}
	}
	sort.Strings(out)
	return out
}

// ExpandSynonyms returns [term]+synonyms for a business term, the owning
// term and its synonyms for a known synonym, or [term] otherwise. When a
// synonym belongs to several terms the first declared owner wins.
func (m *Mapper) ExpandSynonyms(term string) []string {
	normalized := normalizeTerm(term)
	for _, business := range m.business {
		if business.Term == normalized {
			return append([]string{business.Term}, business.Synonyms...)
		}
	}
	for _, business := range m.business {
		for _, synonym := range business.Synonyms {
			if synonym == normalized {
				return append([]string{business.Term}, business.Synonyms...)
			}
		}
	}
	return []string{term}
}

// OperatorFor maps an operator phrase to SQL, defaulting to "=".
func (m *Mapper) OperatorFor(phrase string) string {
	if operator, ok := m.operators[normalizeTerm(phrase)]; ok {
		return operator
	}
	return "="
}

// ColumnAliases returns the domain names declared for a column, or the
// column itself when none are declared.
func (m *Mapper) ColumnAliases(table, column string) []string {
	spec, ok := m.Table(table)
	if !ok {
		return []string{column}
	}
	aliases, ok := spec.Columns[column]
	if !ok || len(aliases) == 0 {
		return []string{column}
	}
	return append([]string(nil), aliases...)
}

// SuggestTables scores every table against text and returns at most two
// table names by descending score. Each term found as a substring adds its
// length; each table pattern match adds patternWeight. Ties keep the
// declaration order of the mapping file.
func (m *Mapper) SuggestTables(text string) []string {
	lower := strings.Join(strings.Fields(strings.ToLower(strings.ReplaceAll(text, "_", " "))), " ")
	if lower == "" {
		return nil
	}

	type scored struct {
		index int
		score int
	}
	var scores []scored
	for i, table := range m.tables {
		score := 0
		for _, term := range table.Terms {
			if strings.Contains(lower, term) {
				score += len(term)
			}
		}
		for _, pattern := range m.patterns[i] {
			if pattern.MatchString(lower) {
				score += patternWeight
			}
		}
		if score > 0 {
			scores = append(scores, scored{index: i, score: score})
		}
	}

	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if len(scores) > 2 {
		scores = scores[:2]
	}
	out := make([]string, 0, len(scores))
	for _, s := range scores {
		out = append(out, m.tables[s.index].Name)
	}
	return out
}

// FallbackTable walks the ordered ladder and returns the first matching
// rung's table, or the default table.
func (m *Mapper) FallbackTable(text string) string {
	for _, rule := range m.fallback {
		if !rule.matcher.MatchString(text) {
			continue
		}
		if rule.refine != nil && rule.refine.matcher.MatchString(text) {
			return rule.refine.table
		}
		return rule.table
	}
	return m.defaultTable
}

// Conditions returns the fixed filters of table whose phrases occur in text,
// in declaration order.
func (m *Mapper) Conditions(table, text string) []FilterSpec {
	index, ok := m.byName[strings.ToLower(strings.TrimSpace(table))]
	if !ok {
		return nil
	}
	var out []FilterSpec
	for i, matcher := range m.conditions[index] {
		if matcher.MatchString(text) {
			out = append(out, m.tables[index].Conditions[i].Filter)
		}
	}
	return out
}

// BoundsFor returns the out-of-range check of table when one of its phrases
// occurs in text.
func (m *Mapper) BoundsFor(table, text string) (BoundsSpec, bool) {
	index, ok := m.byName[strings.ToLower(strings.TrimSpace(table))]
	if !ok || m.bounds[index] == nil {
		return BoundsSpec{}, false
	}
	if !m.bounds[index].MatchString(text) {
		return BoundsSpec{}, false
	}
	return *m.tables[index].Bounds, true
}
