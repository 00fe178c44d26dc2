package domain

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed mappings/*.yaml
var builtinFS embed.FS

// ErrConfiguration marks a missing or malformed domain mapping.
var ErrConfiguration = errors.New("invalid domain mapping")

const DefaultTimeLayout = "2006-01-02 15:04:05"

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var allowedOperators = map[string]struct{}{
	"=": {}, "!=": {}, ">": {}, "<": {}, "BETWEEN": {}, "LIKE": {},
}

// File is the on-disk shape of a mapping document.
type File struct {
	Name          string            `yaml:"name"`
	DefaultTable  string            `yaml:"default_table"`
	TimeLayout    *string           `yaml:"time_layout"`
	Tables        []TableSpec       `yaml:"tables"`
	BusinessTerms []BusinessTerm    `yaml:"business_terms"`
	Operators     map[string]string `yaml:"operators"`
	Fallback      []FallbackRule    `yaml:"fallback"`
}

// TableSpec is the closed per-table record consulted by intent extraction
// and SQL synthesis.
type TableSpec struct {
	Name          string              `yaml:"name"`
	Description   string              `yaml:"description"`
	Terms         []string            `yaml:"terms"`
	Patterns      []string            `yaml:"patterns"`
	Projection    []string            `yaml:"projection"`
	OrderBy       *OrderSpec          `yaml:"order_by"`
	NumericColumn string              `yaml:"numeric_column"`
	TimeColumn    string              `yaml:"time_column"`
	TimeJoin      *JoinSpec           `yaml:"time_join"`
	StatusColumn  string              `yaml:"status_column"`
	UnitColumn    string              `yaml:"unit_column"`
	Quality       QualitySpec         `yaml:"quality"`
	Conditions    []ConditionSpec     `yaml:"conditions"`
	Bounds        *BoundsSpec         `yaml:"bounds"`
	Columns       map[string][]string `yaml:"columns"`
}

type OrderSpec struct {
	Column     string `yaml:"column"`
	Descending bool   `yaml:"descending"`
}

// JoinSpec resolves a time window through a related table that owns the
// timestamp column.
type JoinSpec struct {
	Table      string `yaml:"table"`
	LocalKey   string `yaml:"local_key"`
	ForeignKey string `yaml:"foreign_key"`
	TimeColumn string `yaml:"time_column"`
}

// BoundsSpec keeps rows whose numeric column falls outside the
// [LowColumn, HighColumn] range of a related limits table. It applies only
// when one of its phrases appears.
type BoundsSpec struct {
	Phrases    []string `yaml:"phrases"`
	Table      string   `yaml:"table"`
	LocalKey   string   `yaml:"local_key"`
	ForeignKey string   `yaml:"foreign_key"`
	LowColumn  string   `yaml:"low_column"`
	HighColumn string   `yaml:"high_column"`
}

type FilterSpec struct {
	Column   string `yaml:"column"`
	Operator string `yaml:"operator"`
	Value    any    `yaml:"value"`
}

type QualitySpec struct {
	Good []FilterSpec `yaml:"good"`
	Bad  []FilterSpec `yaml:"bad"`
}

// ConditionSpec adds a fixed filter when any of its phrases appears.
type ConditionSpec struct {
	Phrases []string   `yaml:"phrases"`
	Filter  FilterSpec `yaml:"filter"`
}

type BusinessTerm struct {
	Term     string   `yaml:"term"`
	Synonyms []string `yaml:"synonyms"`
}

// FallbackRule is one rung of the table ladder used when no term scores.
// Refine switches to another table when one of its phrases also appears.
type FallbackRule struct {
	Phrases []string      `yaml:"phrases"`
	Table   string        `yaml:"table"`
	Refine  *FallbackRule `yaml:"refine"`
}

// Builtin loads one of the embedded mappings ("iot" or "process").
func Builtin(name string) (*Mapper, error) {
	raw, err := builtinFS.ReadFile("mappings/" + strings.ToLower(strings.TrimSpace(name)) + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("%w: unknown builtin mapping %q", ErrConfiguration, name)
	}
	return Parse(raw)
}

// BuiltinNames lists the embedded mappings.
func BuiltinNames() []string {
	return []string{"iot", "process"}
}

// Resolve accepts either a builtin name or a path to a mapping file.
func Resolve(source string) (*Mapper, error) {
	source = strings.TrimSpace(source)
	for _, name := range BuiltinNames() {
		if strings.EqualFold(source, name) {
			return Builtin(name)
		}
	}
	return Load(source)
}

func Load(path string) (*Mapper, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: mapping path is required", ErrConfiguration)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfiguration, path, err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Mapper, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: mapping document is empty", ErrConfiguration)
	}
	var file File
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: mapping document is empty", ErrConfiguration)
		}
		return nil, fmt.Errorf("%w: decode: %v", ErrConfiguration, err)
	}
	return New(file)
}

// New validates a decoded mapping and builds its lookup indexes.
func New(file File) (*Mapper, error) {
	if len(file.Tables) == 0 {
		return nil, fmt.Errorf("%w: at least one table is required", ErrConfiguration)
	}

	m := &Mapper{
		name:       strings.TrimSpace(file.Name),
		tables:     make([]TableSpec, 0, len(file.Tables)),
		byName:     make(map[string]int, len(file.Tables)),
		terms:      map[string]string{},
		patterns:   make([][]*regexp.Regexp, 0, len(file.Tables)),
		operators:  map[string]string{},
		timeLayout: DefaultTimeLayout,
	}
	if file.TimeLayout != nil {
		m.timeLayout = strings.TrimSpace(*file.TimeLayout)
	}

	for _, table := range file.Tables {
		if err := validateTable(table); err != nil {
			return nil, err
		}
		key := strings.ToLower(table.Name)
		if _, exists := m.byName[key]; exists {
			return nil, fmt.Errorf("%w: duplicate table %q", ErrConfiguration, table.Name)
		}
		compiled := make([]*regexp.Regexp, 0, len(table.Patterns))
		for _, pattern := range table.Patterns {
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				return nil, fmt.Errorf("%w: table %s pattern %q: %v", ErrConfiguration, table.Name, pattern, err)
			}
			compiled = append(compiled, re)
		}
		for i, term := range table.Terms {
			normalized := normalizeTerm(term)
			if normalized == "" {
				return nil, fmt.Errorf("%w: table %s has an empty term", ErrConfiguration, table.Name)
			}
			if owner, exists := m.terms[normalized]; exists && owner != table.Name {
				return nil, fmt.Errorf("%w: term %q maps to both %s and %s", ErrConfiguration, normalized, owner, table.Name)
			}
			m.terms[normalized] = table.Name
			table.Terms[i] = normalized
		}

		conditions := make([]*regexp.Regexp, 0, len(table.Conditions))
		for i, condition := range table.Conditions {
			matcher := phraseMatcher(condition.Phrases)
			if matcher == nil {
				return nil, fmt.Errorf("%w: table %s condition %d has no usable phrases", ErrConfiguration, table.Name, i)
			}
			conditions = append(conditions, matcher)
			table.Conditions[i].Filter.Operator = strings.ToUpper(condition.Filter.Operator)
		}
		var bounds *regexp.Regexp
		if table.Bounds != nil {
			bounds = phraseMatcher(table.Bounds.Phrases)
			if bounds == nil {
				return nil, fmt.Errorf("%w: table %s bounds have no usable phrases", ErrConfiguration, table.Name)
			}
		}
		for i := range table.Quality.Good {
			table.Quality.Good[i].Operator = strings.ToUpper(table.Quality.Good[i].Operator)
		}
		for i := range table.Quality.Bad {
			table.Quality.Bad[i].Operator = strings.ToUpper(table.Quality.Bad[i].Operator)
		}

		m.byName[key] = len(m.tables)
		m.tables = append(m.tables, table)
		m.patterns = append(m.patterns, compiled)
		m.conditions = append(m.conditions, conditions)
		m.bounds = append(m.bounds, bounds)
	}

	for _, business := range file.BusinessTerms {
		term := normalizeTerm(business.Term)
		if term == "" {
			return nil, fmt.Errorf("%w: business term is empty", ErrConfiguration)
		}
		synonyms := make([]string, 0, len(business.Synonyms))
		for _, synonym := range business.Synonyms {
			if s := normalizeTerm(synonym); s != "" {
				synonyms = append(synonyms, s)
			}
		}
		m.business = append(m.business, BusinessTerm{Term: term, Synonyms: synonyms})
	}

	for phrase, operator := range file.Operators {
		operator = strings.ToUpper(strings.TrimSpace(operator))
		if _, ok := allowedOperators[operator]; !ok {
			return nil, fmt.Errorf("%w: operator phrase %q maps to unsupported %q", ErrConfiguration, phrase, operator)
		}
		m.operators[normalizeTerm(phrase)] = operator
	}

	for _, rule := range file.Fallback {
		compiled, err := m.compileFallback(rule)
		if err != nil {
			return nil, err
		}
		m.fallback = append(m.fallback, compiled)
	}

	m.defaultTable = strings.TrimSpace(file.DefaultTable)
	if m.defaultTable == "" {
		m.defaultTable = m.tables[0].Name
	}
	if _, ok := m.Table(m.defaultTable); !ok {
		return nil, fmt.Errorf("%w: default table %q is not declared", ErrConfiguration, m.defaultTable)
	}
	return m, nil
}

func (m *Mapper) compileFallback(rule FallbackRule) (fallbackRule, error) {
	if _, ok := m.Table(rule.Table); !ok {
		return fallbackRule{}, fmt.Errorf("%w: fallback table %q is not declared", ErrConfiguration, rule.Table)
	}
	if len(rule.Phrases) == 0 {
		return fallbackRule{}, fmt.Errorf("%w: fallback rule for %s has no phrases", ErrConfiguration, rule.Table)
	}
	matcher := phraseMatcher(rule.Phrases)
	if matcher == nil {
		return fallbackRule{}, fmt.Errorf("%w: fallback rule for %s has no usable phrases", ErrConfiguration, rule.Table)
	}
	out := fallbackRule{table: rule.Table, matcher: matcher}
	if rule.Refine != nil {
		refined, err := m.compileFallback(*rule.Refine)
		if err != nil {
			return fallbackRule{}, err
		}
		out.refine = &refined
	}
	return out, nil
}

func validateTable(table TableSpec) error {
	if !identPattern.MatchString(table.Name) {
		return fmt.Errorf("%w: invalid table name %q", ErrConfiguration, table.Name)
	}
	columns := append([]string{}, table.Projection...)
	columns = append(columns, table.NumericColumn, table.TimeColumn, table.StatusColumn, table.UnitColumn)
	if table.OrderBy != nil {
		columns = append(columns, table.OrderBy.Column)
	}
	for _, column := range columns {
		if column != "" && !identPattern.MatchString(column) {
			return fmt.Errorf("%w: table %s has invalid column %q", ErrConfiguration, table.Name, column)
		}
	}
	if join := table.TimeJoin; join != nil {
		for _, ident := range []string{join.Table, join.LocalKey, join.ForeignKey, join.TimeColumn} {
			if !identPattern.MatchString(ident) {
				return fmt.Errorf("%w: table %s has invalid time join identifier %q", ErrConfiguration, table.Name, ident)
			}
		}
		if table.TimeColumn != "" {
			return fmt.Errorf("%w: table %s declares both time_column and time_join", ErrConfiguration, table.Name)
		}
	}
	if bounds := table.Bounds; bounds != nil {
		if table.NumericColumn == "" {
			return fmt.Errorf("%w: table %s declares bounds without a numeric_column", ErrConfiguration, table.Name)
		}
		for _, ident := range []string{bounds.Table, bounds.LocalKey, bounds.ForeignKey, bounds.LowColumn, bounds.HighColumn} {
			if !identPattern.MatchString(ident) {
				return fmt.Errorf("%w: table %s has invalid bounds identifier %q", ErrConfiguration, table.Name, ident)
			}
		}
	}
	filters := append([]FilterSpec{}, table.Quality.Good...)
	filters = append(filters, table.Quality.Bad...)
	for _, condition := range table.Conditions {
		if len(condition.Phrases) == 0 {
			return fmt.Errorf("%w: table %s has a condition without phrases", ErrConfiguration, table.Name)
		}
		filters = append(filters, condition.Filter)
	}
	for _, filter := range filters {
		if !identPattern.MatchString(filter.Column) {
			return fmt.Errorf("%w: table %s filter has invalid column %q", ErrConfiguration, table.Name, filter.Column)
		}
		if _, ok := allowedOperators[strings.ToUpper(filter.Operator)]; !ok || strings.EqualFold(filter.Operator, "BETWEEN") {
			return fmt.Errorf("%w: table %s filter has unsupported operator %q", ErrConfiguration, table.Name, filter.Operator)
		}
	}
	return nil
}

func normalizeTerm(term string) string {
	term = strings.ToLower(strings.TrimSpace(term))
	term = strings.ReplaceAll(term, "_", " ")
	return strings.Join(strings.Fields(term), " ")
}

// phraseMatcher matches any phrase at the start of a word so that
// "signal" also covers "signals" but "now" does not match "know".
func phraseMatcher(phrases []string) *regexp.Regexp {
	quoted := make([]string, 0, len(phrases))
	for _, phrase := range phrases {
		phrase = normalizeTerm(phrase)
		if phrase == "" {
			continue
		}
		quoted = append(quoted, strings.ReplaceAll(regexp.QuoteMeta(phrase), " ", `\s+`))
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)`)
}
