// Package intent extracts a structured query intent (action, target tables,
// filters, time window, limit) from a natural-language question.
package intent

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/iotquery/iotquery/internal/domain"
	"github.com/iotquery/iotquery/internal/timeparse"
)

type Action string

const (
	ActionSelect Action = "SELECT"
	ActionCount  Action = "COUNT"
	ActionAvg    Action = "AVG"
	ActionMax    Action = "MAX"
	ActionMin    Action = "MIN"
	ActionSum    Action = "SUM"
)

type Order string

const (
	OrderNone Order = ""
	OrderAsc  Order = "ASC"
	OrderDesc Order = "DESC"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Filter is one WHERE predicate. High is only set for BETWEEN.
type Filter struct {
	Column   string `json:"column"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
	High     any    `json:"high,omitempty"`
}

type Intent struct {
	Text      string             `json:"text"`
	Cleaned   string             `json:"cleaned"`
	Action    Action             `json:"action"`
	Aggregate Action             `json:"aggregate,omitempty"`
	Tables    []string           `json:"tables"`
	Filters   []Filter           `json:"filters,omitempty"`
	Bounds    *domain.BoundsSpec `json:"bounds,omitempty"`
	Window    *timeparse.Window  `json:"window,omitempty"`
	Limit     int                `json:"limit"`
	Order     Order              `json:"order,omitempty"`
}

// PrimaryTable is the first target table, or "" when none was resolved.
func (i Intent) PrimaryTable() string {
	if len(i.Tables) == 0 {
		return ""
	}
	return i.Tables[0]
}

func (i Intent) Aggregated() bool {
	return i.Aggregate != ""
}

type keywordGroup struct {
	action  Action
	pattern *regexp.Regexp
}

var actionGroups = []keywordGroup{
	{ActionSelect, regexp.MustCompile(`(?i)\b(?:show|list|display|get|find|what|which)\b`)},
	{ActionCount, regexp.MustCompile(`(?i)\b(?:count|how\s+many|number\s+of)\b`)},
	{ActionAvg, regexp.MustCompile(`(?i)\b(?:average|avg|mean)\b`)},
	{ActionMax, regexp.MustCompile(`(?i)\b(?:maximum|max|highest|peak)\b`)},
	{ActionMin, regexp.MustCompile(`(?i)\b(?:minimum|min|lowest)\b`)},
	{ActionSum, regexp.MustCompile(`(?i)\b(?:sum|total)\b`)},
}

var (
	onlinePattern      = regexp.MustCompile(`(?i)\b(?:online|active|running)\b`)
	offlinePattern     = regexp.MustCompile(`(?i)\b(?:offline|inactive|down)\b`)
	goodQualityPattern = regexp.MustCompile(`(?i)\b(?:good\s+quality|valid)\b`)
	badQualityPattern  = regexp.MustCompile(`(?i)\b(?:bad\s+quality|poor\s+quality|invalid)\b`)
	limitPattern       = regexp.MustCompile(`(?i)\b(?:top|limit|first)\s+(\d+)\b`)
	descPattern        = regexp.MustCompile(`(?i)\b(?:latest|newest|most\s+recent)\b`)
	ascPattern         = regexp.MustCompile(`(?i)\b(?:oldest|earliest)\b`)
	betweenPattern     = regexp.MustCompile(`(?i)\bbetween\s+(-?\d+(?:\.\d+)?)\s+and\s+(-?\d+(?:\.\d+)?)`)
)

const number = `(-?\d+(?:\.\d+)?)`

var comparisonPatterns = []struct {
	operator string
	pattern  *regexp.Regexp
}{
	{">", regexp.MustCompile(`(?i)(?:\b(?:above|over|greater\s+than|higher\s+than|exceeds)\s+|>\s*)` + number)},
	{"<", regexp.MustCompile(`(?i)(?:\b(?:below|under|less\s+than|lower\s+than)\s+|<\s*)` + number)},
	{"=", regexp.MustCompile(`(?i)(?:\b(?:equal\s+to|equals)\s+|=\s*)` + number)},
}

var unitPatterns = []struct {
	unit    string
	pattern *regexp.Regexp
}{
	{"°C", regexp.MustCompile(`(?i)\b(?:degrees|celsius)\b|°c`)},
	{"°F", regexp.MustCompile(`(?i)\bfahrenheit\b|°f`)},
	{"bar", regexp.MustCompile(`(?i)\b(?:bar|psi|pascal)\b`)},
	{"L/min", regexp.MustCompile(`(?i)\b(?:lpm|liters?|l/min)\b`)},
	{"W", regexp.MustCompile(`(?i)\b(?:watts?|kw|w)\b`)},
	{"%", regexp.MustCompile(`(?i)\b(?:percent|rh)\b|%`)},
}

// Extractor turns text into an Intent using a domain mapping and a time
// parser. It is stateless apart from its configuration.
type Extractor struct {
	Mapper       *domain.Mapper
	Parser       *timeparse.Parser
	DefaultLimit int
	MaxLimit     int
}

func NewExtractor(mapper *domain.Mapper, parser *timeparse.Parser) *Extractor {
	return &Extractor{Mapper: mapper, Parser: parser, DefaultLimit: DefaultLimit, MaxLimit: MaxLimit}
}

func (e *Extractor) Extract(text string) Intent {
	cleaned, window := e.Parser.Parse(text)
	out := Intent{
		Text:    text,
		Cleaned: cleaned,
		Window:  window,
		Limit:   e.limit(cleaned),
		Order:   detectOrder(cleaned),
	}
	out.Action, out.Aggregate = detectAction(cleaned)
	out.Tables = e.tables(cleaned, out.Aggregate)
	if spec, ok := e.Mapper.Table(out.PrimaryTable()); ok {
		out.Filters = e.filters(spec, cleaned)
		if bounds, ok := e.Mapper.BoundsFor(spec.Name, cleaned); ok {
			out.Bounds = &bounds
		}
	}
	return out
}

// detectAction returns the first matching keyword group as the action, and
// separately the first matching aggregate group so that "show the average"
// still aggregates.
func detectAction(text string) (Action, Action) {
	action := Action("")
	aggregate := Action("")
	for _, group := range actionGroups {
		if !group.pattern.MatchString(text) {
			continue
		}
		if action == "" {
			action = group.action
		}
		if aggregate == "" && group.action != ActionSelect {
			aggregate = group.action
		}
	}
	if action == "" {
		action = ActionSelect
	}
	return action, aggregate
}

func (e *Extractor) tables(text string, aggregate Action) []string {
	tables := e.Mapper.SuggestTables(text)
	if len(tables) == 0 {
		return []string{e.Mapper.FallbackTable(text)}
	}
	if aggregate == "" || aggregate == ActionCount || len(tables) < 2 {
		return tables
	}
	if e.hasNumeric(tables[0]) || !e.hasNumeric(tables[1]) {
		return tables
	}
	return []string{tables[1], tables[0]}
}

func (e *Extractor) hasNumeric(table string) bool {
	spec, ok := e.Mapper.Table(table)
	return ok && spec.NumericColumn != ""
}

func (e *Extractor) filters(spec domain.TableSpec, text string) []Filter {
	var out []Filter

	if spec.StatusColumn != "" {
		switch {
		case onlinePattern.MatchString(text):
			out = append(out, Filter{Column: spec.StatusColumn, Operator: "=", Value: "online"})
		case offlinePattern.MatchString(text):
			out = append(out, Filter{Column: spec.StatusColumn, Operator: "=", Value: "offline"})
		}
	}

	var quality []domain.FilterSpec
	switch {
	case goodQualityPattern.MatchString(text):
		quality = spec.Quality.Good
	case badQualityPattern.MatchString(text):
		quality = spec.Quality.Bad
	}
	for _, f := range quality {
		out = append(out, Filter{Column: f.Column, Operator: f.Operator, Value: f.Value})
	}

	for _, f := range e.Mapper.Conditions(spec.Name, text) {
		out = append(out, Filter{Column: f.Column, Operator: f.Operator, Value: f.Value})
	}

	if spec.NumericColumn != "" {
		for _, comparison := range comparisonPatterns {
			for _, match := range comparison.pattern.FindAllStringSubmatch(text, -1) {
				if value, ok := parseNumber(match[1]); ok {
					out = append(out, Filter{Column: spec.NumericColumn, Operator: comparison.operator, Value: value})
				}
			}
		}
		for _, match := range betweenPattern.FindAllStringSubmatch(text, -1) {
			low, okLow := parseNumber(match[1])
			high, okHigh := parseNumber(match[2])
			if okLow && okHigh {
				out = append(out, Filter{Column: spec.NumericColumn, Operator: "BETWEEN", Value: low, High: high})
			}
		}
	}

	if spec.UnitColumn != "" {
		for _, unit := range unitPatterns {
			if unit.pattern.MatchString(text) {
				out = append(out, Filter{Column: spec.UnitColumn, Operator: "LIKE", Value: "%" + unit.unit + "%"})
				break
			}
		}
	}
	return out
}

func (e *Extractor) limit(text string) int {
	fallback := e.DefaultLimit
	if fallback <= 0 {
		fallback = DefaultLimit
	}
	ceiling := e.MaxLimit
	if ceiling <= 0 {
		ceiling = MaxLimit
	}
	if fallback > ceiling {
		fallback = ceiling
	}
	match := limitPattern.FindStringSubmatch(text)
	if match == nil {
		return fallback
	}
	n, err := strconv.Atoi(match[1])
	if err != nil || n <= 0 {
		return fallback
	}
	if n > ceiling {
		return ceiling
	}
	return n
}

func detectOrder(text string) Order {
	switch {
	case descPattern.MatchString(text):
		return OrderDesc
	case ascPattern.MatchString(text):
		return OrderAsc
	default:
		return OrderNone
	}
}

func parseNumber(raw string) (float64, bool) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
