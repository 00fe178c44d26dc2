// Package sqlgen renders an intent into a parameterized SELECT statement
// using the closed per-table catalog of a domain mapping.
package sqlgen

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/iotquery/iotquery/internal/domain"
	"github.com/iotquery/iotquery/internal/intent"
)

var (
	ErrNoTable           = errors.New("intent has no target table")
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrInvalidOperator   = errors.New("invalid operator")
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Catalog is the read side of a domain mapping used for synthesis.
type Catalog interface {
	Table(name string) (domain.TableSpec, bool)
	TimeLayout() string
}

// Statement is a rendered query. Params bind to the "?" placeholders in
// order.
type Statement struct {
	SQL        string `json:"sql"`
	Params     []any  `json:"params"`
	Table      string `json:"table"`
	Aggregated bool   `json:"aggregated"`
}

// Synthesize renders in against cat. Values are always bound as
// parameters; identifiers come from the catalog or are validated.
func Synthesize(in intent.Intent, cat Catalog) (Statement, error) {
	base := in.PrimaryTable()
	if base == "" {
		return Statement{}, ErrNoTable
	}
	spec, known := cat.Table(base)
	if known {
		base = spec.Name
	} else {
		spec = domain.TableSpec{Name: base}
	}
	if !identPattern.MatchString(base) {
		return Statement{}, fmt.Errorf("%w: table %q", ErrInvalidIdentifier, base)
	}

	join := in.Window != nil && spec.TimeColumn == "" && spec.TimeJoin != nil
	bounds := in.Bounds
	if bounds != nil {
		if spec.NumericColumn == "" {
			bounds = nil
		} else if err := validateBounds(*bounds); err != nil {
			return Statement{}, err
		}
	}
	qualified := join || bounds != nil
	qualify := func(column string) string {
		if qualified {
			return base + "." + column
		}
		return column
	}

	var (
		b      strings.Builder
		params []any
	)
	b.WriteString("SELECT ")
	b.WriteString(selectList(in.Aggregate, spec, qualified, qualify))
	b.WriteString(" FROM ")
	b.WriteString(base)
	if join {
		fmt.Fprintf(&b, " INNER JOIN %s ON %s.%s = %s.%s",
			spec.TimeJoin.Table, base, spec.TimeJoin.LocalKey, spec.TimeJoin.Table, spec.TimeJoin.ForeignKey)
	}
	if bounds != nil {
		fmt.Fprintf(&b, " INNER JOIN %s ON %s.%s = %s.%s",
			bounds.Table, base, bounds.LocalKey, bounds.Table, bounds.ForeignKey)
	}

	var predicates []string
	for _, filter := range in.Filters {
		if !identPattern.MatchString(filter.Column) {
			return Statement{}, fmt.Errorf("%w: column %q", ErrInvalidIdentifier, filter.Column)
		}
		column := qualify(filter.Column)
		switch operator := strings.ToUpper(strings.TrimSpace(filter.Operator)); operator {
		case "BETWEEN":
			predicates = append(predicates, column+" BETWEEN ? AND ?")
			params = append(params, filter.Value, filter.High)
		case "=", "!=", ">", "<", "LIKE":
			predicates = append(predicates, column+" "+operator+" ?")
			params = append(params, filter.Value)
		default:
			return Statement{}, fmt.Errorf("%w: %q", ErrInvalidOperator, filter.Operator)
		}
	}

	if bounds != nil {
		value := qualify(spec.NumericColumn)
		predicates = append(predicates, fmt.Sprintf("(%s > %s.%s OR %s < %s.%s)",
			value, bounds.Table, bounds.HighColumn, value, bounds.Table, bounds.LowColumn))
	}

	timeColumn := ""
	switch {
	case spec.TimeColumn != "":
		timeColumn = qualify(spec.TimeColumn)
	case join:
		timeColumn = spec.TimeJoin.Table + "." + spec.TimeJoin.TimeColumn
	}
	if in.Window != nil && timeColumn != "" {
		predicates = append(predicates, timeColumn+" BETWEEN ? AND ?")
		params = append(params, bindTime(in.Window.Start, cat.TimeLayout()), bindTime(in.Window.End, cat.TimeLayout()))
	}
	if len(predicates) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(predicates, " AND "))
	}

	aggregated := in.Aggregated()
	if !aggregated {
		if order := orderClause(spec, in.Order, timeColumn, qualify); order != "" {
			b.WriteString(" ORDER BY ")
			b.WriteString(order)
		}
		limit := in.Limit
		if limit <= 0 {
			limit = intent.DefaultLimit
		}
		b.WriteString(" LIMIT ?")
		params = append(params, limit)
	}

	if params == nil {
		params = []any{}
	}
	return Statement{SQL: b.String(), Params: params, Table: base, Aggregated: aggregated}, nil
}

func selectList(aggregate intent.Action, spec domain.TableSpec, qualified bool, qualify func(string) string) string {
	switch aggregate {
	case "":
	case intent.ActionCount:
		return "COUNT(*)"
	default:
		if spec.NumericColumn == "" {
			return "COUNT(*)"
		}
		return string(aggregate) + "(" + qualify(spec.NumericColumn) + ")"
	}
	if len(spec.Projection) == 0 {
		if qualified {
			return spec.Name + ".*"
		}
		return "*"
	}
	columns := make([]string, 0, len(spec.Projection))
	for _, column := range spec.Projection {
		columns = append(columns, qualify(column))
	}
	return strings.Join(columns, ", ")
}

// orderClause applies the hint to the table's default ordering. Without a
// default ordering the hint orders by the time column when there is one.
func orderClause(spec domain.TableSpec, hint intent.Order, timeColumn string, qualify func(string) string) string {
	if spec.OrderBy != nil && spec.OrderBy.Column != "" {
		descending := spec.OrderBy.Descending
		switch hint {
		case intent.OrderAsc:
			descending = false
		case intent.OrderDesc:
			descending = true
		}
		return qualify(spec.OrderBy.Column) + direction(descending)
	}
	if hint != intent.OrderNone && timeColumn != "" {
		return timeColumn + direction(hint == intent.OrderDesc)
	}
	return ""
}

func direction(descending bool) string {
	if descending {
		return " DESC"
	}
	return " ASC"
}

func validateBounds(bounds domain.BoundsSpec) error {
	for _, ident := range []string{bounds.Table, bounds.LocalKey, bounds.ForeignKey, bounds.LowColumn, bounds.HighColumn} {
		if !identPattern.MatchString(ident) {
			return fmt.Errorf("%w: bounds %q", ErrInvalidIdentifier, ident)
		}
	}
	return nil
}

// bindTime renders t for the data's time column. Stored timestamps are UTC,
// so windows built on a local clock are converted first.
func bindTime(t time.Time, layout string) any {
	t = t.UTC()
	if layout == "" {
		return t
	}
	return t.Format(layout)
}
