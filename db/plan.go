package db

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/w4cha/csv-manager/core"
	"github.com/w4cha/csv-manager/query"
)

// plan is a selector bound to one table header.
type plan struct {
	selector  query.Selector
	header    core.Row
	delimiter rune

	// positions of the projected columns in the full header
	columns []int

	ordinals   map[int]bool
	conditions []condition
	connectors []query.LogicalOperator
}

type condition struct {
	column   int
	index    bool
	operator query.Operator
	value    string
	members  []string
}

// newPlan computes the projection of selector over header. Conditions are
// bound separately by compile so that the projected header can be shown
// before a bad condition is reported.
func newPlan(selector query.Selector, header core.Row, delimiter rune, rowCount int) *plan {
	p := &plan{selector: selector, header: header, delimiter: delimiter}

	var projection query.Projection
	if selector.Query != nil {
		projection = selector.Query.Projection
	}
	p.columns = projectColumns(header, projection)

	if selector.Kind == query.SelectPattern {
		p.ordinals = make(map[int]bool)
		for _, k := range selector.Pattern.Resolve(rowCount) {
			p.ordinals[k] = true
		}
	}
	return p
}

// projectColumns keeps the index column plus the listed columns, or every
// column but the listed ones when the projection excludes. Unknown names
// are ignored.
func projectColumns(header core.Row, projection query.Projection) []int {
	listed := make(map[int]bool, len(projection.Columns))
	for _, name := range projection.Columns {
		if i, ok := core.ColumnIndex(header, name); ok {
			listed[i] = true
		}
	}

	columns := make([]int, 0, len(header))
	for i := range header {
		switch {
		case i == 0, projection.IsEmpty():
		case projection.Exclude == listed[i]:
			continue
		}
		columns = append(columns, i)
	}
	return columns
}

// compile binds every condition column to the full header.
func (p *plan) compile() error {
	if p.selector.Kind != query.SelectQuery {
		return nil
	}
	where := p.selector.Query.Where

	p.conditions = make([]condition, 0, len(where.Conditions))
	for _, c := range where.Conditions {
		i, ok := core.ColumnIndex(p.header, c.Column)
		if !ok {
			return fmt.Errorf("%w: unknown column %q in condition", query.ErrSyntax, c.Column)
		}
		bound := condition{column: i, index: i == 0, operator: c.Operator, value: c.Value}
		if c.Operator.IsRange() {
			members, err := query.ParseRange(c.Value)
			if err != nil {
				return err
			}
			bound.members = members
		}
		p.conditions = append(p.conditions, bound)
	}
	p.connectors = where.LogicalOps
	return nil
}

// Header is the projected header.
func (p *plan) Header() core.Row {
	return p.project(p.header)
}

func (p *plan) project(row core.Row) core.Row {
	if len(p.columns) == len(row) {
		return row.Clone()
	}
	out := make(core.Row, len(p.columns))
	for i, column := range p.columns {
		out[i] = row[column]
	}
	return out
}

// matches reports whether the row at ordinal k is selected.
func (p *plan) matches(k int, row core.Row) bool {
	switch p.selector.Kind {
	case query.SelectAll:
		return true
	case query.SelectPattern:
		return p.ordinals[k]
	case query.SelectText:
		joined := strings.Join(row[1:], string(p.delimiter))
		return strings.Contains(strings.ToLower(joined), strings.ToLower(p.selector.Text))
	}

	if len(p.conditions) == 0 {
		return true
	}
	// strictly left to right, no precedence
	result := p.conditions[0].eval(row)
	for i, connector := range p.connectors {
		next := p.conditions[i+1].eval(row)
		if connector == query.LogicalOr {
			result = result || next
		} else {
			result = result && next
		}
	}
	return result
}

func (c condition) eval(row core.Row) bool {
	field := row[c.column]
	if c.index {
		field = core.StripIndex(field)
	}

	switch c.operator {
	case query.Equals, query.NotEquals, query.GreaterThan, query.GreaterThanOrEqual, query.LessThan, query.LessThanOrEqual:
		return relational(c.operator, field, c.value)
	case query.StartsWith:
		return strings.HasPrefix(strings.ToLower(field), strings.ToLower(c.value))
	case query.EndsWith:
		return strings.HasSuffix(strings.ToLower(field), strings.ToLower(c.value))
	case query.Contains:
		return strings.Contains(strings.ToLower(field), strings.ToLower(c.value))
	case query.NotContains:
		return !strings.Contains(strings.ToLower(field), strings.ToLower(c.value))
	case query.InRange, query.NotInRange:
		found := false
		for _, member := range c.members {
			if relational(query.Equals, field, member) {
				found = true
				break
			}
		}
		return found == (c.operator == query.InRange)
	}

	// length operators
	n, err := strconv.Atoi(strings.TrimSpace(c.value))
	if err != nil {
		return false
	}
	length := utf8.RuneCountInString(field)
	switch c.operator {
	case query.LengthEquals:
		return length == n
	case query.LengthNotEquals:
		return length != n
	case query.LengthGreater:
		return length > n
	case query.LengthLess:
		return length < n
	}
	return false
}

// relational applies a comparison operator; NaN satisfies only !=.
func relational(operator query.Operator, a, b string) bool {
	c, ordered := core.Compare(a, b)
	if !ordered {
		return operator == query.NotEquals
	}
	switch operator {
	case query.Equals:
		return c == 0
	case query.NotEquals:
		return c != 0
	case query.GreaterThan:
		return c > 0
	case query.GreaterThanOrEqual:
		return c >= 0
	case query.LessThan:
		return c < 0
	case query.LessThanOrEqual:
		return c <= 0
	}
	return false
}
