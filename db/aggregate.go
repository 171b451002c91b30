package db

import (
	"slices"
	"strconv"
	"strings"

	"github.com/w4cha/csv-manager/core"
	"github.com/w4cha/csv-manager/query"
)

// accumulator keeps the running state of an aggregate over the projected
// rows that matched.
type accumulator interface {
	// add reports whether row is emitted right away.
	add(row core.Row) bool
	// finish returns the rows emitted after the scan.
	finish() []core.Row
}

// newAccumulator returns nil when the aggregate does not apply: no
// aggregate, LIMIT (handled by the scan), or a column missing from the
// projected header.
func newAccumulator(aggregate *query.Aggregate, header core.Row) accumulator {
	if aggregate == nil || aggregate.Function == query.AggregateLimit {
		return nil
	}
	if aggregate.Function == query.AggregateCount {
		return &countAccumulator{}
	}

	column, ok := core.ColumnIndex(header, aggregate.Arg)
	if !ok {
		return nil
	}
	name := header[column]
	value := func(row core.Row) string {
		if column == 0 {
			return core.StripIndex(row[0])
		}
		return row[column]
	}

	switch aggregate.Function {
	case query.AggregateSum, query.AggregateAvg:
		return &sumAccumulator{function: aggregate.Function, name: name, value: value}
	case query.AggregateMin, query.AggregateMax:
		return &extremeAccumulator{function: aggregate.Function, name: name, value: value}
	case query.AggregateUnique:
		return &uniqueAccumulator{name: name, value: value, seen: make(map[string]bool)}
	case query.AggregateAsc, query.AggregateDesc:
		return &sortAccumulator{descending: aggregate.Function == query.AggregateDesc, value: value}
	}
	return nil
}

// limitCounter turns a LIMIT argument into the starting value of the
// countdown, or 0 when no limit applies.
func limitCounter(aggregate *query.Aggregate) int {
	if aggregate == nil || aggregate.Function != query.AggregateLimit {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(aggregate.Arg))
	if err != nil || n <= 0 {
		return 0
	}
	return n + 1
}

type countAccumulator struct {
	total int
}

func (acc *countAccumulator) add(core.Row) bool {
	acc.total++
	return true
}

func (acc *countAccumulator) finish() []core.Row {
	return []core.Row{{query.AggregateCount.String(), strconv.Itoa(acc.total)}}
}

// columnKind tracks the interpretation shared by every value of a column.
// The first value fixes it; a value of any other kind turns the column to
// text for good.
type columnKind struct {
	set  bool
	kind core.Kind
}

func (ck *columnKind) observe(v core.Coerced) {
	switch {
	case !ck.set:
		ck.set = true
		ck.kind = v.Kind
	case ck.kind != v.Kind:
		ck.kind = core.KindText
	}
}

type sumAccumulator struct {
	function query.AggregateFunc
	name     string
	value    func(core.Row) string

	kind  columnKind
	sum   float64
	count int
}

func (acc *sumAccumulator) add(row core.Row) bool {
	v := core.Coerce(acc.value(row))
	acc.kind.observe(v)
	acc.sum += v.Float
	acc.count++
	return true
}

func (acc *sumAccumulator) finish() []core.Row {
	result := "0"
	if acc.count > 0 && acc.kind.kind == core.KindFloat {
		if acc.function == query.AggregateAvg {
			result = core.FormatFloat(acc.sum / float64(acc.count))
		} else {
			result = core.FormatFloat(acc.sum)
		}
	}
	return []core.Row{{acc.function.String(), acc.name, result}}
}

type extremeAccumulator struct {
	function query.AggregateFunc
	name     string
	value    func(core.Row) string

	kind    columnKind
	best    core.Coerced
	hasBest bool
	// the extreme under plain string order, used once the column turns
	// to text
	bestText string
}

func (acc *extremeAccumulator) better(c int) bool {
	if acc.function == query.AggregateMax {
		return c > 0
	}
	return c < 0
}

func (acc *extremeAccumulator) add(row core.Row) bool {
	v := core.Coerce(acc.value(row))
	acc.kind.observe(v)
	if !acc.hasBest {
		acc.best, acc.bestText, acc.hasBest = v, v.Text, true
		return true
	}
	if acc.better(strings.Compare(v.Text, acc.bestText)) {
		acc.bestText = v.Text
	}
	if acc.kind.kind != core.KindText && acc.better(core.CompareAs(acc.kind.kind, v, acc.best)) {
		acc.best = v
	}
	return true
}

func (acc *extremeAccumulator) finish() []core.Row {
	result := ""
	if acc.hasBest {
		switch acc.kind.kind {
		case core.KindFloat:
			result = core.FormatFloat(acc.best.Float)
		case core.KindDate:
			result = core.FormatDate(acc.best.Date)
		default:
			result = acc.bestText
		}
	}
	return []core.Row{{acc.function.String(), acc.name, result}}
}

type uniqueAccumulator struct {
	name  string
	value func(core.Row) string
	seen  map[string]bool
	total int
}

func (acc *uniqueAccumulator) add(row core.Row) bool {
	acc.total++
	v := acc.value(row)
	if acc.seen[v] {
		return false
	}
	acc.seen[v] = true
	return true
}

func (acc *uniqueAccumulator) finish() []core.Row {
	return []core.Row{{
		query.AggregateUnique.String(),
		acc.name,
		strconv.Itoa(len(acc.seen)),
		strconv.Itoa(acc.total),
	}}
}

type sortAccumulator struct {
	descending bool
	value      func(core.Row) string

	kind   columnKind
	rows   []core.Row
	values []core.Coerced
}

func (acc *sortAccumulator) add(row core.Row) bool {
	v := core.Coerce(acc.value(row))
	acc.kind.observe(v)
	acc.rows = append(acc.rows, row)
	acc.values = append(acc.values, v)
	return false
}

// finish sorts stably, so equal values keep their file order.
func (acc *sortAccumulator) finish() []core.Row {
	order := make([]int, len(acc.rows))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		c := core.CompareAs(acc.kind.kind, acc.values[a], acc.values[b])
		if acc.descending {
			return -c
		}
		return c
	})

	sorted := make([]core.Row, len(order))
	for i, j := range order {
		sorted[i] = acc.rows[j]
	}
	return sorted
}
