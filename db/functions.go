package db

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/w4cha/csv-manager/core"
	"github.com/w4cha/csv-manager/query"
)

const (
	// voidValue stands for the empty string in a REPLACE argument.
	voidValue = "%VOID"

	argSeparator = "#"

	maxDateShift = 1000
	maxPrecision = 25
)

var (
	ErrMissingArgument = errors.New("missing argument")
	ErrNotNumeric      = errors.New("value is not a number")
	ErrTextArithmetic  = errors.New("only %ADD can be applied to text")
	ErrDateArithmetic  = errors.New("only %ADD and %SUB can be applied to a date")
	ErrDateShift       = errors.New("days added to or subtracted from a date must be between 1 and 1000")
	ErrUnknownColumn   = errors.New("unknown column")
)

// callContext is what a function sees besides the value it transforms.
type callContext struct {
	header  core.Row
	row     core.Row
	mapping map[string]string
}

// column returns the current value of name in the row being updated. The
// index column is returned without brackets.
func (ctx callContext) column(name string) (string, error) {
	i, ok := core.ColumnIndex(ctx.header, name)
	if !ok {
		return "", fmt.Errorf("%w %q, the options are %s", ErrUnknownColumn, name, strings.Join(ctx.header, ", "))
	}
	if i == 0 {
		return core.StripIndex(ctx.row[0]), nil
	}
	return ctx.row[i], nil
}

type function func(ctx callContext, value, arg string) (string, error)

var functions = map[string]function{
	"UPPER":      func(_ callContext, value, _ string) (string, error) { return strings.ToUpper(value), nil },
	"LOWER":      func(_ callContext, value, _ string) (string, error) { return strings.ToLower(value), nil },
	"TITLE":      func(_ callContext, value, _ string) (string, error) { return title(value), nil },
	"CAPITALIZE": func(_ callContext, value, _ string) (string, error) { return capitalize(value), nil },
	"REPLACE":    replace,
	"CEIL":       rounding(math.Ceil),
	"FLOOR":      rounding(math.Floor),
	"ADD":        arithmetic("ADD"),
	"SUB":        arithmetic("SUB"),
	"MUL":        arithmetic("MUL"),
	"DIV":        arithmetic("DIV"),
	"RANDOM-INT": randomInt,
	"NUM-FORMAT": numFormat,
	"COPY":       copyColumn,
	"MAP-VALUE":  mapValue,
}

// evaluate computes the new value of a field holding value.
func evaluate(ctx callContext, expr query.Expr, value string) (string, error) {
	if expr.IsLiteral() {
		return expr.Literal, nil
	}
	fn, ok := functions[expr.Function]
	if !ok {
		return "", fmt.Errorf("%w: %%%s", query.ErrSyntax, expr.Function)
	}
	result, err := fn(ctx, value, expr.Arg)
	if err != nil {
		return "", fmt.Errorf("%%%s: %w", expr.Function, err)
	}
	return result, nil
}

// title upper-cases the first letter of every run of letters and
// lower-cases the rest.
func title(s string) string {
	var b strings.Builder
	previous := false
	for _, r := range s {
		if previous {
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(unicode.ToUpper(r))
		}
		previous = unicode.IsLetter(r)
	}
	return b.String()
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

func replace(_ callContext, value, arg string) (string, error) {
	old, replacement, ok := strings.Cut(arg, argSeparator)
	if !ok || old == "" {
		return "", fmt.Errorf("%w: expected old%snew", ErrMissingArgument, argSeparator)
	}
	if replacement == voidValue {
		replacement = ""
	}
	return strings.ReplaceAll(value, old, replacement), nil
}

func rounding(round func(float64) float64) function {
	return func(_ callContext, value, _ string) (string, error) {
		f, ok := core.ParseFloat(value)
		if !ok || math.IsInf(f, 0) || math.IsNaN(f) {
			return "", fmt.Errorf("%w: %q", ErrNotNumeric, value)
		}
		rounded := round(f)
		if rounded == 0 {
			// no negative zero
			rounded = 0
		}
		return strconv.FormatFloat(rounded, 'f', 0, 64), nil
	}
}

// operand resolves an arithmetic argument, either a literal or USE:~COL.
func operand(ctx callContext, arg string) (string, error) {
	if column, ok := query.UseColumn(arg); ok {
		return ctx.column(column)
	}
	if arg == "" {
		return "", fmt.Errorf("%w: expected an operand", ErrMissingArgument)
	}
	return arg, nil
}

func arithmetic(name string) function {
	return func(ctx callContext, value, arg string) (string, error) {
		other, err := operand(ctx, arg)
		if err != nil {
			return "", err
		}

		v := core.Coerce(value)
		switch v.Kind {
		case core.KindFloat:
			o, ok := core.ParseFloat(other)
			if !ok {
				break
			}
			switch name {
			case "ADD":
				return core.FormatFloat(v.Float + o), nil
			case "SUB":
				return core.FormatFloat(v.Float - o), nil
			case "MUL":
				return core.FormatFloat(v.Float * o), nil
			default:
				if o == 0 {
					return value, nil
				}
				return core.FormatFloat(v.Float / o), nil
			}

		case core.KindDate:
			if name == "MUL" || name == "DIV" {
				return "", ErrDateArithmetic
			}
			days, err := strconv.Atoi(strings.TrimSpace(other))
			if err != nil {
				break
			}
			if days < 1 || days > maxDateShift {
				return "", fmt.Errorf("%w, got %d", ErrDateShift, days)
			}
			if name == "SUB" {
				days = -days
			}
			return core.FormatDate(v.Date.AddDate(0, 0, days)), nil
		}

		if name != "ADD" {
			return "", ErrTextArithmetic
		}
		return value + other, nil
	}
}

func intPair(arg string) (int, int, bool) {
	first, second, ok := strings.Cut(arg, argSeparator)
	if !ok {
		return 0, 0, false
	}
	lo, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0, 0, false
	}
	hi, err := strconv.Atoi(strings.TrimSpace(second))
	if err != nil {
		return 0, 0, false
	}
	return lo, hi, true
}

func randomInt(_ callContext, _, arg string) (string, error) {
	lo, hi, ok := intPair(arg)
	if !ok {
		return "", fmt.Errorf("%w: expected two integers lo%shi, got %q", ErrMissingArgument, argSeparator, arg)
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	// unsigned span so bounds far apart do not overflow
	span := uint64(hi) - uint64(lo)
	if span == math.MaxUint64 {
		return strconv.FormatInt(int64(rand.Uint64()), 10), nil
	}
	return strconv.FormatInt(int64(lo)+int64(rand.Uint64N(span+1)), 10), nil
}

func numFormat(_ callContext, value, arg string) (string, error) {
	v := core.Coerce(value)
	if v.Kind != core.KindFloat {
		return "", fmt.Errorf("%w: %q", ErrNotNumeric, value)
	}
	precision, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return "", fmt.Errorf("%w: precision must be an integer, got %q", ErrMissingArgument, arg)
	}
	if precision < 1 || precision > maxPrecision {
		return "", fmt.Errorf("precision must be between 1 and %d, got %d", maxPrecision, precision)
	}
	return strconv.FormatFloat(v.Float, 'f', precision, 64), nil
}

func copyColumn(ctx callContext, _, arg string) (string, error) {
	if arg == "" {
		return "", fmt.Errorf("%w: expected a column name", ErrMissingArgument)
	}
	return ctx.column(strings.TrimSpace(arg))
}

func mapValue(ctx callContext, value, _ string) (string, error) {
	if mapped, ok := ctx.mapping[value]; ok {
		return mapped, nil
	}
	return value, nil
}
