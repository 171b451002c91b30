package query

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

var (
	ErrSyntax        = errors.New("syntax error")
	ErrRangeLiteral  = errors.New("malformed range literal")
	ErrInvalidDelete = errors.New(`expected "delete all", an index pattern such as [1-3] or "DELETE ON <query>"`)

	// errNoMatch means the text is not written in the query grammar. Searches
	// fall back to free text matching in that case.
	errNoMatch = errors.New("text does not match the query grammar")
)

const (
	deleteAll       = "delete all"
	deletePrefix    = "DELETE ON "
	updatePrefix    = "UPDATE:~"
	updateSeparator = " ON "
	functionArg     = ":~"
	rangePrefix     = "%RANGE:"
	useColumnPrefix = "USE:~"
)

var functionNames = map[string]bool{
	"UPPER":      true,
	"LOWER":      true,
	"TITLE":      true,
	"CAPITALIZE": true,
	"REPLACE":    true,
	"CEIL":       true,
	"FLOOR":      true,
	"ADD":        true,
	"SUB":        true,
	"MUL":        true,
	"DIV":        true,
	"RANDOM-INT": true,
	"NUM-FORMAT": true,
	"COPY":       true,
	"MAP-VALUE":  true,
}

// FunctionNames lists the update functions understood after '%'.
func FunctionNames() []string {
	names := make([]string, 0, len(functionNames))
	for name := range functionNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options carries compatibility switches. A positive MaxConditions or
// MaxAssignments folds every term past the limit into the literal of the
// last accepted term instead of parsing it.
type Options struct {
	MaxConditions  int
	MaxAssignments int
}

type Parser struct {
	lexer   *Lexer
	options Options
}

func NewParser(text string, options Options) *Parser {
	return &Parser{lexer: NewLexer(text), options: options}
}

// Parse dispatches on the statement prefix. Index patterns are read as
// searches; use ParseDelete to delete by pattern.
func Parse(text string, options Options) (Statement, error) {
	trimmed := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(trimmed, updatePrefix):
		return ParseUpdate(trimmed, options)
	case strings.EqualFold(trimmed, deleteAll), hasFoldPrefix(trimmed, deletePrefix):
		return ParseDelete(trimmed, options)
	default:
		return ParseSearch(text, options)
	}
}

func ParseSearch(text string, options Options) (SearchStatement, error) {
	selector, err := parseSelector(text, options)
	if err != nil {
		return SearchStatement{}, err
	}
	return SearchStatement{Selector: selector}, nil
}

func ParseDelete(text string, options Options) (DeleteStatement, error) {
	trimmed := strings.TrimSpace(text)

	if strings.EqualFold(trimmed, deleteAll) {
		return DeleteStatement{All: true}, nil
	}
	if pattern, ok := ParsePattern(trimmed); ok {
		return DeleteStatement{Selector: Selector{Kind: SelectPattern, Pattern: pattern}}, nil
	}
	if !hasFoldPrefix(trimmed, deletePrefix) {
		return DeleteStatement{}, ErrInvalidDelete
	}

	rest := strings.TrimSpace(trimmed[len(deletePrefix):])
	if rest == "" {
		return DeleteStatement{}, ErrInvalidDelete
	}
	selector, err := parseSelector(rest, options)
	if err != nil {
		return DeleteStatement{}, err
	}
	return DeleteStatement{Selector: withoutAggregate(selector)}, nil
}

func ParseUpdate(text string, options Options) (UpdateStatement, error) {
	if !strings.HasPrefix(text, updatePrefix) {
		return UpdateStatement{}, fmt.Errorf("%w: an update starts with %s", ErrSyntax, updatePrefix)
	}

	parser := NewParser(text[len(updatePrefix):], options)
	lexer := parser.lexer
	var stmt UpdateStatement

	for {
		name, ok := lexer.readQuotedIdentifier()
		if !ok {
			return UpdateStatement{}, fmt.Errorf(`%w: expected "COLUMN"=value`, ErrSyntax)
		}
		if !lexer.expect('=') {
			return UpdateStatement{}, fmt.Errorf(`%w: expected '=' after "%s"`, ErrSyntax, name)
		}

		fold := options.MaxAssignments > 0 && len(stmt.Assignments)+1 >= options.MaxAssignments
		value, last, err := parser.readAssignmentValue(fold)
		if err != nil {
			return UpdateStatement{}, err
		}

		stmt.Assignments = append(stmt.Assignments, Assignment{
			Column: strings.ToUpper(name),
			Expr:   parseExpr(value),
		})
		if last {
			break
		}
	}

	// an empty ON clause selects every row but no column
	selector, err := parseSelector(strings.TrimSpace(lexer.rest()), options)
	if err != nil {
		return UpdateStatement{}, err
	}
	stmt.On = withoutAggregate(selector)
	return stmt, nil
}

// ParseQuery parses the filter grammar:
//
//	[!][COL#COL] "COL" OP value {& | "COL" OP value} [~FUNC[:ARG]]
func (parser *Parser) ParseQuery() (*Query, error) {
	lexer := parser.lexer
	query := &Query{}

	if lexer.ch == '!' || lexer.ch == '[' {
		projection, ok := parser.parseProjection()
		if !ok {
			return nil, errNoMatch
		}
		query.Projection = projection
		lexer.skipSpaces()
	}

	for {
		condition, ok := parser.parseConditionHead()
		if !ok {
			return nil, errNoMatch
		}

		fold := parser.options.MaxConditions > 0 && len(query.Where.Conditions)+1 >= parser.options.MaxConditions
		value, connector, aggregate, end, err := parser.readConditionValue(fold)
		if err != nil {
			return nil, err
		}
		condition.Value = value
		query.Where.Conditions = append(query.Where.Conditions, condition)

		if aggregate != nil {
			query.Aggregate = aggregate
			return query, nil
		}
		if end {
			return query, nil
		}
		query.Where.LogicalOps = append(query.Where.LogicalOps, connector)
	}
}

func (parser *Parser) parseProjection() (Projection, bool) {
	lexer := parser.lexer
	var projection Projection

	projection.Exclude = lexer.expect('!')
	if !lexer.expect('[') {
		return Projection{}, false
	}
	if lexer.expect(']') {
		return projection, true
	}

	for {
		name := lexer.readIdentifier()
		if name == "" {
			return Projection{}, false
		}
		projection.Columns = append(projection.Columns, strings.ToUpper(name))
		if lexer.expect('#') {
			continue
		}
		if lexer.expect(']') {
			return projection, true
		}
		return Projection{}, false
	}
}

// parseConditionHead reads `"COL" OP` plus the single space after the
// operator.
func (parser *Parser) parseConditionHead() (Condition, bool) {
	lexer := parser.lexer
	start := lexer.position

	name, ok := lexer.readQuotedIdentifier()
	if !ok {
		return Condition{}, false
	}
	lexer.skipSpaces()
	op, ok := lexer.readOperator()
	if !ok {
		lexer.seek(start)
		return Condition{}, false
	}
	if !lexer.atEnd() && !lexer.expect(' ') {
		lexer.seek(start)
		return Condition{}, false
	}
	return Condition{Column: strings.ToUpper(name), Operator: op}, true
}

func (parser *Parser) conditionStartsAt(position int) bool {
	lexer := parser.lexer
	saved := lexer.position
	lexer.seek(position)
	_, ok := parser.parseConditionHead()
	lexer.seek(saved)
	return ok
}

// readConditionValue consumes a literal up to the next connector, the
// trailing aggregate or the end of the text.
func (parser *Parser) readConditionValue(fold bool) (string, LogicalOperator, *Aggregate, bool, error) {
	lexer := parser.lexer
	text := lexer.text
	start := lexer.position
	if lexer.atEnd() {
		return "", LogicalAnd, nil, true, nil
	}

	for i := start; i < len(text); i++ {
		switch text[i] {
		case '~':
			aggregate, ok := parseAggregate(text[i+1:])
			if !ok {
				return "", LogicalAnd, nil, false, errNoMatch
			}
			lexer.seek(len(text))
			return strings.TrimSpace(text[start:i]), LogicalAnd, aggregate, true, nil
		case ' ':
			if fold || i+3 > len(text) || text[i+2] != ' ' {
				continue
			}
			var connector LogicalOperator
			switch text[i+1] {
			case '&':
				connector = LogicalAnd
			case '|':
				connector = LogicalOr
			default:
				continue
			}
			if !parser.conditionStartsAt(i + 3) {
				continue
			}
			lexer.seek(i + 3)
			return strings.TrimSpace(text[start:i]), connector, nil, false, nil
		}
	}

	lexer.seek(len(text))
	return strings.TrimSpace(text[start:]), LogicalAnd, nil, true, nil
}

func parseAggregate(s string) (*Aggregate, bool) {
	name, arg, hasArg := strings.Cut(s, ":")
	fn, ok := aggregateNames[toUpper(name)]
	if !ok {
		return nil, false
	}
	if hasArg && strings.ContainsAny(arg, ":~") {
		return nil, false
	}
	return &Aggregate{Function: fn, Arg: strings.ToUpper(strings.TrimSpace(arg))}, true
}

// readAssignmentValue consumes a value up to the next `"COL"=` or up to
// " ON ". last reports that the ON clause was reached.
func (parser *Parser) readAssignmentValue(fold bool) (value string, last bool, err error) {
	lexer := parser.lexer
	text := lexer.text
	start := lexer.position

	for i := start; i < len(text); i++ {
		if text[i] != ' ' {
			continue
		}
		if strings.HasPrefix(text[i:], updateSeparator) {
			lexer.seek(i + len(updateSeparator))
			return strings.TrimSpace(text[start:i]), true, nil
		}
		if !fold && parser.assignmentStartsAt(i+1) {
			lexer.seek(i + 1)
			return strings.TrimSpace(text[start:i]), false, nil
		}
	}
	return "", false, fmt.Errorf("%w: missing ON clause", ErrSyntax)
}

func (parser *Parser) assignmentStartsAt(position int) bool {
	lexer := parser.lexer
	saved := lexer.position
	lexer.seek(position)
	_, ok := lexer.readQuotedIdentifier()
	ok = ok && lexer.ch == '='
	lexer.seek(saved)
	return ok
}

func parseExpr(value string) Expr {
	if strings.HasPrefix(value, "%") {
		name, arg, _ := strings.Cut(value[1:], functionArg)
		if upper := toUpper(name); functionNames[upper] {
			return Expr{Function: upper, Arg: arg}
		}
	}
	return Expr{Literal: value}
}

// UseColumn returns COL for an operand written USE:~COL.
func UseColumn(arg string) (string, bool) {
	if !strings.HasPrefix(arg, useColumnPrefix) {
		return "", false
	}
	return strings.ToUpper(strings.TrimSpace(arg[len(useColumnPrefix):])), true
}

// ParseRange reads a %RANGE:<sep>[v1<sep>v2...] literal.
func ParseRange(value string) ([]string, error) {
	if !strings.HasPrefix(value, rangePrefix) {
		return nil, fmt.Errorf("%w: %q must start with %s", ErrRangeLiteral, value, rangePrefix)
	}
	rest := value[len(rangePrefix):]
	sep, size := utf8.DecodeRuneInString(rest)
	if size == 0 || sep == '[' || sep == ']' || sep == utf8.RuneError {
		return nil, fmt.Errorf("%w: %q needs a separator after %s", ErrRangeLiteral, value, rangePrefix)
	}
	body := rest[size:]
	if len(body) < 2 || body[0] != '[' || body[len(body)-1] != ']' {
		return nil, fmt.Errorf("%w: %q values must be enclosed in []", ErrRangeLiteral, value)
	}
	return strings.Split(body[1:len(body)-1], string(sep)), nil
}

func parseSelector(text string, options Options) (Selector, error) {
	if text == "" {
		return Selector{Kind: SelectAll}, nil
	}
	if pattern, ok := ParsePattern(text); ok {
		return Selector{Kind: SelectPattern, Pattern: pattern}, nil
	}

	query, err := NewParser(text, options).ParseQuery()
	if errors.Is(err, errNoMatch) {
		return Selector{Kind: SelectText, Text: text}, nil
	}
	if err != nil {
		return Selector{}, err
	}
	return Selector{Kind: SelectQuery, Query: query}, nil
}

func withoutAggregate(selector Selector) Selector {
	if selector.Query != nil && selector.Query.Aggregate != nil {
		query := *selector.Query
		query.Aggregate = nil
		selector.Query = &query
	}
	return selector
}

func hasFoldPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
