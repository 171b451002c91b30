package query

// StatementType identifies the statement kind.
type StatementType int

const (
	SearchStatementType StatementType = iota
	DeleteStatementType
	UpdateStatementType
)

type Statement interface {
	Type() StatementType
}

// Operator is a condition operator.
type Operator int

const (
	Equals Operator = iota
	NotEquals
	GreaterThan
	GreaterThanOrEqual
	LessThan
	LessThanOrEqual
	StartsWith
	EndsWith
	Contains
	NotContains
	LengthEquals
	LengthNotEquals
	LengthGreater
	LengthLess
	InRange
	NotInRange
)

var operators = map[string]Operator{
	"=":  Equals,
	"!=": NotEquals,
	">":  GreaterThan,
	">=": GreaterThanOrEqual,
	"<":  LessThan,
	"<=": LessThanOrEqual,
	"[=": StartsWith,
	"]=": EndsWith,
	"[]": Contains,
	"][": NotContains,
	"<>": LengthEquals,
	"><": LengthNotEquals,
	">>": LengthGreater,
	"<<": LengthLess,
	"{}": InRange,
	"}{": NotInRange,
}

func (op Operator) String() string {
	for token, candidate := range operators {
		if candidate == op {
			return token
		}
	}
	return "?"
}

// IsLength reports whether the operator compares character lengths.
func (op Operator) IsLength() bool {
	return op >= LengthEquals && op <= LengthLess
}

// IsRange reports whether the operator tests set membership.
func (op Operator) IsRange() bool {
	return op == InRange || op == NotInRange
}

type LogicalOperator int

const (
	LogicalAnd LogicalOperator = iota
	LogicalOr
)

func (op LogicalOperator) String() string {
	if op == LogicalOr {
		return "|"
	}
	return "&"
}

// Condition is "COLUMN" OP value.
type Condition struct {
	Column   string
	Operator Operator
	Value    string
}

// WhereClause holds conditions and the connectors between them. Evaluation
// is strictly left to right: LogicalOps[i] joins the result of conditions
// 0..i with condition i+1.
type WhereClause struct {
	Conditions []Condition
	LogicalOps []LogicalOperator
}

// Projection lists the columns to keep, or to drop when Exclude is set.
// An empty projection keeps every column.
type Projection struct {
	Columns []string
	Exclude bool
}

func (p Projection) IsEmpty() bool {
	return len(p.Columns) == 0
}

type AggregateFunc int

const (
	AggregateCount AggregateFunc = iota
	AggregateLimit
	AggregateSum
	AggregateAvg
	AggregateMin
	AggregateMax
	AggregateUnique
	AggregateAsc
	AggregateDesc
)

var aggregateNames = map[string]AggregateFunc{
	"COUNT":  AggregateCount,
	"LIMIT":  AggregateLimit,
	"SUM":    AggregateSum,
	"AVG":    AggregateAvg,
	"MIN":    AggregateMin,
	"MAX":    AggregateMax,
	"UNIQUE": AggregateUnique,
	"ASC":    AggregateAsc,
	"DESC":   AggregateDesc,
}

func (fn AggregateFunc) String() string {
	for name, candidate := range aggregateNames {
		if candidate == fn {
			return name
		}
	}
	return "?"
}

// Aggregate is the trailing ~FUNC:ARG directive.
type Aggregate struct {
	Function AggregateFunc
	Arg      string
}

// Query is a compiled filter: projection, conditions and an optional
// aggregate.
type Query struct {
	Projection Projection
	Where      WhereClause
	Aggregate  *Aggregate
}

// SelectorKind tells how rows are picked.
type SelectorKind int

const (
	// SelectAll streams every row. Produced by an empty search or ON clause.
	SelectAll SelectorKind = iota
	// SelectPattern picks rows by ordinal.
	SelectPattern
	// SelectQuery evaluates a Query against each row.
	SelectQuery
	// SelectText matches a substring anywhere in the row.
	SelectText
)

type Selector struct {
	Kind    SelectorKind
	Pattern Pattern
	Query   *Query
	Text    string
}

type SearchStatement struct {
	Selector Selector
}

type DeleteStatement struct {
	All      bool
	Selector Selector
}

// Expr is the right hand side of an update assignment: a literal value
// or a %FUNCTION with its raw argument.
type Expr struct {
	Function string
	Arg      string
	Literal  string
}

func (e Expr) IsLiteral() bool {
	return e.Function == ""
}

type Assignment struct {
	Column string
	Expr   Expr
}

type UpdateStatement struct {
	Assignments []Assignment
	On          Selector
}

func (s SearchStatement) Type() StatementType { return SearchStatementType }
func (s DeleteStatement) Type() StatementType { return DeleteStatementType }
func (s UpdateStatement) Type() StatementType { return UpdateStatementType }
