package query

import (
	"errors"
	"reflect"
	"testing"
)

func mustSearch(t *testing.T, text string, options Options) Selector {
	t.Helper()
	stmt, err := ParseSearch(text, options)
	if err != nil {
		t.Fatalf("ParseSearch(%q) failed: %v", text, err)
	}
	return stmt.Selector
}

func TestParseSearchQuery(t *testing.T) {
	tests := []struct {
		input string
		want  Query
	}{
		{
			input: `"size" = 9`,
			want: Query{Where: WhereClause{
				Conditions: []Condition{{Column: "SIZE", Operator: Equals, Value: "9"}},
			}},
		},
		{
			input: `[solving_time#size] "size" > 4 & "difficulty" <= 10 | "name" [] john`,
			want: Query{
				Projection: Projection{Columns: []string{"SOLVING_TIME", "SIZE"}},
				Where: WhereClause{
					Conditions: []Condition{
						{Column: "SIZE", Operator: GreaterThan, Value: "4"},
						{Column: "DIFFICULTY", Operator: LessThanOrEqual, Value: "10"},
						{Column: "NAME", Operator: Contains, Value: "john"},
					},
					LogicalOps: []LogicalOperator{LogicalAnd, LogicalOr},
				},
			},
		},
		{
			input: `![START#END] "START" ]= | | "END" ]= G~DESC:size`,
			want: Query{
				Projection: Projection{Columns: []string{"START", "END"}, Exclude: true},
				Where: WhereClause{
					Conditions: []Condition{
						{Column: "START", Operator: EndsWith, Value: "|"},
						{Column: "END", Operator: EndsWith, Value: "G"},
					},
					LogicalOps: []LogicalOperator{LogicalOr},
				},
				Aggregate: &Aggregate{Function: AggregateDesc, Arg: "SIZE"},
			},
		},
		{
			input: `[] "job" = Project Manager~COUNT:`,
			want: Query{
				Where: WhereClause{
					Conditions: []Condition{{Column: "JOB", Operator: Equals, Value: "Project Manager"}},
				},
				Aggregate: &Aggregate{Function: AggregateCount},
			},
		},
		{
			input: `"JOB" =  `,
			want: Query{Where: WhereClause{
				Conditions: []Condition{{Column: "JOB", Operator: Equals, Value: ""}},
			}},
		},
		{
			input: `"title" >> 13 & "title" << 19 & "city" {} %RANGE:#[Ohio#Tokyo]`,
			want: Query{Where: WhereClause{
				Conditions: []Condition{
					{Column: "TITLE", Operator: LengthGreater, Value: "13"},
					{Column: "TITLE", Operator: LengthLess, Value: "19"},
					{Column: "CITY", Operator: InRange, Value: "%RANGE:#[Ohio#Tokyo]"},
				},
				LogicalOps: []LogicalOperator{LogicalAnd, LogicalAnd},
			}},
		},
	}

	for _, tt := range tests {
		selector := mustSearch(t, tt.input, Options{})
		if selector.Kind != SelectQuery {
			t.Errorf("%q: expected a query, got kind %d", tt.input, selector.Kind)
			continue
		}
		if !reflect.DeepEqual(*selector.Query, tt.want) {
			t.Errorf("%q:\n got  %+v\n want %+v", tt.input, *selector.Query, tt.want)
		}
	}
}

func TestParseSearchFallsBackToText(t *testing.T) {
	inputs := []string{
		"son",
		"1b5",
		"99|",
		`"size"=4|"size"=9`,
		`"size" => 4`,
		`![size  ] "size" > 4`,
		`[AGE]`,
		`"solving_time" != 4.047~LIMIT:1:AVG:SIZE`,
		`"size" = 4 ~NOPE`,
	}

	for _, input := range inputs {
		selector := mustSearch(t, input, Options{})
		if selector.Kind != SelectText {
			t.Errorf("%q: expected free text, got kind %d", input, selector.Kind)
		}
		if selector.Text != input {
			t.Errorf("%q: text = %q", input, selector.Text)
		}
	}
}

func TestParseSearchKinds(t *testing.T) {
	if got := mustSearch(t, "", Options{}); got.Kind != SelectAll {
		t.Errorf("empty search kind = %d", got.Kind)
	}
	if got := mustSearch(t, "[1-3]", Options{}); got.Kind != SelectPattern {
		t.Errorf("pattern search kind = %d", got.Kind)
	}
}

func TestParseSearchMaxConditions(t *testing.T) {
	input := `"a" = 1 & "b" = 2 | "c" = 3`

	unlimited := mustSearch(t, input, Options{})
	if n := len(unlimited.Query.Where.Conditions); n != 3 {
		t.Fatalf("expected 3 conditions, got %d", n)
	}

	capped := mustSearch(t, input, Options{MaxConditions: 2})
	conditions := capped.Query.Where.Conditions
	if len(conditions) != 2 {
		t.Fatalf("expected 2 conditions, got %d", len(conditions))
	}
	if conditions[1].Value != `2 | "c" = 3` {
		t.Errorf("folded value = %q", conditions[1].Value)
	}
}

func TestParseUpdate(t *testing.T) {
	stmt, err := ParseUpdate(`UPDATE:~"AGE"=%ADD:~45 "age"=%REPLACE:~R#1 "JOB"="Manager Assistant" "NAME"= ON "INDICE" = 8`, Options{})
	if err != nil {
		t.Fatalf("ParseUpdate failed: %v", err)
	}

	want := []Assignment{
		{Column: "AGE", Expr: Expr{Function: "ADD", Arg: "45"}},
		{Column: "AGE", Expr: Expr{Function: "REPLACE", Arg: "R#1"}},
		{Column: "JOB", Expr: Expr{Literal: `"Manager Assistant"`}},
		{Column: "NAME", Expr: Expr{Literal: ""}},
	}
	if !reflect.DeepEqual(stmt.Assignments, want) {
		t.Errorf("assignments:\n got  %+v\n want %+v", stmt.Assignments, want)
	}
	if stmt.On.Kind != SelectQuery || stmt.On.Query.Where.Conditions[0].Column != "INDICE" {
		t.Errorf("unexpected ON selector: %+v", stmt.On)
	}
}

func TestParseUpdateSelectors(t *testing.T) {
	stmt, err := ParseUpdate(`UPDATE:~"AGE"=%DIV:~USE:~SALARY ON [1-3-5]`, Options{})
	if err != nil {
		t.Fatalf("ParseUpdate failed: %v", err)
	}
	if stmt.On.Kind != SelectPattern {
		t.Errorf("expected pattern selector, got %d", stmt.On.Kind)
	}
	if col, ok := UseColumn(stmt.Assignments[0].Expr.Arg); !ok || col != "SALARY" {
		t.Errorf("UseColumn = %q, %v", col, ok)
	}

	stmt, err = ParseUpdate(`UPDATE:~"NAME"=%UPPER ON "AGE" > 3~COUNT:`, Options{})
	if err != nil {
		t.Fatalf("ParseUpdate failed: %v", err)
	}
	if stmt.On.Query.Aggregate != nil {
		t.Error("aggregate should be dropped from an ON clause")
	}

	stmt, err = ParseUpdate(`UPDATE:~"NAME"=%unknown ON son`, Options{})
	if err != nil {
		t.Fatalf("ParseUpdate failed: %v", err)
	}
	if !stmt.Assignments[0].Expr.IsLiteral() || stmt.On.Kind != SelectText {
		t.Errorf("unexpected statement: %+v", stmt)
	}

	stmt, err = ParseUpdate(`UPDATE:~"SALARY"=94.00 ON  `, Options{})
	if err != nil {
		t.Fatalf("ParseUpdate failed: %v", err)
	}
	if stmt.On.Kind != SelectAll {
		t.Errorf("expected an empty ON clause to select all, got %d", stmt.On.Kind)
	}
}

func TestParseUpdateMaxAssignments(t *testing.T) {
	stmt, err := ParseUpdate(`UPDATE:~"JOB"=Goddess "DATE"=2010-07-11 ON [1]`, Options{MaxAssignments: 1})
	if err != nil {
		t.Fatalf("ParseUpdate failed: %v", err)
	}
	if len(stmt.Assignments) != 1 || stmt.Assignments[0].Expr.Literal != `Goddess "DATE"=2010-07-11` {
		t.Errorf("unexpected assignments: %+v", stmt.Assignments)
	}
}

func TestParseUpdateErrors(t *testing.T) {
	inputs := []string{
		`UPDATE "JOB"= ON [1]`,
		`UPDATE:~`,
		`UPDATE:~"JOB" ON [1]`,
		`UPDATE:~"JOB"=x`,
	}
	for _, input := range inputs {
		if _, err := ParseUpdate(input, Options{}); !errors.Is(err, ErrSyntax) {
			t.Errorf("%q: expected ErrSyntax, got %v", input, err)
		}
	}
}

func TestParseDelete(t *testing.T) {
	stmt, err := ParseDelete("delete all", Options{})
	if err != nil || !stmt.All {
		t.Fatalf("delete all: %+v, %v", stmt, err)
	}

	stmt, err = ParseDelete("[2:4]", Options{})
	if err != nil || stmt.Selector.Kind != SelectPattern {
		t.Fatalf("pattern delete: %+v, %v", stmt, err)
	}

	stmt, err = ParseDelete(`DELETE ON "size" > 4~LIMIT:1`, Options{})
	if err != nil || stmt.Selector.Kind != SelectQuery {
		t.Fatalf("query delete: %+v, %v", stmt, err)
	}
	if stmt.Selector.Query.Aggregate != nil {
		t.Error("aggregate should be dropped from a delete")
	}

	stmt, err = ParseDelete("DELETE ON 99|", Options{})
	if err != nil || stmt.Selector.Kind != SelectText || stmt.Selector.Text != "99|" {
		t.Fatalf("text delete: %+v, %v", stmt, err)
	}

	for _, bad := range []string{"", "remove [1]", `DELETE ON["size" > 4]`, "DELETE ON ", "[:3]"} {
		if _, err := ParseDelete(bad, Options{}); !errors.Is(err, ErrInvalidDelete) {
			t.Errorf("%q: expected ErrInvalidDelete, got %v", bad, err)
		}
	}
}

func TestParseRange(t *testing.T) {
	members, err := ParseRange("%RANGE:#[Ohio#New York#Tokyo]")
	if err != nil {
		t.Fatalf("ParseRange failed: %v", err)
	}
	if !reflect.DeepEqual(members, []string{"Ohio", "New York", "Tokyo"}) {
		t.Errorf("members = %v", members)
	}

	members, err = ParseRange("%RANGE:,[1,2]")
	if err != nil || !reflect.DeepEqual(members, []string{"1", "2"}) {
		t.Errorf("comma range = %v, %v", members, err)
	}

	for _, bad := range []string{"Ohio", "%RANGE:", "%RANGE:#Ohio#Tokyo", "%RANGE:#[Ohio", "%RANGE:[a]"} {
		if _, err := ParseRange(bad); !errors.Is(err, ErrRangeLiteral) {
			t.Errorf("%q: expected ErrRangeLiteral, got %v", bad, err)
		}
	}
}

func TestParseDispatch(t *testing.T) {
	tests := []struct {
		input string
		want  StatementType
	}{
		{`UPDATE:~"A"=1 ON [1]`, UpdateStatementType},
		{"delete all", DeleteStatementType},
		{"DELETE ON son", DeleteStatementType},
		{"[1]", SearchStatementType},
		{`"a" = 1`, SearchStatementType},
	}
	for _, tt := range tests {
		stmt, err := Parse(tt.input, Options{})
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", tt.input, err)
		}
		if stmt.Type() != tt.want {
			t.Errorf("Parse(%q) type = %d, want %d", tt.input, stmt.Type(), tt.want)
		}
	}
}
