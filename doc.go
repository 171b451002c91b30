// Package csvmanager stores tables as delimited text files and queries them
// with a small text language.
//
// Every table is one file: a header line whose first column is the index
// column, then one line per row whose first field is the row ordinal in
// brackets ([1], [2], ...). Changes are written to a temporary file and
// renamed over the table, and with history enabled each change is a commit
// in a git repository next to the files.
//
// # Quick Start
//
//	persistence, _ := ps.NewMemoryPersistence()
//	instance := csvmanager.Open(persistence)
//	table, _ := instance.CreateTable("people", "INDICE", []string{"name", "age"}, nil)
//	table.Append("Alice", "34")
//
//	engine, _ := instance.Engine("people")
//	for row, err := range engine.Search(`"AGE" >= 30~MAX:AGE`) {
//	    ...
//	}
//
// # Query language
//
//   - [2], [2:5], [3:], [1-4-7] select rows by ordinal
//   - [NAME#AGE] and ![CITY] project columns
//   - "COL" OP value joined with & and |, evaluated left to right
//   - ~COUNT, ~SUM:COL, ~AVG:COL, ~MIN:COL, ~MAX:COL, ~UNIQUE:COL,
//     ~ASC:COL, ~DESC:COL and ~LIMIT:n
//   - DELETE ON <query>, delete all
//   - UPDATE:~"COL"=value "COL"=%FUNC:~arg ON <selection>
//
// Anything else is searched as free text.
package csvmanager
