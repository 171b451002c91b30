// Package query parses the csv-manager query language.
//
// A search is one of: an empty string (every row), an index pattern, a
// query, or free text. Free text is anything that does not follow the
// query grammar and matches rows containing it.
//
// # Index Patterns
//
//	[3]         row 3
//	[2:5]       rows 2 to 5 (operands may be given in any order)
//	[4:]        row 4 to the last row
//	[1-7-3]     rows 1, 3 and 7 (at most 10 operands)
//
// # Queries
//
//	[NAME#AGE] "AGE" >= 30 & "CITY" [] york | "JOB" = Intern~COUNT:
//
// The optional projection keeps the listed columns; prefix it with '!' to
// drop them instead. The index column is always kept. Conditions are
// joined by & and | and evaluated left to right without precedence.
//
// Operators:
//   - = != > >= < <=   compare as float, then date, then text
//   - [= ]=            starts with / ends with (case-insensitive)
//   - [] ][            contains / does not contain (case-insensitive)
//   - <> ><            length equal / not equal
//   - >> <<            length greater / less
//   - {} }{            value in / not in %RANGE:#[a#b#c]
//
// Aggregates: ~COUNT, ~LIMIT:n, ~SUM:COL, ~AVG:COL, ~MIN:COL, ~MAX:COL,
// ~UNIQUE:COL, ~ASC:COL, ~DESC:COL.
//
// # Updates
//
//	UPDATE:~"AGE"=%ADD:~1 "NAME"=%UPPER ON "CITY" = Ohio
//
// The same column may be assigned several times; assignments run in the
// order written. See FunctionNames for the % functions.
//
// # Deletes
//
//	delete all
//	[2:4]
//	DELETE ON "AGE" < 18
package query
