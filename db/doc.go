// Package db runs the query language against a table.
//
// An Engine wraps one op.TableOp. Searches, deletes and updates are lazy
// sequences: rows are read and produced only as the caller ranges over
// them.
//
// # Searching
//
//	engine := db.NewEngine(table)
//	for row, err := range engine.Search(`[NAME#AGE] "AGE" >= 30 & "CITY" [= new~MAX:AGE`) {
//	    if err != nil {
//	        // syntax errors, unknown columns, db.ErrLimitReached
//	    }
//	    fmt.Println(row)
//	}
//
// The first row is the projected header. Conditions combine strictly left
// to right. Values are compared as numbers, then as YYYY-MM-DD dates, then
// as text.
//
// # Deleting and updating
//
//	for line, err := range engine.Delete(`DELETE ON "AGE" < 18`) { ... }
//	for report, err := range engine.Update(`UPDATE:~"AGE"=%ADD:~1 ON [2:5]`, nil) { ... }
//
// Both stream the table into a temporary file and swap it in when the
// sequence is drained. Breaking out of the loop leaves the table as it
// was. Index fields are renumbered from [1] after every delete.
//
// # Execute
//
// Execute runs a statement to completion and returns a QueryResult or a
// CommitResult, which the CLI and the server render.
//
// # Import and export
//
// Import creates a table from a delimited file on disk, over HTTP or in S3.
// Export writes the rows of a search to disk or S3.
package db
