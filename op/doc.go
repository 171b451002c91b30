// Package op provides table level operations on top of the persistence
// layer.
//
// The op package sits between the query engine (db/) and the persistence
// layer (ps/).
//
// # TableOp
//
// TableOp is an open table file. It knows the delimiter, the header, the
// row count and the row/column limits:
//
//	table, err := op.GetTable("people", persistence, op.WithIdentity(identity))
//
//	row, err := table.Append("Ana", "32")          // [4]|Ana|32
//	row, err = table.AppendUnique([]string{"NAME"}, "Ana", "40")
//	if errors.Is(err, op.ErrDuplicate) { ... }
//
//	for row, err := range table.Scan() {
//	    // data rows in file order
//	}
//
// # Rewrites
//
// Deletes and updates stream the surviving rows into a temporary file and
// swap it in on commit. Only one change per table runs at a time:
//
//	rw, err := table.BeginRewrite()
//	for row, _ := range table.Scan() {
//	    rw.Write(row) // renumbered [1], [2], ...
//	}
//	txn, err := rw.Commit("Deleting rows")
//
// # Catalog
//
// Catalog lists, creates, renames and drops the tables of a data directory:
//
//	catalog := op.NewCatalog(persistence, op.WithIdentity(identity))
//	names, _ := catalog.TableNames()
//	catalog.DropTables(op.DropAll)
//
// # Architecture
//
// The layering is:
//
//	Query parser (query/)
//	     ↓
//	Engine (db/)
//	     ↓
//	Operations (op/)     ← This package
//	     ↓
//	Persistence (ps/)
//	     ↓
//	go-billy files + go-git history
package op
