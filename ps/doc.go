// Package ps provides the persistence layer for csv-manager.
//
// Table files live in a go-billy filesystem: osfs for a data directory on
// disk, memfs for ephemeral instances. Rewrites go to a hidden temporary
// file that is renamed over the table file once complete.
//
// # History
//
// When history is enabled the data directory doubles as the worktree of a
// go-git repository. Record commits the current content of a table file
// directly through the object store, so every append, rewrite, rename and
// drop leaves a transaction behind:
//
//	persistence, err := ps.NewFilePersistence("/path/to/data", true)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	txn, _ := persistence.Record("people.csv", identity, "Appending row 4")
//	versions, _ := persistence.Versions("people.csv")
//	data, _ := persistence.ReadAt("people.csv", versions[1].Id)
//
// Memory persistence always keeps history:
//
//	persistence, err := ps.NewMemoryPersistence()
package ps
