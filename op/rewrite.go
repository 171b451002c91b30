package op

import (
	"encoding/csv"
	"errors"
	"fmt"

	"github.com/go-git/go-billy/v6"
	"github.com/w4cha/csv-manager/core"
	"github.com/w4cha/csv-manager/ps"
)

var ErrRewriteClosed = errors.New("rewrite already committed or aborted")

// Rewrite streams a new version of a table into a temporary file. Rows are
// renumbered as they are written. Nothing reaches the table file until
// Commit; Abort removes the temporary file.
type Rewrite struct {
	op     *TableOp
	tmp    string
	file   billy.File
	writer *csv.Writer
	count  int
	closed bool
}

// BeginRewrite takes the table lock and opens a temporary file holding the
// header. It fails with ErrBusy while another change is in progress.
func (op *TableOp) BeginRewrite() (*Rewrite, error) {
	if !op.rewriting.TryLock() {
		return nil, ErrBusy
	}

	tmp := ps.TempName(op.Table.FileName())
	file, err := op.Persistence.Create(tmp)
	if err != nil {
		op.rewriting.Unlock()
		return nil, err
	}

	rw := &Rewrite{op: op, tmp: tmp, file: file, writer: op.newWriter(file)}
	if err := rw.writer.Write(op.Table.Header); err != nil {
		rw.Abort()
		return nil, err
	}
	return rw, nil
}

// Write appends row with its index field set to the next ordinal.
func (rw *Rewrite) Write(row core.Row) error {
	if rw.closed {
		return ErrRewriteClosed
	}
	out := row.Clone()
	rw.count++
	out[0] = core.IndexField(rw.count)
	return rw.writer.Write(out)
}

// Count is the number of rows written so far.
func (rw *Rewrite) Count() int {
	return rw.count
}

// Commit replaces the table file with the rewritten copy, re-derives the
// row count from it and records the change.
func (rw *Rewrite) Commit(message string) (ps.Transaction, error) {
	if rw.closed {
		return ps.Transaction{}, ErrRewriteClosed
	}
	op := rw.op

	rw.writer.Flush()
	if err := rw.writer.Error(); err != nil {
		rw.Abort()
		return ps.Transaction{}, err
	}
	if err := rw.file.Close(); err != nil {
		rw.file = nil
		rw.Abort()
		return ps.Transaction{}, err
	}
	rw.file = nil

	if err := op.Persistence.Rename(rw.tmp, op.Table.FileName()); err != nil {
		rw.Abort()
		return ps.Transaction{}, fmt.Errorf("failed to replace %s: %w", op.Table.FileName(), err)
	}
	rw.closed = true
	defer op.rewriting.Unlock()

	if err := op.Refresh(); err != nil {
		return ps.Transaction{}, err
	}
	op.logger.Debug("rewrite committed", "rows", op.rowCount)
	return op.Persistence.Record(op.Table.FileName(), op.Identity, message)
}

// Abort drops the temporary file and releases the table. It is safe to
// call more than once.
func (rw *Rewrite) Abort() {
	if rw.closed {
		return
	}
	rw.closed = true
	if rw.file != nil {
		rw.file.Close()
	}
	rw.op.Persistence.Remove(rw.tmp)
	rw.op.rewriting.Unlock()
	rw.op.logger.Debug("rewrite aborted")
}
