package op

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"github.com/w4cha/csv-manager/core"
	"github.com/w4cha/csv-manager/ps"
)

var (
	ErrTableNotFound = errors.New("table not found")
	ErrTableExists   = errors.New("table already exists")
	ErrCorruptTable  = errors.New("table file is malformed")
	ErrFieldCount    = errors.New("wrong number of values")
	ErrBusy          = errors.New("another change to this table is in progress")

	// Advisories: the write is refused and the table left untouched.
	ErrRowLimit    = errors.New("row limit reached")
	ErrColumnLimit = errors.New("column limit exceeded")
	ErrDuplicate   = errors.New("an entry with the same values already exists")
)

// TableOp is an open table file: its schema, its row count and the lock
// that keeps a single change in flight.
type TableOp struct {
	Table       core.Table
	Persistence *ps.Persistence
	Identity    core.Identity

	logger    *slog.Logger
	rowCount  int
	rewriting sync.Mutex
}

type Option func(*TableOp)

// WithDelimiter sets the field separator. The default is '|'.
func WithDelimiter(delimiter rune) Option {
	return func(op *TableOp) { op.Table.Delimiter = delimiter }
}

func WithLimits(limits core.Limits) Option {
	return func(op *TableOp) { op.Table.Limits = limits }
}

// WithIdentity sets the author recorded for changes made through the table.
func WithIdentity(identity core.Identity) Option {
	return func(op *TableOp) { op.Identity = identity }
}

func WithLogger(logger *slog.Logger) Option {
	return func(op *TableOp) { op.logger = logger }
}

func newTableOp(table core.Table, persistence *ps.Persistence, opts []Option) *TableOp {
	op := &TableOp{
		Table:       table,
		Persistence: persistence,
		logger:      slog.Default(),
	}
	if op.Table.Delimiter == 0 {
		op.Table.Delimiter = core.DefaultDelimiter
	}
	if op.Table.Limits == (core.Limits{}) {
		op.Table.Limits = core.DefaultLimits()
	}
	for _, opt := range opts {
		opt(op)
	}
	op.logger = op.logger.With("table", op.Table.Name)
	return op
}

// CreateTable writes a new table file holding only the header.
func CreateTable(table core.Table, persistence *ps.Persistence, opts ...Option) (*ps.Transaction, *TableOp, error) {
	op := newTableOp(table, persistence, opts)
	if err := op.Table.Validate(); err != nil {
		return nil, nil, err
	}
	if limit := op.Table.Limits.MaxColumns; limit > 0 && len(op.Table.Header) > limit {
		return nil, nil, fmt.Errorf("%w: %d columns, the maximum is %d", ErrColumnLimit, len(op.Table.Header), limit)
	}
	if persistence.Exists(op.Table.FileName()) {
		return nil, nil, fmt.Errorf("%w: %s", ErrTableExists, op.Table.Name)
	}

	var content strings.Builder
	writer := op.newWriter(&content)
	writer.Write(op.Table.Header)
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, nil, err
	}
	if err := persistence.WriteFile(op.Table.FileName(), []byte(content.String())); err != nil {
		return nil, nil, err
	}

	txn, err := persistence.Record(op.Table.FileName(), op.Identity, fmt.Sprintf("Creating table %s", op.Table.Name))
	if err != nil {
		return nil, nil, err
	}
	op.logger.Debug("table created", "columns", len(op.Table.Header))
	return &txn, op, nil
}

// GetTable opens an existing table file and reads its header.
func GetTable(name string, persistence *ps.Persistence, opts ...Option) (*TableOp, error) {
	if err := core.ValidateName(name); err != nil {
		return nil, err
	}
	op := newTableOp(core.Table{Name: name}, persistence, opts)
	if err := core.ValidateDelimiter(op.Table.Delimiter); err != nil {
		return nil, err
	}
	if err := op.Refresh(); err != nil {
		return nil, err
	}
	return op, nil
}

func (op *TableOp) newWriter(w io.Writer) *csv.Writer {
	writer := csv.NewWriter(w)
	writer.Comma = op.Table.Delimiter
	return writer
}

func (op *TableOp) newReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.Comma = op.Table.Delimiter
	return reader
}

func (op *TableOp) Name() string {
	return op.Table.Name
}

// Header returns a copy of the column names, index column first.
func (op *TableOp) Header() core.Row {
	return core.Row(op.Table.Header).Clone()
}

func (op *TableOp) RowCount() int {
	return op.rowCount
}

// Refresh re-reads the header and the row count from the table file.
func (op *TableOp) Refresh() error {
	file, err := op.Persistence.Open(op.Table.FileName())
	if errors.Is(err, ps.ErrFileNotFound) {
		return fmt.Errorf("%w: %s", ErrTableNotFound, op.Table.Name)
	}
	if err != nil {
		return err
	}
	defer file.Close()

	reader := op.newReader(file)
	header, err := reader.Read()
	if err == io.EOF {
		return fmt.Errorf("%w: %s has no header", ErrCorruptTable, op.Table.Name)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptTable, err)
	}

	count := 0
	for {
		_, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptTable, err)
		}
		count++
	}

	op.Table.Header = header
	op.rowCount = count
	return nil
}

// Scan yields the data rows in file order. Every row has exactly one field
// per header column; a row that does not ends the scan with an error.
func (op *TableOp) Scan() iter.Seq2[core.Row, error] {
	return func(yield func(core.Row, error) bool) {
		file, err := op.Persistence.Open(op.Table.FileName())
		if err != nil {
			yield(nil, err)
			return
		}
		defer file.Close()

		reader := op.newReader(file)
		if _, err := reader.Read(); err != nil {
			if err != io.EOF {
				yield(nil, fmt.Errorf("%w: %v", ErrCorruptTable, err))
			}
			return
		}

		for {
			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("%w: %v", ErrCorruptTable, err))
				return
			}
			if !yield(core.Row(record), nil) {
				return
			}
		}
	}
}

// Append writes a new row after the last one. values holds one value per
// non-index column, in header order.
func (op *TableOp) Append(values ...string) (core.Row, error) {
	if !op.rewriting.TryLock() {
		return nil, ErrBusy
	}
	defer op.rewriting.Unlock()

	return op.append(values)
}

// AppendUnique appends unless a row already holds the same values in every
// column listed.
func (op *TableOp) AppendUnique(columns []string, values ...string) (core.Row, error) {
	if !op.rewriting.TryLock() {
		return nil, ErrBusy
	}
	defer op.rewriting.Unlock()

	if len(values) != len(op.Table.Header)-1 {
		return nil, op.fieldCountError(len(values))
	}

	positions := make([]int, 0, len(columns))
	for _, column := range columns {
		i, ok := op.Table.ColumnIndex(column)
		if !ok || i == 0 {
			return nil, fmt.Errorf("%w: %q", core.ErrInvalidColumn, column)
		}
		positions = append(positions, i)
	}

	if len(positions) > 0 {
		for row, err := range op.Scan() {
			if err != nil {
				return nil, err
			}
			same := true
			for _, i := range positions {
				if row[i] != values[i-1] {
					same = false
					break
				}
			}
			if same {
				return row, fmt.Errorf("%w: %s", ErrDuplicate, row.Join(op.Table.Delimiter))
			}
		}
	}

	return op.append(values)
}

// AppendRecord appends the values of record in header order. Keys are
// matched ignoring case; keys outside the header are ignored and missing
// columns are left empty.
func (op *TableOp) AppendRecord(record map[string]string) (core.Row, error) {
	values := make([]string, len(op.Table.Header)-1)
	for key, value := range record {
		if i, ok := op.Table.ColumnIndex(key); ok && i > 0 {
			values[i-1] = value
		}
	}
	return op.Append(values...)
}

func (op *TableOp) fieldCountError(got int) error {
	return fmt.Errorf("%w: got %d, %s expects %d (%s)", ErrFieldCount, got, op.Table.Name,
		len(op.Table.Header)-1, strings.Join(op.Table.Header[1:], string(op.Table.Delimiter)))
}

func (op *TableOp) append(values []string) (core.Row, error) {
	limits := op.Table.Limits
	if limits.MaxColumns > 0 && len(op.Table.Header) > limits.MaxColumns {
		return nil, fmt.Errorf("%w: %s has %d columns, the maximum is %d", ErrColumnLimit, op.Table.Name, len(op.Table.Header), limits.MaxColumns)
	}
	if limits.MaxRows > 0 && op.rowCount >= limits.MaxRows {
		return nil, fmt.Errorf("%w: %s already holds %d rows, only reads and deletes are accepted", ErrRowLimit, op.Table.Name, op.rowCount)
	}
	if len(values) != len(op.Table.Header)-1 {
		return nil, op.fieldCountError(len(values))
	}

	row := make(core.Row, 0, len(op.Table.Header))
	row = append(row, core.IndexField(op.rowCount+1))
	row = append(row, values...)

	file, err := op.Persistence.OpenAppend(op.Table.FileName())
	if err != nil {
		return nil, err
	}
	writer := op.newWriter(file)
	writer.Write(row)
	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return nil, err
	}
	if err := file.Close(); err != nil {
		return nil, err
	}
	op.rowCount++

	if _, err := op.Persistence.Record(op.Table.FileName(), op.Identity, fmt.Sprintf("Appending %s to %s", row[0], op.Table.Name)); err != nil {
		return row, err
	}
	return row, nil
}

// DropTable removes the table file.
func (op *TableOp) DropTable() (ps.Transaction, error) {
	if !op.rewriting.TryLock() {
		return ps.Transaction{}, ErrBusy
	}
	defer op.rewriting.Unlock()

	if err := op.Persistence.Remove(op.Table.FileName()); err != nil {
		return ps.Transaction{}, fmt.Errorf("%w: %s", ErrTableNotFound, op.Table.Name)
	}
	op.rowCount = 0
	op.logger.Debug("table dropped")
	return op.Persistence.Forget(op.Table.FileName(), op.Identity, fmt.Sprintf("Dropping table %s", op.Table.Name))
}

// History lists the transactions that changed the table, newest first.
func (op *TableOp) History() ([]ps.Transaction, error) {
	return op.Persistence.Versions(op.Table.FileName())
}

// Restore rewrites the table to its content as of asof.
func (op *TableOp) Restore(asof ps.Transaction) (ps.Transaction, error) {
	if !op.rewriting.TryLock() {
		return ps.Transaction{}, ErrBusy
	}
	defer op.rewriting.Unlock()

	txn, err := op.Persistence.Restore(op.Table.FileName(), asof, op.Identity)
	if err != nil {
		return ps.Transaction{}, err
	}
	if err := op.Refresh(); err != nil {
		return txn, err
	}
	op.logger.Info("table restored", "asof", asof.ShortId(), "rows", op.rowCount)
	return txn, nil
}
