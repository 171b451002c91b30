package db

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/w4cha/csv-manager/core"
	"github.com/w4cha/csv-manager/op"
	"github.com/w4cha/csv-manager/ps"
	"github.com/w4cha/csv-manager/query"
)

// Column is a column added by an import, filled with Default.
type Column struct {
	Name    string
	Default string
}

type ImportOptions struct {
	// Name of the new table.
	Name string
	// Delimiter of the source file, ',' when zero.
	Delimiter rune
	// IndexColumn names the index column of the new table.
	IndexColumn string
	// IDPresent drops the first source column, an index of its own.
	IDPresent bool
	// Exclude lists source columns to leave out. A leading "!" keeps only
	// the listed ones instead.
	Exclude []string
	// Extra columns appended after the source columns.
	Extra []Column
	S3    *S3Config

	TableOptions []op.Option
	Logger       *slog.Logger
}

// Import reads a delimited file from a local path, file://, http(s):// or
// s3:// and stores it as a new table with fresh index fields.
func Import(ctx context.Context, persistence *ps.Persistence, src string, opts ImportOptions) (*op.TableOp, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delimiter := opts.Delimiter
	if delimiter == 0 {
		delimiter = ','
	}
	index := opts.IndexColumn
	if index == "" {
		index = core.DefaultIndexColumn
	}

	source, err := openReader(ctx, src, opts.S3)
	if err != nil {
		return nil, err
	}
	defer source.Close()

	reader := csv.NewReader(source)
	reader.Comma = delimiter
	fields, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: %s is empty", core.ErrEmptyHeader, src)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", src, err)
	}
	if opts.IDPresent {
		fields = fields[1:]
	}

	header, err := core.DeriveHeader(index, fields, opts.Exclude)
	if err != nil {
		return nil, err
	}
	positions := sourcePositions(header, fields, opts.IDPresent)
	defaults := make([]string, 0, len(opts.Extra))
	for _, extra := range opts.Extra {
		header = append(header, strings.ToUpper(strings.TrimSpace(extra.Name)))
		defaults = append(defaults, extra.Default)
	}

	_, table, err := op.CreateTable(core.Table{Name: opts.Name, Header: header}, persistence, opts.TableOptions...)
	if err != nil {
		return nil, err
	}

	if err := fill(ctx, table, reader, positions, defaults); err != nil {
		if _, dropErr := table.DropTable(); dropErr != nil {
			logger.Warn("failed to drop partial import", "table", opts.Name, "error", dropErr)
		}
		return nil, err
	}
	logger.Info("table imported", "table", opts.Name, "source", src, "rows", table.RowCount())
	return table, nil
}

// sourcePositions maps every derived column after the index to its
// position in a source record.
func sourcePositions(header []string, fields []string, skipFirst bool) []int {
	offset := 0
	if skipFirst {
		offset = 1
	}
	byName := make(map[string]int, len(fields))
	for i, field := range fields {
		byName[strings.ToUpper(strings.TrimSpace(field))] = i + offset
	}
	positions := make([]int, 0, len(header)-1)
	for _, column := range header[1:] {
		positions = append(positions, byName[column])
	}
	return positions
}

func fill(ctx context.Context, table *op.TableOp, reader *csv.Reader, positions []int, defaults []string) error {
	rw, err := table.BeginRewrite()
	if err != nil {
		return err
	}
	defer rw.Abort()

	limit := table.Table.Limits.MaxRows
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read row %d: %w", rw.Count()+1, err)
		}
		if limit > 0 && rw.Count() >= limit {
			return fmt.Errorf("%w: the source holds more than %d rows", op.ErrRowLimit, limit)
		}

		row := make(core.Row, 1, len(positions)+len(defaults)+1)
		for _, i := range positions {
			row = append(row, record[i])
		}
		row = append(row, defaults...)
		if err := rw.Write(row); err != nil {
			return err
		}
	}

	_, err = rw.Commit(fmt.Sprintf("Importing %d rows into %s", rw.Count(), table.Name()))
	return err
}

// Export writes the header and the rows selected by text to dst, a local
// path, file:// or s3:// URL. Summary rows of an aggregate are left out.
// It returns the number of rows written.
func (engine *Engine) Export(ctx context.Context, dst, text string) (int, error) {
	stmt, err := query.ParseSearch(text, engine.options)
	if err != nil {
		return 0, err
	}

	out, err := openWriter(ctx, dst, engine.s3)
	if err != nil {
		return 0, err
	}

	writer := csv.NewWriter(out)
	writer.Comma = engine.table.Table.Delimiter
	if stmt.Selector.Kind == query.SelectAll {
		writer.Write(engine.table.Header())
	}

	written := 0
	_, err = engine.search(stmt, func(row core.Row, kind rowKind) bool {
		if ctx.Err() != nil || kind == summaryRow {
			return ctx.Err() == nil
		}
		if writer.Write(row) != nil {
			return false
		}
		if kind == dataRow {
			written++
		}
		return true
	})
	if errors.Is(err, ErrLimitReached) {
		err = nil
	}
	if err == nil {
		err = ctx.Err()
	}
	writer.Flush()
	if err == nil {
		err = writer.Error()
	}

	closeErr := out.Close()
	if err != nil {
		return written, err
	}
	if closeErr != nil {
		return written, closeErr
	}
	engine.logger.Info("rows exported", "destination", dst, "rows", written)
	return written, nil
}
