package db

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/w4cha/csv-manager/core"
	"github.com/w4cha/csv-manager/op"
	"github.com/w4cha/csv-manager/query"
)

const (
	// StatusAll confirms that "delete all" removed every row.
	StatusAll = "all"
	// StatusNothing reports a delete that found no row to remove.
	StatusNothing = "nothing"
)

var (
	ErrLimitReached      = errors.New("limit reached")
	ErrNoMatchingOrdinal = errors.New("none of the requested indexes exist")
	ErrIndexUpdate       = errors.New("the index column cannot be updated")
	ErrColumnNotSelected = errors.New("the updated column must be part of the ON selection")
	ErrNoTargets         = errors.New("no rows to update")
)

// Engine runs searches, deletes and updates against one table.
type Engine struct {
	table   *op.TableOp
	logger  *slog.Logger
	options query.Options
	s3      *S3Config
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(engine *Engine) { engine.logger = logger }
}

// WithQueryOptions sets the compatibility switches of the parser.
func WithQueryOptions(options query.Options) Option {
	return func(engine *Engine) { engine.options = options }
}

// WithS3 sets the credentials used by Export for s3:// destinations.
func WithS3(cfg *S3Config) Option {
	return func(engine *Engine) { engine.s3 = cfg }
}

func NewEngine(table *op.TableOp, opts ...Option) *Engine {
	engine := &Engine{
		table:  table,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(engine)
	}
	engine.logger = engine.logger.With("table", table.Name())
	return engine
}

func (engine *Engine) Table() *op.TableOp {
	return engine.table
}

type rowKind int

const (
	headerRow rowKind = iota
	dataRow
	summaryRow
)

// Search streams the rows selected by text. The projected header comes
// first, except for an empty text which streams every stored row as is.
// Summary rows of an aggregate follow the matching rows. A query error or
// ErrLimitReached ends the sequence.
func (engine *Engine) Search(text string) iter.Seq2[core.Row, error] {
	return func(yield func(core.Row, error) bool) {
		stmt, err := query.ParseSearch(text, engine.options)
		if err != nil {
			yield(nil, err)
			return
		}
		_, err = engine.search(stmt, func(row core.Row, _ rowKind) bool {
			return yield(row, nil)
		})
		if err != nil {
			yield(nil, err)
		}
	}
}

// search runs stmt and hands every produced row to emit. It returns the
// number of rows scanned. When emit returns false the scan stops and the
// error is nil.
func (engine *Engine) search(stmt query.SearchStatement, emit func(core.Row, rowKind) bool) (int, error) {
	table := engine.table
	p := newPlan(stmt.Selector, table.Header(), table.Table.Delimiter, table.RowCount())

	if stmt.Selector.Kind != query.SelectAll {
		if !emit(p.Header(), headerRow) {
			return 0, nil
		}
	}
	if err := p.compile(); err != nil {
		return 0, err
	}

	var aggregate *query.Aggregate
	if stmt.Selector.Query != nil {
		aggregate = stmt.Selector.Query.Aggregate
	}
	acc := newAccumulator(aggregate, p.Header())
	limit := limitCounter(aggregate)

	scanned := 0
	for row, err := range table.Scan() {
		if err != nil {
			return scanned, err
		}
		scanned++
		if !p.matches(scanned, row) {
			continue
		}
		out := p.project(row)

		if limit > 0 {
			limit--
			if limit == 0 {
				return scanned, ErrLimitReached
			}
		}
		if acc != nil && !acc.add(out) {
			continue
		}
		if !emit(out, dataRow) {
			return scanned, nil
		}
	}

	if acc != nil {
		kind := summaryRow
		if aggregate.Function == query.AggregateAsc || aggregate.Function == query.AggregateDesc {
			kind = dataRow
		}
		for _, row := range acc.finish() {
			if !emit(row, kind) {
				return scanned, nil
			}
		}
	}
	return scanned, nil
}

// Delete removes rows selected by "delete all", an index pattern or
// "DELETE ON <query>". Each removed row is yielded joined by the table
// delimiter; the change is committed once the sequence is drained.
// Stopping early leaves the table untouched.
func (engine *Engine) Delete(text string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stmt, err := query.ParseDelete(text, engine.options)
		if err != nil {
			yield("", err)
			return
		}
		if _, err := engine.delete(stmt, yield); err != nil {
			yield("", err)
		}
	}
}

func (engine *Engine) delete(stmt query.DeleteStatement, yield func(string, error) bool) (int, error) {
	table := engine.table
	var p *plan
	if !stmt.All && stmt.Selector.Kind == query.SelectPattern {
		p = newPlan(stmt.Selector, table.Header(), table.Table.Delimiter, table.RowCount())
		if err := p.compile(); err != nil {
			return 0, err
		}
		// an empty resolution is an error even on an empty table
		if len(p.ordinals) == 0 {
			return 0, ErrNoMatchingOrdinal
		}
	}
	if table.RowCount() == 0 {
		yield(StatusNothing, nil)
		return 0, nil
	}
	if !stmt.All && p == nil {
		p = newPlan(stmt.Selector, table.Header(), table.Table.Delimiter, table.RowCount())
		if err := p.compile(); err != nil {
			return 0, err
		}
	}

	rw, err := table.BeginRewrite()
	if err != nil {
		return 0, err
	}
	defer rw.Abort()

	deleted, k := 0, 0
	for row, err := range table.Scan() {
		if err != nil {
			return deleted, err
		}
		k++
		if stmt.All || p.matches(k, row) {
			deleted++
			if !stmt.All && !yield(row.Join(table.Table.Delimiter), nil) {
				return deleted, nil
			}
			continue
		}
		if err := rw.Write(row); err != nil {
			return deleted, err
		}
	}

	if deleted == 0 {
		rw.Abort()
		yield(StatusNothing, nil)
		return 0, nil
	}

	txn, err := rw.Commit(fmt.Sprintf("Deleting %d rows from %s", deleted, table.Name()))
	if err != nil {
		return deleted, err
	}
	engine.logger.Info("rows deleted", "rows", deleted, "remaining", table.RowCount(), "transaction", txn.ShortId())

	if stmt.All {
		yield(StatusAll, nil)
	}
	return deleted, nil
}

// Update applies the assignments of an UPDATE:~ statement to the rows
// selected by its ON clause and yields one report per selected row. The
// change is committed once the sequence is drained. mapping feeds
// %MAP-VALUE and may be nil.
func (engine *Engine) Update(text string, mapping map[string]string) iter.Seq2[UpdateReport, error] {
	return func(yield func(UpdateReport, error) bool) {
		stmt, err := query.ParseUpdate(text, engine.options)
		if err != nil {
			yield(UpdateReport{}, err)
			return
		}
		if _, err := engine.update(stmt, mapping, yield); err != nil {
			yield(UpdateReport{}, err)
		}
	}
}

func (engine *Engine) update(stmt query.UpdateStatement, mapping map[string]string, yield func(UpdateReport, error) bool) (int, error) {
	table := engine.table
	header := table.Header()

	p := newPlan(stmt.On, header, table.Table.Delimiter, table.RowCount())
	if err := p.compile(); err != nil {
		return 0, err
	}
	selected := p.columns
	if stmt.On.Kind == query.SelectAll {
		// like an empty search, no header and so no columns
		selected = nil
	}
	u, err := newUpdater(stmt.Assignments, header, selected, mapping)
	if err != nil {
		return 0, err
	}

	rw, err := table.BeginRewrite()
	if err != nil {
		return 0, err
	}
	defer rw.Abort()

	updated, k := 0, 0
	for row, err := range table.Scan() {
		if err != nil {
			return updated, err
		}
		k++
		if !p.matches(k, row) {
			if err := rw.Write(row); err != nil {
				return updated, err
			}
			continue
		}

		out, report := u.apply(row)
		if err := rw.Write(out); err != nil {
			return updated, err
		}
		updated++
		if !yield(report, nil) {
			return updated, nil
		}
	}

	if updated == 0 {
		return 0, ErrNoTargets
	}

	txn, err := rw.Commit(fmt.Sprintf("Updating %d rows in %s", updated, table.Name()))
	if err != nil {
		return updated, err
	}
	engine.logger.Info("rows updated", "rows", updated, "transaction", txn.ShortId())
	return updated, nil
}

// Execute runs a search, delete or update statement to completion and
// collects the outcome. Index patterns are searched; use Delete to remove
// rows by pattern.
func (engine *Engine) Execute(text string) (Result, error) {
	statement, err := query.Parse(text, engine.options)
	if err != nil {
		return nil, err
	}

	switch statement.Type() {
	case query.SearchStatementType:
		return engine.executeSearch(statement.(query.SearchStatement))
	case query.DeleteStatementType:
		return engine.executeDelete(statement.(query.DeleteStatement))
	case query.UpdateStatementType:
		return engine.executeUpdate(statement.(query.UpdateStatement), nil)
	default:
		return nil, fmt.Errorf("%w: unsupported statement", query.ErrSyntax)
	}
}

// ExecuteSearch collects a search statement. Unlike Execute it never
// mutates the table.
func (engine *Engine) ExecuteSearch(text string) (QueryResult, error) {
	stmt, err := query.ParseSearch(text, engine.options)
	if err != nil {
		return QueryResult{}, err
	}
	return engine.executeSearch(stmt)
}

// ExecuteDelete runs a delete statement, index patterns included.
func (engine *Engine) ExecuteDelete(text string) (CommitResult, error) {
	stmt, err := query.ParseDelete(text, engine.options)
	if err != nil {
		return CommitResult{}, err
	}
	return engine.executeDelete(stmt)
}

// ExecuteUpdate runs an update statement; mapping feeds %MAP-VALUE.
func (engine *Engine) ExecuteUpdate(text string, mapping map[string]string) (CommitResult, error) {
	stmt, err := query.ParseUpdate(text, engine.options)
	if err != nil {
		return CommitResult{}, err
	}
	return engine.executeUpdate(stmt, mapping)
}

func (engine *Engine) executeSearch(stmt query.SearchStatement) (QueryResult, error) {
	startTime := time.Now()

	var result QueryResult
	scanned, err := engine.search(stmt, func(row core.Row, kind rowKind) bool {
		switch kind {
		case headerRow:
			result.Columns = []string(row)
		case summaryRow:
			result.Summary = append(result.Summary, []string(row))
		default:
			result.Data = append(result.Data, []string(row))
		}
		return true
	})
	if errors.Is(err, ErrLimitReached) {
		result.LimitReached = true
		err = nil
	}
	if err != nil {
		return QueryResult{}, err
	}

	if result.Columns == nil {
		result.Columns = []string(engine.table.Header())
	}
	result.Transaction = engine.table.Persistence.LatestTransaction()
	result.RecordsRead = len(result.Data)
	result.ExecutionTimeSec = time.Since(startTime).Seconds()
	result.ExecutionOps = scanned
	return result, nil
}

func (engine *Engine) executeDelete(stmt query.DeleteStatement) (CommitResult, error) {
	startTime := time.Now()
	scanned := engine.table.RowCount()

	var result CommitResult
	deleted, err := engine.delete(stmt, func(line string, _ error) bool {
		switch line {
		case StatusAll, StatusNothing:
			result.Status = line
		default:
			result.Deleted = append(result.Deleted, line)
		}
		return true
	})
	if err != nil {
		return CommitResult{}, err
	}

	result.Transaction = engine.table.Persistence.LatestTransaction()
	result.RecordsDeleted = deleted
	result.ExecutionTimeSec = time.Since(startTime).Seconds()
	result.ExecutionOps = scanned
	return result, nil
}

func (engine *Engine) executeUpdate(stmt query.UpdateStatement, mapping map[string]string) (CommitResult, error) {
	startTime := time.Now()

	var result CommitResult
	updated, err := engine.update(stmt, mapping, func(report UpdateReport, _ error) bool {
		result.Updates = append(result.Updates, report)
		return true
	})
	if err != nil {
		return CommitResult{}, err
	}

	result.Transaction = engine.table.Persistence.LatestTransaction()
	result.RecordsUpdated = updated
	result.ExecutionTimeSec = time.Since(startTime).Seconds()
	result.ExecutionOps = engine.table.RowCount()
	return result, nil
}
