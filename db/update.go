package db

import (
	"fmt"
	"slices"

	"github.com/w4cha/csv-manager/core"
	"github.com/w4cha/csv-manager/query"
)

// NothingUpdated replaces the fields of a report whose row kept every
// value because all of its operations failed.
const NothingUpdated = "nothing updated, every operation on the row failed"

// UpdateReport describes one selected row after an update. Errors and Old
// hold an entry for every assigned column: the messages of the operations
// that failed and the values replaced by the ones that succeeded, in
// order.
type UpdateReport struct {
	Result core.Row            `json:"result"`
	Errors map[string][]string `json:"errors"`
	Old    map[string][]string `json:"old"`
}

// Failed counts the failed operations of the row.
func (report UpdateReport) Failed() int {
	n := 0
	for _, messages := range report.Errors {
		n += len(messages)
	}
	return n
}

type updater struct {
	header      core.Row
	assignments []query.Assignment
	positions   []int
	mapping     map[string]string
}

// newUpdater binds the assignments to the header. selected holds the
// positions of the columns the ON clause projects.
func newUpdater(assignments []query.Assignment, header core.Row, selected []int, mapping map[string]string) (*updater, error) {
	u := &updater{header: header, assignments: assignments, mapping: mapping}

	for _, a := range assignments {
		if i, ok := core.ColumnIndex(header, a.Column); ok && i == 0 {
			return nil, fmt.Errorf("%w: %s", ErrIndexUpdate, header[0])
		}
	}
	for _, a := range assignments {
		i, ok := core.ColumnIndex(header, a.Column)
		if !ok || !slices.Contains(selected, i) {
			return nil, fmt.Errorf("%w: %s", ErrColumnNotSelected, a.Column)
		}
		u.positions = append(u.positions, i)
	}
	return u, nil
}

// apply folds the assignments over row in the order they were written.
// Each one sees the result of the previous ones.
func (u *updater) apply(row core.Row) (core.Row, UpdateReport) {
	out := row.Clone()
	report := UpdateReport{
		Errors: make(map[string][]string, len(u.assignments)),
		Old:    make(map[string][]string, len(u.assignments)),
	}
	for _, i := range u.positions {
		report.Errors[u.header[i]] = []string{}
		report.Old[u.header[i]] = []string{}
	}

	failed := 0
	for n, a := range u.assignments {
		i := u.positions[n]
		name := u.header[i]

		value, err := evaluate(callContext{header: u.header, row: out, mapping: u.mapping}, a.Expr, out[i])
		if err != nil {
			report.Errors[name] = append(report.Errors[name], fmt.Sprintf("%v, row %s not updated", err, row[0]))
			failed++
			continue
		}
		report.Old[name] = append(report.Old[name], out[i])
		out[i] = value
	}

	report.Result = out
	if failed == len(u.assignments) {
		report.Result = core.Row{row[0], NothingUpdated}
	}
	return out, report
}
