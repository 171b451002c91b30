package db

import (
	"fmt"
	"io"
	"strings"

	"github.com/w4cha/csv-manager/ps"
)

type ResultType int

const (
	QueryResultType ResultType = iota
	CommitResultType
)

type Result interface {
	Type() ResultType
	Display(w io.Writer)
}

type QueryResult struct {
	Transaction      ps.Transaction
	Columns          []string
	Data             [][]string
	Summary          [][]string
	LimitReached     bool
	RecordsRead      int
	ExecutionTimeSec float64
	ExecutionOps     int
}

type CommitResult struct {
	Transaction      ps.Transaction
	Status           string
	Deleted          []string
	Updates          []UpdateReport
	RecordsWritten   int
	RecordsUpdated   int
	RecordsDeleted   int
	ExecutionTimeSec float64
	ExecutionOps     int
}

func (result QueryResult) Type() ResultType {
	return QueryResultType
}

func (result CommitResult) Type() ResultType {
	return CommitResultType
}

// formatDuration formats a duration in human-readable form
func formatDuration(secs float64) string {
	if secs < 0.001 {
		return "<1ms"
	} else if secs < 0.01 {
		return fmt.Sprintf("%dms", int(secs*1000))
	} else if secs < 1 {
		ms := secs * 1000
		if ms < 10 {
			return fmt.Sprintf("%.1fms", ms)
		}
		return fmt.Sprintf("%dms", int(ms))
	} else if secs < 60 {
		if secs < 10 {
			return fmt.Sprintf("%.1fs", secs)
		}
		return fmt.Sprintf("%ds", int(secs))
	} else {
		mins := int(secs / 60)
		remainSecs := int(secs) % 60
		if remainSecs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm%ds", mins, remainSecs)
	}
}

// throughput renders rows per second as ", 1.2K rows/s", or "" when it
// cannot be computed.
func throughput(secs float64, ops int) string {
	if secs <= 0 || ops <= 0 {
		return ""
	}
	rate := float64(ops) / secs
	switch {
	case rate >= 1000000:
		return fmt.Sprintf(", %.1fM rows/s", rate/1000000)
	case rate >= 1000:
		return fmt.Sprintf(", %.1fK rows/s", rate/1000)
	default:
		return fmt.Sprintf(", %.0f rows/s", rate)
	}
}

func (result QueryResult) ExecutionTime() string {
	return formatDuration(result.ExecutionTimeSec)
}

func (result CommitResult) ExecutionTime() string {
	return formatDuration(result.ExecutionTimeSec)
}

func (result QueryResult) Display(w io.Writer) {
	grid := NewTable(w)
	if len(result.Data) > 0 {
		grid.Header(result.Columns)
		grid.Bulk(result.Data)
	}
	grid.Summary(result.Summary...)
	grid.Render()

	limit := ""
	if result.LimitReached {
		limit = ", limit reached"
	}
	fmt.Fprintf(w, "%d rows (%s%s%s)\n", result.RecordsRead, result.ExecutionTime(), throughput(result.ExecutionTimeSec, result.ExecutionOps), limit)
}

func (result CommitResult) Display(w io.Writer) {
	var parts []string

	if result.RecordsWritten > 0 {
		parts = append(parts, fmt.Sprintf("%d record(s) written", result.RecordsWritten))
	}
	if result.RecordsUpdated > 0 {
		parts = append(parts, fmt.Sprintf("%d record(s) updated", result.RecordsUpdated))
	}
	if result.RecordsDeleted > 0 {
		parts = append(parts, fmt.Sprintf("%d record(s) deleted", result.RecordsDeleted))
	}
	if result.Status == StatusNothing {
		parts = append(parts, "nothing to delete")
	}

	failed := 0
	for _, report := range result.Updates {
		for _, messages := range report.Errors {
			for _, message := range messages {
				fmt.Fprintln(w, message)
			}
		}
		failed += report.Failed()
	}
	if failed > 0 {
		parts = append(parts, fmt.Sprintf("%d operation(s) failed", failed))
	}

	timing := result.ExecutionTime() + throughput(result.ExecutionTimeSec, result.ExecutionOps)
	if len(parts) == 0 {
		fmt.Fprintf(w, "OK (%s)\n", timing)
	} else {
		fmt.Fprintf(w, "%s (%s)\n", strings.Join(parts, ", "), timing)
	}
}
