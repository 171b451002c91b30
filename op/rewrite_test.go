package op

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/w4cha/csv-manager/core"
)

func TestRewriteCommitRenumbers(t *testing.T) {
	_, table := setupTable(t)
	for _, name := range []string{"a", "b", "c", "d"} {
		table.Append(name, "1")
	}

	rw, err := table.BeginRewrite()
	if err != nil {
		t.Fatalf("BeginRewrite failed: %v", err)
	}
	for row, err := range table.Scan() {
		if err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		if row[1] == "b" {
			continue
		}
		if err := rw.Write(row); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if _, err := rw.Commit("Deleting b"); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	want := []core.Row{
		{"[1]", "a", "1"},
		{"[2]", "c", "1"},
		{"[3]", "d", "1"},
	}
	if got := collect(t, table); !reflect.DeepEqual(got, want) {
		t.Errorf("Rows after rewrite:\n got  %v\n want %v", got, want)
	}
	if table.RowCount() != 3 {
		t.Errorf("Expected 3 rows, got %d", table.RowCount())
	}

	history, _ := table.History()
	if history[0].Message != "Deleting b" {
		t.Errorf("Expected rewrite to be recorded, got %q", history[0].Message)
	}
}

func TestRewriteAbortLeavesFileUntouched(t *testing.T) {
	persistence, table := setupTable(t)
	table.Append("a", "1")
	before, _ := persistence.ReadFile("people.csv")

	rw, err := table.BeginRewrite()
	if err != nil {
		t.Fatalf("BeginRewrite failed: %v", err)
	}
	rw.Write(core.Row{"[1]", "changed", "2"})
	rw.Abort()
	rw.Abort()

	after, _ := persistence.ReadFile("people.csv")
	if string(before) != string(after) {
		t.Errorf("Expected file to be untouched, got %q", after)
	}

	if persistence.Exists(rw.tmp) {
		t.Errorf("Expected %s to be removed", rw.tmp)
	}
	if _, err := rw.Commit("late"); !errors.Is(err, ErrRewriteClosed) {
		t.Errorf("Expected ErrRewriteClosed, got %v", err)
	}
	if err := rw.Write(core.Row{"[1]", "x", "y"}); !errors.Is(err, ErrRewriteClosed) {
		t.Errorf("Expected ErrRewriteClosed, got %v", err)
	}
}

func TestRewriteIsExclusive(t *testing.T) {
	_, table := setupTable(t)

	rw, err := table.BeginRewrite()
	if err != nil {
		t.Fatalf("BeginRewrite failed: %v", err)
	}
	if _, err := table.BeginRewrite(); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy, got %v", err)
	}
	if _, err := table.Append("a", "1"); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy for append, got %v", err)
	}
	rw.Abort()

	if _, err := table.Append("a", "1"); err != nil {
		t.Errorf("Expected append to succeed after abort, got %v", err)
	}
}

func TestRewriteKeepsHeaderWhenEmpty(t *testing.T) {
	persistence, table := setupTable(t)
	table.Append("a", "1")

	rw, _ := table.BeginRewrite()
	if _, err := rw.Commit("Deleting all rows"); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	data, _ := persistence.ReadFile("people.csv")
	if !strings.HasPrefix(string(data), "INDICE|NAME|AGE") || table.RowCount() != 0 {
		t.Errorf("Expected header only, got %q (%d rows)", data, table.RowCount())
	}
}
