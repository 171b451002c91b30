package core

import (
	"strconv"
	"strings"
)

// Row is one stored record. Field 0 is the index field "[k]".
type Row []string

func (row Row) Clone() Row {
	if row == nil {
		return nil
	}
	out := make(Row, len(row))
	copy(out, row)
	return out
}

// Join renders the row the way it is shown to callers after a delete.
func (row Row) Join(delimiter rune) string {
	return strings.Join(row, string(delimiter))
}

// IndexField renders ordinal k as an index field.
func IndexField(k int) string {
	return "[" + strconv.Itoa(k) + "]"
}

// ParseIndexField extracts k from "[k]".
func ParseIndexField(field string) (int, bool) {
	if len(field) < 3 || field[0] != '[' || field[len(field)-1] != ']' {
		return 0, false
	}
	k, err := strconv.Atoi(field[1 : len(field)-1])
	if err != nil || k < 1 {
		return 0, false
	}
	return k, true
}

// StripIndex returns the number inside an index field, or the field
// unchanged when it is not bracketed.
func StripIndex(field string) string {
	if len(field) >= 2 && field[0] == '[' && field[len(field)-1] == ']' {
		return field[1 : len(field)-1]
	}
	return field
}
