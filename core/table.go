package core

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultIndexColumn = "INDICE"
	DefaultDelimiter   = '|'
	DefaultMaxRows     = 50000
	DefaultMaxColumns  = 20

	// FileExtension is appended to a table name to build its file name.
	FileExtension = ".csv"
)

var (
	ErrInvalidName      = errors.New("invalid table name")
	ErrInvalidDelimiter = errors.New("delimiter must be exactly one character")
	ErrInvalidColumn    = errors.New("invalid column name")
	ErrDuplicateColumn  = errors.New("duplicate column name")
	ErrEmptyHeader      = errors.New("header needs at least one column besides the index")
	ErrUnknownExclude   = errors.New("excluded column is not present")
)

// Identity is the author of a change.
type Identity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Limits struct {
	MaxRows    int `json:"maxRows"`
	MaxColumns int `json:"maxColumns"`
}

func DefaultLimits() Limits {
	return Limits{MaxRows: DefaultMaxRows, MaxColumns: DefaultMaxColumns}
}

type Table struct {
	Name      string   `json:"name"`
	Delimiter rune     `json:"delimiter"`
	Header    []string `json:"header"`
	Limits    Limits   `json:"limits"`
}

func (table Table) FileName() string {
	return table.Name + FileExtension
}

func (table Table) IndexColumn() string {
	if len(table.Header) == 0 {
		return ""
	}
	return table.Header[0]
}

// ColumnIndex returns the position of a column in the header. Names are
// matched case-insensitively.
func (table Table) ColumnIndex(name string) (int, bool) {
	return ColumnIndex(table.Header, name)
}

func (table Table) Validate() error {
	if err := ValidateName(table.Name); err != nil {
		return err
	}
	if err := ValidateDelimiter(table.Delimiter); err != nil {
		return err
	}
	if len(table.Header) < 2 {
		return ErrEmptyHeader
	}
	seen := make(map[string]bool, len(table.Header))
	for _, column := range table.Header {
		if !IsIdentifier(column) {
			return fmt.Errorf("%w: %q", ErrInvalidColumn, column)
		}
		upper := strings.ToUpper(column)
		if seen[upper] {
			return fmt.Errorf("%w: %q", ErrDuplicateColumn, column)
		}
		seen[upper] = true
	}
	return nil
}

// ColumnIndex finds name in header ignoring case.
func ColumnIndex(header []string, name string) (int, bool) {
	for i, column := range header {
		if strings.EqualFold(column, name) {
			return i, true
		}
	}
	return -1, false
}

// ValidateName accepts names made of letters, digits, '_' and '-'.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	for _, r := range name {
		if r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		return fmt.Errorf("%w: %q may only contain letters, digits, '_' and '-'", ErrInvalidName, name)
	}
	return nil
}

func ValidateDelimiter(delimiter rune) error {
	switch delimiter {
	case 0, '\r', '\n', '"', utf8.RuneError:
		return ErrInvalidDelimiter
	}
	return nil
}

// ParseDelimiter turns a one character string into a delimiter rune.
func ParseDelimiter(s string) (rune, error) {
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("%w: got %q", ErrInvalidDelimiter, s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	if err := ValidateDelimiter(r); err != nil {
		return 0, fmt.Errorf("%w: got %q", err, s)
	}
	return r, nil
}

// IsIdentifier reports whether name can be used as a column name: a
// letter or underscore followed by letters, digits or underscores.
func IsIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && unicode.IsDigit(r):
		default:
			return false
		}
	}
	return true
}

// DeriveHeader builds a validated header from field names. The index column
// goes first and every name is uppercased. exclude drops the listed fields;
// when its first element is "!" only the listed fields are kept instead.
func DeriveHeader(index string, fields []string, exclude []string) ([]string, error) {
	if !IsIdentifier(index) {
		return nil, fmt.Errorf("%w: index %q", ErrInvalidColumn, index)
	}

	include := len(exclude) > 0 && exclude[0] == "!"
	if include {
		exclude = exclude[1:]
	}

	listed := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		if _, ok := ColumnIndex(fields, name); !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownExclude, name)
		}
		listed[strings.ToUpper(name)] = true
	}

	header := []string{strings.ToUpper(index)}
	seen := map[string]bool{header[0]: true}
	for _, field := range fields {
		upper := strings.ToUpper(strings.TrimSpace(field))
		if listed[upper] != include {
			continue
		}
		if !IsIdentifier(upper) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidColumn, field)
		}
		if seen[upper] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, field)
		}
		seen[upper] = true
		header = append(header, upper)
	}

	if len(header) < 2 {
		return nil, ErrEmptyHeader
	}
	return header, nil
}
