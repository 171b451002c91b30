package core

import (
	"errors"
	"reflect"
	"testing"
)

func TestDeriveHeader(t *testing.T) {
	tests := []struct {
		name    string
		fields  []string
		exclude []string
		want    []string
		err     error
	}{
		{
			name:   "all fields",
			fields: []string{"name", "age", "city"},
			want:   []string{"INDICE", "NAME", "AGE", "CITY"},
		},
		{
			name:    "exclude",
			fields:  []string{"entry", "release", "title"},
			exclude: []string{"ENTRY"},
			want:    []string{"INDICE", "RELEASE", "TITLE"},
		},
		{
			name:    "include only",
			fields:  []string{"entry", "release", "title"},
			exclude: []string{"!", "title"},
			want:    []string{"INDICE", "TITLE"},
		},
		{
			name:    "unknown exclude",
			fields:  []string{"a", "b"},
			exclude: []string{"c"},
			err:     ErrUnknownExclude,
		},
		{
			name:   "duplicate",
			fields: []string{"a", "A"},
			err:    ErrDuplicateColumn,
		},
		{
			name:   "collides with index",
			fields: []string{"indice", "a"},
			err:    ErrDuplicateColumn,
		},
		{
			name:   "invalid identifier",
			fields: []string{"first name"},
			err:    ErrInvalidColumn,
		},
		{
			name:    "nothing left",
			fields:  []string{"a"},
			exclude: []string{"a"},
			err:     ErrEmptyHeader,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeriveHeader(DefaultIndexColumn, tt.fields, tt.exclude)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("expected %v, got %v", tt.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DeriveHeader failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTableValidate(t *testing.T) {
	table := Table{Name: "people-2024", Delimiter: '#', Header: []string{"INDICE", "NAME"}, Limits: DefaultLimits()}
	if err := table.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	bad := table
	bad.Name = "../etc"
	if err := bad.Validate(); !errors.Is(err, ErrInvalidName) {
		t.Errorf("expected ErrInvalidName, got %v", err)
	}

	bad = table
	bad.Delimiter = '"'
	if err := bad.Validate(); !errors.Is(err, ErrInvalidDelimiter) {
		t.Errorf("expected ErrInvalidDelimiter, got %v", err)
	}

	if i, ok := table.ColumnIndex("name"); !ok || i != 1 {
		t.Errorf("ColumnIndex(name) = %d, %v", i, ok)
	}
}

func TestParseDelimiter(t *testing.T) {
	if r, err := ParseDelimiter("#"); err != nil || r != '#' {
		t.Fatalf("ParseDelimiter(#) = %q, %v", r, err)
	}
	for _, bad := range []string{"", "##", "\n", "\""} {
		if _, err := ParseDelimiter(bad); !errors.Is(err, ErrInvalidDelimiter) {
			t.Errorf("ParseDelimiter(%q) expected ErrInvalidDelimiter, got %v", bad, err)
		}
	}
}
