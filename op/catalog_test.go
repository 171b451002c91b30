package op

import (
	"errors"
	"reflect"
	"testing"

	"github.com/w4cha/csv-manager/core"
	"github.com/w4cha/csv-manager/ps"
)

func TestCatalog(t *testing.T) {
	persistence, err := ps.NewMemoryPersistence()
	if err != nil {
		t.Fatalf("Failed to create persistence: %v", err)
	}
	catalog := NewCatalog(persistence, WithIdentity(testIdentity))

	people, err := catalog.CreateTable("people", "indice", []string{"name", "age", "email"}, []string{"email"})
	if err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if !reflect.DeepEqual(people.Header(), core.Row{"INDICE", "NAME", "AGE"}) {
		t.Errorf("Unexpected header %v", people.Header())
	}
	if _, err := catalog.CreateTable("jobs", "ID", []string{"title", "salary"}, []string{"!", "title"}); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	names, _ := catalog.TableNames()
	if !reflect.DeepEqual(names, []string{"jobs", "people"}) {
		t.Errorf("Unexpected table names %v", names)
	}

	if _, err := catalog.RenameTable("jobs", "people"); !errors.Is(err, ErrTableExists) {
		t.Errorf("Expected ErrTableExists, got %v", err)
	}
	if _, err := catalog.RenameTable("nope", "x"); !errors.Is(err, ErrTableNotFound) {
		t.Errorf("Expected ErrTableNotFound, got %v", err)
	}
	if _, err := catalog.RenameTable("jobs", "roles"); err != nil {
		t.Fatalf("RenameTable failed: %v", err)
	}

	roles, err := catalog.GetTable("roles")
	if err != nil {
		t.Fatalf("GetTable failed: %v", err)
	}
	if !reflect.DeepEqual(roles.Header(), core.Row{"ID", "TITLE"}) {
		t.Errorf("Unexpected header %v", roles.Header())
	}

	dropped, err := catalog.DropTables(DropAll)
	if err != nil {
		t.Fatalf("DropTables failed: %v", err)
	}
	if !reflect.DeepEqual(dropped, []string{"people", "roles"}) {
		t.Errorf("Unexpected dropped tables %v", dropped)
	}
	names, _ = catalog.TableNames()
	if len(names) != 0 {
		t.Errorf("Expected no tables, got %v", names)
	}
}
