package ps

import (
	"errors"
	"testing"
)

func TestRecordAndVersions(t *testing.T) {
	persistence := newTestPersistence(t)

	persistence.WriteFile("people.csv", []byte("v1"))
	first, err := persistence.Record("people.csv", testIdentity, "Creating people")
	if err != nil {
		t.Fatalf("Failed to record: %v", err)
	}
	if first.Id == "" {
		t.Fatal("Expected transaction ID to be set")
	}
	if first.Author != "test <test@test.com>" {
		t.Errorf("Unexpected author %q", first.Author)
	}

	// unchanged content does not create a commit
	same, err := persistence.Record("people.csv", testIdentity, "Nothing")
	if err != nil {
		t.Fatalf("Failed to record: %v", err)
	}
	if same.Id != first.Id {
		t.Errorf("Expected %s for unchanged content, got %s", first.Id, same.Id)
	}

	persistence.WriteFile("other.csv", []byte("x"))
	persistence.Record("other.csv", testIdentity, "Creating other")

	persistence.WriteFile("people.csv", []byte("v2"))
	second, err := persistence.Record("people.csv", testIdentity, "Updating people")
	if err != nil {
		t.Fatalf("Failed to record: %v", err)
	}

	versions, err := persistence.Versions("people.csv")
	if err != nil {
		t.Fatalf("Failed to list versions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("Expected 2 versions, got %d: %v", len(versions), versions)
	}
	if versions[0].Id != second.Id || versions[1].Id != first.Id {
		t.Errorf("Unexpected version order: %v", versions)
	}
	if versions[0].Message != "Updating people" {
		t.Errorf("Unexpected message %q", versions[0].Message)
	}

	data, err := persistence.ReadAt("people.csv", first.Id)
	if err != nil {
		t.Fatalf("Failed to read old version: %v", err)
	}
	if string(data) != "v1" {
		t.Errorf("Expected v1, got %q", data)
	}
}

func TestForgetAndRename(t *testing.T) {
	persistence := newTestPersistence(t)

	persistence.WriteFile("old.csv", []byte("data"))
	created, _ := persistence.Record("old.csv", testIdentity, "Creating old")

	if err := persistence.Rename("old.csv", "new.csv"); err != nil {
		t.Fatalf("Failed to rename: %v", err)
	}
	if _, err := persistence.RecordRename("old.csv", "new.csv", testIdentity, "Renaming old to new"); err != nil {
		t.Fatalf("Failed to record rename: %v", err)
	}

	if _, err := persistence.ReadAt("old.csv", persistence.LatestTransaction().Id); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Expected old.csv to be gone at HEAD, got %v", err)
	}
	data, err := persistence.ReadAt("new.csv", persistence.LatestTransaction().Id)
	if err != nil || string(data) != "data" {
		t.Errorf("Expected new.csv at HEAD, got %q, %v", data, err)
	}

	persistence.Remove("new.csv")
	dropped, err := persistence.Forget("new.csv", testIdentity, "Dropping new")
	if err != nil {
		t.Fatalf("Failed to forget: %v", err)
	}

	versions, _ := persistence.Versions("old.csv")
	if len(versions) != 2 || versions[1].Id != created.Id {
		t.Errorf("Expected creation and rename versions of old.csv, got %v", versions)
	}
	versions, _ = persistence.Versions("new.csv")
	if len(versions) != 2 || versions[0].Id != dropped.Id {
		t.Errorf("Expected rename and drop versions of new.csv, got %v", versions)
	}
}

func TestRestore(t *testing.T) {
	persistence := newTestPersistence(t)

	persistence.WriteFile("people.csv", []byte("v1"))
	first, _ := persistence.Record("people.csv", testIdentity, "v1")
	persistence.WriteFile("people.csv", []byte("v2"))
	persistence.Record("people.csv", testIdentity, "v2")

	txn, err := persistence.FindTransaction("people.csv", first.ShortId())
	if err != nil {
		t.Fatalf("Failed to find transaction: %v", err)
	}

	restored, err := persistence.Restore("people.csv", txn, testIdentity)
	if err != nil {
		t.Fatalf("Failed to restore: %v", err)
	}
	if restored.Id == first.Id {
		t.Error("Expected restore to record a new transaction")
	}

	data, _ := persistence.ReadFile("people.csv")
	if string(data) != "v1" {
		t.Errorf("Expected v1 after restore, got %q", data)
	}
	versions, _ := persistence.Versions("people.csv")
	if len(versions) != 3 {
		t.Errorf("Expected 3 versions, got %d", len(versions))
	}
}

func TestFindTransactionUnknown(t *testing.T) {
	persistence := newTestPersistence(t)

	persistence.WriteFile("people.csv", []byte("v1"))
	persistence.Record("people.csv", testIdentity, "v1")

	if _, err := persistence.FindTransaction("people.csv", "zzzz"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Expected ErrFileNotFound, got %v", err)
	}
}
