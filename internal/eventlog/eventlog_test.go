package eventlog

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAndHistory(t *testing.T) {
	db := openTestDB(t)

	if err := db.Record("ubuntu", "create", "", true); err != nil {
		t.Fatal(err)
	}
	if err := db.Record("ubuntu", "start", "", true); err != nil {
		t.Fatal(err)
	}
	if err := db.Record("ubuntu", "stop", "timed out waiting for shutdown", false); err != nil {
		t.Fatal(err)
	}

	events, err := db.History("ubuntu")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	if events[0].Action != "stop" || events[0].Succeeded {
		t.Fatalf("events[0] = %+v, want most-recent stop/failed", events[0])
	}
	if events[2].Action != "create" {
		t.Fatalf("events[2].Action = %q, want create", events[2].Action)
	}
}

func TestHistoryEmptyForUnknownVM(t *testing.T) {
	db := openTestDB(t)
	events, err := db.History("nonexistent")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("len(events) = %d, want 0", len(events))
	}
}

func TestPruneDeletesOldRows(t *testing.T) {
	db := openTestDB(t)
	if err := db.Record("ubuntu", "create", "", true); err != nil {
		t.Fatal(err)
	}

	n, err := db.Prune(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("Prune removed %d rows, want 1", n)
	}

	events, err := db.History("ubuntu")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("expected events pruned, got %d", len(events))
	}
}
