// Package eventlog is a supplemental, non-authoritative lifecycle audit
// trail: every create/start/stop/delete/rescue transition gets one append
// row, for operators to answer "what happened to this VM and when" without
// grepping per-VM log files. It is explicitly NOT the VM store — spec §4.3
// requires list_vms() to be a directory scan of config.json, and nothing
// here gates or blocks a store operation if the audit write fails.
// Grounded on the teacher's internal/registry/db.go (modernc.org/sqlite,
// WAL mode, migrate-on-open) and instances.go's insert/select idiom.
package eventlog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps a pure-Go SQLite database recording VM lifecycle events.
type DB struct {
	db *sql.DB
}

// Event is one audit row.
type Event struct {
	ID        int64
	VMName    string
	Action    string // create, start, stop, crashed, delete, rescue, edit, resize
	Detail    string // free-form, e.g. an error message on failure
	Succeeded bool
	At        time.Time
}

// Open opens (or creates) the SQLite database at dbPath.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) migrate() error {
	_, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			vm_name    TEXT NOT NULL,
			action     TEXT NOT NULL,
			detail     TEXT NOT NULL DEFAULT '',
			succeeded  INTEGER NOT NULL DEFAULT 1,
			at         TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_vm_name ON events(vm_name)`)
	return err
}

// Record appends one event row. Callers treat a Record error as
// best-effort — a failed audit write never blocks the operation it
// describes.
func (d *DB) Record(vmName, action, detail string, succeeded bool) error {
	_, err := d.db.Exec(
		`INSERT INTO events (vm_name, action, detail, succeeded, at) VALUES (?, ?, ?, ?, ?)`,
		vmName, action, detail, boolToInt(succeeded), time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// History returns vmName's events, most recent first.
func (d *DB) History(vmName string) ([]Event, error) {
	rows, err := d.db.Query(
		`SELECT id, vm_name, action, detail, succeeded, at FROM events WHERE vm_name = ? ORDER BY id DESC`,
		vmName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var succeeded int
		var at string
		if err := rows.Scan(&e.ID, &e.VMName, &e.Action, &e.Detail, &succeeded, &at); err != nil {
			return nil, err
		}
		e.Succeeded = succeeded != 0
		e.At, _ = time.Parse(time.RFC3339, at)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune deletes events older than olderThan, keeping the table from
// growing unbounded on long-lived hosts.
func (d *DB) Prune(olderThan time.Time) (int64, error) {
	res, err := d.db.Exec(`DELETE FROM events WHERE at < ?`, olderThan.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
