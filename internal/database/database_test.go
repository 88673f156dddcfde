package database

import (
	"path/filepath"
	"testing"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNew(t *testing.T) {
	db := newTestDB(t)

	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}
	if db.Driver() != "sqlite" {
		t.Errorf("Driver() = %q, want sqlite for a file path", db.Driver())
	}
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New("/invalid/path/that/does/not/exist/test.db")
	if err == nil {
		t.Fatal("Expected error for invalid path, got nil")
	}
}

func TestInitialize(t *testing.T) {
	db := newTestDB(t)

	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	tables := []string{
		"providers",
		"agents",
		"instances",
		"canvas_nodes",
		"canvas_links",
		"settings",
	}

	for _, table := range tables {
		var name string
		query := "SELECT name FROM sqlite_master WHERE type='table' AND name=?"
		err := db.QueryRow(query, table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}

func TestInitialize_ForeignKeys(t *testing.T) {
	db := newTestDB(t)

	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	var fkEnabled int
	err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled)
	if err != nil {
		t.Fatalf("Failed to check foreign keys: %v", err)
	}

	if fkEnabled != 1 {
		t.Error("Foreign keys are not enabled")
	}
}

func TestInitialize_Indexes(t *testing.T) {
	db := newTestDB(t)

	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	indexes := []string{
		"idx_instances_agent",
		"idx_nodes_instance",
		"idx_links_from",
		"idx_links_to",
	}

	for _, index := range indexes {
		var name string
		query := "SELECT name FROM sqlite_master WHERE type='index' AND name=?"
		err := db.QueryRow(query, index).Scan(&name)
		if err != nil {
			t.Errorf("Index %s was not created: %v", index, err)
		}
	}
}

func TestInitialize_Idempotent(t *testing.T) {
	db := newTestDB(t)

	// Initialize multiple times - should not error
	if err := db.Initialize(); err != nil {
		t.Fatalf("First initialization failed: %v", err)
	}

	if err := db.Initialize(); err != nil {
		t.Fatalf("Second initialization failed: %v", err)
	}

	if err := db.Initialize(); err != nil {
		t.Fatalf("Third initialization failed: %v", err)
	}
}

func TestCascadeDelete(t *testing.T) {
	db := newTestDB(t)

	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	_, err := db.Exec(`INSERT INTO agents (id, name, config) VALUES (?, ?, ?)`,
		"agent-1", "Weather Bot", "{}")
	if err != nil {
		t.Fatalf("Failed to insert agent: %v", err)
	}

	_, err = db.Exec(`INSERT INTO instances (id, agent_id, name, config) VALUES (?, ?, ?, ?)`,
		"inst-1", "agent-1", "Weather Bot", "{}")
	if err != nil {
		t.Fatalf("Failed to insert instance: %v", err)
	}

	_, err = db.Exec(`INSERT INTO canvas_nodes (id, instance_id) VALUES (?, ?)`,
		"node-1", "inst-1")
	if err != nil {
		t.Fatalf("Failed to insert canvas node: %v", err)
	}

	if _, err := db.Exec("DELETE FROM agents WHERE id = ?", "agent-1"); err != nil {
		t.Fatalf("Failed to delete agent: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM instances").Scan(&count); err != nil {
		t.Fatalf("Failed to count instances: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected cascade to remove instances, found %d", count)
	}

	if err := db.QueryRow("SELECT COUNT(*) FROM canvas_nodes").Scan(&count); err != nil {
		t.Fatalf("Failed to count canvas nodes: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected cascade to remove canvas nodes, found %d", count)
	}
}

func TestDatabase_ForeignKeyConstraints(t *testing.T) {
	db := newTestDB(t)

	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	// Instance without a parent agent should be rejected
	_, err := db.Exec(`INSERT INTO instances (id, agent_id, name, config) VALUES (?, ?, ?, ?)`,
		"inst-1", "missing-agent", "Orphan", "{}")

	if err == nil {
		t.Error("Expected foreign key constraint error, got nil")
	}
}
